package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rotationCmd = &cobra.Command{
	Use:   "rotation",
	Short: "Drive the server-side password rotation state machine for a shared item",
}

var rotationStartCmd = &cobra.Command{
	Use:   "start <item-id>",
	Short: "Start rotation: stage a freshly generated candidate value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		var resp struct {
			State string `json:"state"`
		}
		if err := c.post(cmd.Context(), "/v1/shared/items/"+args[0]+"/rotate/start",
			map[string]any{"force": force}, &resp); err != nil {
			return err
		}
		fmt.Println(resp.State)
		return nil
	},
}

var rotationStatusCmd = &cobra.Command{
	Use:   "status <item-id>",
	Short: "Show the rotation state: absent, rotating, or stale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		var resp struct {
			State string `json:"state"`
		}
		if err := c.get(cmd.Context(), "/v1/shared/items/"+args[0]+"/rotate/status", &resp); err != nil {
			return err
		}
		fmt.Println(resp.State)
		return nil
	},
}

var rotationCandidateCmd = &cobra.Command{
	Use:   "candidate <item-id>",
	Short: "Read the staged candidate value while rotating or stale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		var resp struct {
			Candidate string `json:"candidate"`
		}
		if err := c.get(cmd.Context(), "/v1/shared/items/"+args[0]+"/rotate/candidate", &resp); err != nil {
			return err
		}
		fmt.Println(resp.Candidate)
		return nil
	},
}

var rotationRecoverCmd = &cobra.Command{
	Use:   "recover <item-id>",
	Short: "Recover the candidate from a stale rotation inside the recover window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		var resp struct {
			Candidate string `json:"candidate"`
		}
		if err := c.post(cmd.Context(), "/v1/shared/items/"+args[0]+"/rotate/recover", nil, &resp); err != nil {
			return err
		}
		fmt.Println(resp.Candidate)
		return nil
	},
}

var rotationCommitCmd = &cobra.Command{
	Use:   "commit <item-id>",
	Short: "Commit the staged candidate as the item's live payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		rowVersion, _ := cmd.Flags().GetInt64("row-version")
		var resp struct {
			Status  string `json:"status"`
			Version int64  `json:"version"`
		}
		if err := c.post(cmd.Context(), "/v1/shared/items/"+args[0]+"/rotate/commit",
			map[string]any{"row_version": rowVersion}, &resp); err != nil {
			return err
		}
		fmt.Printf("%s version=%d\n", resp.Status, resp.Version)
		return nil
	},
}

var rotationAbortCmd = &cobra.Command{
	Use:   "abort <item-id>",
	Short: "Abort an in-flight or stale rotation, discarding the candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		var resp struct {
			State string `json:"state"`
		}
		if err := c.post(cmd.Context(), "/v1/shared/items/"+args[0]+"/rotate/abort",
			map[string]any{"reason": reason}, &resp); err != nil {
			return err
		}
		fmt.Println(resp.State)
		return nil
	},
}

func init() {
	rotationStartCmd.Flags().Bool("force", false, "restart rotation even if one is already in flight")
	rotationCommitCmd.Flags().Int64("row-version", 0, "expected row_version for the optimistic lock")
	rotationAbortCmd.Flags().String("reason", "", "reason recorded for the abort")

	rotationCmd.AddCommand(rotationStartCmd, rotationStatusCmd, rotationCandidateCmd,
		rotationRecoverCmd, rotationCommitCmd, rotationAbortCmd)
}
