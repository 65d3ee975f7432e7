package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type secretBatchResultDTO struct {
	Path  string   `json:"path"`
	Item  *itemDTO `json:"item,omitempty"`
	Value string   `json:"value,omitempty"`
	Error string   `json:"error,omitempty"`
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate and fetch server-managed secrets in a shared vault",
}

var secretGetCmd = &cobra.Command{
	Use:   "get <vault-id> <path>",
	Short: "Fetch a generated secret's current value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		var resp struct {
			Value string `json:"value"`
		}
		if err := c.get(cmd.Context(), "/v1/vaults/"+args[0]+"/secrets/"+args[1], &resp); err != nil {
			return err
		}
		fmt.Println(resp.Value)
		return nil
	},
}

var secretEnsureCmd = &cobra.Command{
	Use:   "ensure <vault-id> <path>",
	Short: "Ensure a generated secret exists at path, creating it under policy if absent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		policy, _ := cmd.Flags().GetString("policy")
		var resp itemDTO
		if err := c.post(cmd.Context(), "/v1/vaults/"+args[0]+"/secrets/ensure",
			map[string]any{"path": args[1], "policy": policy}, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var secretRotateCmd = &cobra.Command{
	Use:   "rotate <vault-id> <path>",
	Short: "Rotate a generated secret to a freshly generated value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		policy, _ := cmd.Flags().GetString("policy")
		rowVersion, _ := cmd.Flags().GetInt64("row-version")
		var resp itemDTO
		if err := c.post(cmd.Context(), "/v1/vaults/"+args[0]+"/secrets/rotate",
			map[string]any{"path": args[1], "policy": policy, "row_version": rowVersion}, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var secretBatchEnsureCmd = &cobra.Command{
	Use:   "batch-ensure <vault-id> <path...>",
	Short: "Ensure several generated secrets at once; a single failure does not abort the rest",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		policy, _ := cmd.Flags().GetString("policy")
		items := make([]map[string]any, 0, len(args)-1)
		for _, p := range args[1:] {
			items = append(items, map[string]any{"path": p, "policy": policy})
		}
		var resp []secretBatchResultDTO
		if err := c.post(cmd.Context(), "/v1/vaults/"+args[0]+"/secrets/batch/ensure",
			map[string]any{"items": items}, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var secretBatchGetCmd = &cobra.Command{
	Use:   "batch-get <vault-id> <path...>",
	Short: "Fetch several generated secrets' values at once",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		var resp []secretBatchResultDTO
		if err := c.post(cmd.Context(), "/v1/vaults/"+args[0]+"/secrets/batch/get",
			map[string]any{"paths": args[1:]}, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

func init() {
	secretEnsureCmd.Flags().String("policy", "", "policy name (empty uses the default policy)")
	secretRotateCmd.Flags().String("policy", "", "policy name (empty uses the default policy)")
	secretRotateCmd.Flags().Int64("row-version", 0, "expected row_version for the optimistic lock")
	secretBatchEnsureCmd.Flags().String("policy", "", "policy name applied to every path in the batch")

	secretCmd.AddCommand(secretGetCmd, secretEnsureCmd, secretRotateCmd, secretBatchEnsureCmd, secretBatchGetCmd)
}
