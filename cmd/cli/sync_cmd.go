package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/zann-project/zann/internal/crypto/keyhierarchy"
)

type syncHistoryEntryDTO struct {
	Version    int64  `json:"version"`
	ChangeType string `json:"change_type"`
	PayloadEnc []byte `json:"payload_enc,omitempty"`
	Payload    []byte `json:"payload,omitempty"`
	Checksum   string `json:"checksum"`
}

type syncChangeDTO struct {
	ItemID      string                `json:"item_id"`
	Operation   string                `json:"operation"`
	Seq         int64                 `json:"seq"`
	UpdatedAt   string                `json:"updated_at,omitempty"`
	Checksum    string                `json:"checksum,omitempty"`
	PayloadEnc  []byte                `json:"payload_enc,omitempty"`
	Payload     []byte                `json:"payload,omitempty"`
	Path        string                `json:"path,omitempty"`
	Name        string                `json:"name,omitempty"`
	TypeID      string                `json:"type_id,omitempty"`
	HistoryTail []syncHistoryEntryDTO `json:"history_tail,omitempty"`
}

type pullResponse struct {
	Changes       []syncChangeDTO `json:"changes"`
	NextCursor    string          `json:"next_cursor"`
	HasMore       bool            `json:"has_more"`
	PushAvailable bool            `json:"push_available"`
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull and push the per-vault change log",
}

var syncPullCmd = &cobra.Command{
	Use:   "pull <vault-id>",
	Short: "Pull changes since a cursor, decrypting client-side for a personal vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, sess, err := authedClient()
		if err != nil {
			return err
		}
		cursor, _ := cmd.Flags().GetString("cursor")
		limit, _ := cmd.Flags().GetInt("limit")
		shared, _ := cmd.Flags().GetBool("shared")

		path := "/v1/sync/pull"
		if shared {
			path = "/v1/sync/shared/pull"
		}
		var resp pullResponse
		if err := c.post(cmd.Context(), path,
			map[string]any{"vault_id": args[0], "cursor": cursor, "limit": limit}, &resp); err != nil {
			return err
		}

		// A shared pull decrypts server-side; a personal pull carries
		// payload_enc as-is and must be decrypted here.
		if !shared {
			vid, err := uuid.FromString(args[0])
			if err != nil {
				return err
			}
			vk, err := resolveVaultKey(cmd.Context(), c, sess, args[0])
			if err != nil {
				return err
			}
			for i, ch := range resp.Changes {
				if len(ch.PayloadEnc) == 0 {
					continue
				}
				itemID, err := uuid.FromString(ch.ItemID)
				if err != nil {
					continue
				}
				if pt, err := keyhierarchy.UnwrapPayload(vk, vid, itemID, ch.PayloadEnc); err == nil {
					resp.Changes[i].Payload = pt
				}
			}
		}
		printJSON(resp)
		return nil
	},
}

var syncPushCmd = &cobra.Command{
	Use:   "push <vault-id> <changes.json>",
	Short: "Push a pre-built all-or-nothing batch of changes (payload_enc must already be encrypted under the vault key)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		shared, _ := cmd.Flags().GetBool("shared")

		raw, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		var changes []json.RawMessage
		if err := json.Unmarshal(raw, &changes); err != nil {
			return fmt.Errorf("decode %s: %w", args[1], err)
		}

		path := "/v1/sync/push"
		if shared {
			path = "/v1/sync/shared/push"
		}
		var resp json.RawMessage
		if err := c.post(cmd.Context(), path,
			map[string]any{"vault_id": args[0], "changes": changes}, &resp); err != nil {
			return err
		}
		fmt.Println(string(resp))
		return nil
	},
}

func init() {
	syncPullCmd.Flags().String("cursor", "", "opaque cursor from a previous pull; empty pulls from the start")
	syncPullCmd.Flags().Int("limit", 0, "max changes per page; 0 uses the server default")
	syncPullCmd.Flags().Bool("shared", false, "use the shared (server-decrypted) pull endpoint")
	syncPushCmd.Flags().Bool("shared", false, "use the shared push endpoint")

	syncCmd.AddCommand(syncPullCmd, syncPushCmd)
}
