package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/zann-project/zann/internal/crypto/keyhierarchy"
)

type itemDTO struct {
	ID         string    `json:"id"`
	VaultID    string    `json:"vault_id"`
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	TypeID     string    `json:"type_id"`
	Tags       []string  `json:"tags,omitempty"`
	Favorite   bool      `json:"favorite"`
	PayloadEnc []byte    `json:"payload_enc,omitempty"`
	Checksum   string    `json:"checksum"`
	Version    int64     `json:"version"`
	RowVersion int64     `json:"row_version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type historyDTO struct {
	Version    int64     `json:"version"`
	ChangeType string    `json:"change_type"`
	PayloadEnc []byte    `json:"payload_enc,omitempty"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
}

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage items within a vault",
}

var itemPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Create or update an item, encrypting its content under the vault key",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, sess, err := authedClient()
		if err != nil {
			return err
		}
		vaultID, _ := cmd.Flags().GetString("vault")
		path, _ := cmd.Flags().GetString("path")
		typeID, _ := cmd.Flags().GetString("type")
		content, _ := cmd.Flags().GetString("content")
		favorite, _ := cmd.Flags().GetBool("favorite")
		rowVersion, _ := cmd.Flags().GetInt64("row-version")
		existingItem, _ := cmd.Flags().GetString("item")
		if vaultID == "" || path == "" {
			return fmt.Errorf("need --vault and --path")
		}

		vid, err := uuid.FromString(vaultID)
		if err != nil {
			return err
		}
		vk, err := resolveVaultKey(cmd.Context(), c, sess, vaultID)
		if err != nil {
			return err
		}

		// The item id binds the payload AAD (spec.md §4.2) and must match
		// whatever id the update targets. On create there is no existing id
		// yet, so one is picked here and pinned up front the same way a
		// Personal vault's id is pinned at creation.
		itemID := uuid.UUID{}
		if existingItem != "" {
			itemID, err = uuid.FromString(existingItem)
			if err != nil {
				return err
			}
		} else {
			itemID, err = uuid.NewV7()
			if err != nil {
				return err
			}
		}
		payloadEnc, err := keyhierarchy.WrapPayload(vk, vid, itemID, []byte(content))
		if err != nil {
			return err
		}

		req := map[string]any{
			"path": path, "type_id": typeID, "favorite": favorite,
			"payload_enc": []byte(payloadEnc), "row_version": rowVersion,
		}
		var resp itemDTO
		if existingItem != "" {
			err = c.put(cmd.Context(), "/v1/vaults/"+vaultID+"/items/"+itemID.String()+"/", req, &resp)
		} else {
			req["id"] = itemID.String()
			err = c.post(cmd.Context(), "/v1/vaults/"+vaultID+"/items/", req, &resp)
		}
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List items in a vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		vaultID, _ := cmd.Flags().GetString("vault")
		if vaultID == "" {
			return fmt.Errorf("need --vault")
		}
		var resp []itemDTO
		if err := c.get(cmd.Context(), "/v1/vaults/"+vaultID+"/items/", &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var itemGetCmd = &cobra.Command{
	Use:   "get <vault-id> <item-id>",
	Short: "Fetch an item and decrypt its payload",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, sess, err := authedClient()
		if err != nil {
			return err
		}
		vaultID, itemID := args[0], args[1]
		var it itemDTO
		if err := c.get(cmd.Context(), "/v1/vaults/"+vaultID+"/items/"+itemID+"/", &it); err != nil {
			return err
		}

		vid, err := uuid.FromString(vaultID)
		if err != nil {
			return err
		}
		iid, err := uuid.FromString(itemID)
		if err != nil {
			return err
		}
		vk, err := resolveVaultKey(cmd.Context(), c, sess, vaultID)
		if err != nil {
			return err
		}
		pt, err := keyhierarchy.UnwrapPayload(vk, vid, iid, it.PayloadEnc)
		if err != nil {
			return err
		}
		fmt.Println(string(pt))
		return nil
	},
}

var itemDeleteCmd = &cobra.Command{
	Use:   "delete <vault-id> <item-id>",
	Short: "Tombstone an item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		rowVersion, _ := cmd.Flags().GetInt64("row-version")
		var resp itemDTO
		if err := c.delete(cmd.Context(), "/v1/vaults/"+args[0]+"/items/"+args[1]+"/",
			map[string]any{"row_version": rowVersion}, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var itemVersionsCmd = &cobra.Command{
	Use:   "versions <vault-id> <item-id>",
	Short: "List an item's history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		var resp []historyDTO
		if err := c.get(cmd.Context(), "/v1/vaults/"+args[0]+"/items/"+args[1]+"/versions", &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var itemRestoreCmd = &cobra.Command{
	Use:   "restore <vault-id> <item-id> <version>",
	Short: "Restore an item to a prior version",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		if _, err := strconv.ParseInt(args[2], 10, 64); err != nil {
			return fmt.Errorf("version must be an integer: %w", err)
		}
		rowVersion, _ := cmd.Flags().GetInt64("row-version")
		var resp itemDTO
		if err := c.post(cmd.Context(),
			"/v1/vaults/"+args[0]+"/items/"+args[1]+"/versions/"+args[2]+"/restore",
			map[string]any{"row_version": rowVersion}, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

func init() {
	itemPutCmd.Flags().String("vault", "", "vault id")
	itemPutCmd.Flags().String("path", "", "item path")
	itemPutCmd.Flags().String("type", "note", "item type id")
	itemPutCmd.Flags().String("content", "", "plaintext content to encrypt")
	itemPutCmd.Flags().Bool("favorite", false, "mark the item as favorite")
	itemPutCmd.Flags().String("item", "", "existing item id to update; empty creates a new item")
	itemPutCmd.Flags().Int64("row-version", 0, "expected row_version for the optimistic lock (used on update)")

	itemListCmd.Flags().String("vault", "", "vault id")

	itemDeleteCmd.Flags().Int64("row-version", 0, "expected row_version for the optimistic lock")
	itemRestoreCmd.Flags().Int64("row-version", 0, "expected row_version for the optimistic lock")

	itemCmd.AddCommand(itemPutCmd, itemListCmd, itemGetCmd, itemDeleteCmd, itemVersionsCmd, itemRestoreCmd)
}
