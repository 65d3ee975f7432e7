package main

import (
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/zann-project/zann/internal/crypto/envelope"
	"github.com/zann-project/zann/internal/crypto/keyhierarchy"
)

type vaultDTO struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Encryption  string   `json:"encryption"`
	VaultKeyEnc []byte   `json:"vault_key_enc"`
	Tags        []string `json:"tags,omitempty"`
	RowVersion  int64    `json:"row_version"`
}

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage vaults",
}

var vaultCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		slug, _ := cmd.Flags().GetString("slug")
		name, _ := cmd.Flags().GetString("name")
		kind, _ := cmd.Flags().GetString("kind")
		if slug == "" || name == "" {
			return fmt.Errorf("need --slug and --name")
		}

		req := map[string]any{
			"slug": slug, "name": name, "kind": kind, "encryption": encryptionForKind(kind),
		}

		// A Shared vault's key is minted and SMK-wrapped by the server: the
		// client never supplies vault_key_enc for one. A Personal vault's
		// key is generated here and wrapped under the locally cached Master
		// Key, bound to a client-chosen vault id (server-assigned ids are
		// not known yet at wrap time).
		if kind != "shared" {
			mk, err := loadMasterKey()
			if err != nil {
				return err
			}
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			vk, err := envelope.RandomKey()
			if err != nil {
				return err
			}
			wrapped, err := keyhierarchy.WrapVaultKeyWithMK(mk, id, vk)
			if err != nil {
				return err
			}
			req["id"] = id.String()
			req["vault_key_enc"] = []byte(wrapped)
		}

		var resp vaultDTO
		if err := c.post(cmd.Context(), "/v1/vaults/", req, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

func encryptionForKind(kind string) string {
	if kind == "shared" {
		return "server"
	}
	return "client"
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List vaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		var resp []vaultDTO
		if err := c.get(cmd.Context(), "/v1/vaults/", &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var vaultGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a vault by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		var resp vaultDTO
		if err := c.get(cmd.Context(), "/v1/vaults/"+args[0]+"/", &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var vaultUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a vault's name, cache policy, or tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		cachePolicy, _ := cmd.Flags().GetString("cache-policy")
		rowVersion, _ := cmd.Flags().GetInt64("row-version")

		req := map[string]any{"row_version": rowVersion, "name": name, "cache_policy": cachePolicy}
		var resp vaultDTO
		if err := c.put(cmd.Context(), "/v1/vaults/"+args[0]+"/", req, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var vaultDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := authedClient()
		if err != nil {
			return err
		}
		if err := c.delete(cmd.Context(), "/v1/vaults/"+args[0]+"/", nil, nil); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	vaultCreateCmd.Flags().String("slug", "", "vault slug")
	vaultCreateCmd.Flags().String("name", "", "vault name")
	vaultCreateCmd.Flags().String("kind", "personal", "vault kind: personal or shared")

	vaultUpdateCmd.Flags().String("name", "", "new vault name")
	vaultUpdateCmd.Flags().String("cache-policy", "allow", "cache policy: allow or deny")
	vaultUpdateCmd.Flags().Int64("row-version", 0, "expected row_version for the optimistic lock")

	vaultCmd.AddCommand(vaultCreateCmd, vaultListCmd, vaultGetCmd, vaultUpdateCmd, vaultDeleteCmd)
}
