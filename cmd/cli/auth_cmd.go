package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/zann-project/zann/internal/crypto/envelope"
)

type registerResponse struct {
	UserID string `json:"user_id"`
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new account",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if email == "" || password == "" {
			return fmt.Errorf("need --email and --password")
		}
		c := newClient(addr, "")
		var resp registerResponse
		if err := c.post(cmd.Context(), "/v1/auth/register",
			map[string]string{"email": email, "password": password}, &resp); err != nil {
			return err
		}
		fmt.Println(resp.UserID)
		return nil
	},
}

type preloginResponse struct {
	KDFSalt   []byte              `json:"kdf_salt"`
	KDFParams envelope.Params     `json:"kdf_params"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	KDFSalt      []byte `json:"kdf_salt"`
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and cache the session plus the derived Master Key",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		device, _ := cmd.Flags().GetString("device")
		if email == "" || password == "" {
			return fmt.Errorf("need --email and --password")
		}
		c := newClient(addr, "")

		var pre preloginResponse
		if err := c.get(cmd.Context(), "/v1/auth/prelogin?email="+url.QueryEscape(email), &pre); err != nil {
			return err
		}

		var resp loginResponse
		if err := c.post(cmd.Context(), "/v1/auth/login",
			map[string]string{"email": email, "password": password, "device_id": device}, &resp); err != nil {
			return err
		}

		// Derive the Master Key client-side (spec.md §4.1: the server never
		// sees the password or MK). The teacher CLI derived and cached a DEK
		// the same way at login; here it is the MK at the top of the vault
		// key hierarchy instead of a single flat DEK.
		mk, err := envelope.DeriveMasterKey([]byte(password), pre.KDFSalt, pre.KDFParams)
		if err != nil {
			return fmt.Errorf("derive master key: %w", err)
		}
		if err := saveMasterKey(mk); err != nil {
			return fmt.Errorf("save master key: %w", err)
		}

		exp := time.Now().Add(15 * time.Minute)
		if err := saveSession(session{
			Addr: addr, AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken,
			ExpiresAt: exp, UserID: resp.UserID,
		}); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{registerCmd, loginCmd} {
		cmd.Flags().String("email", "", "account email")
		cmd.Flags().String("password", "", "account password")
	}
	loginCmd.Flags().String("device", "", "device identifier for per-device rate limiting")
}
