// Command zann is a CLI client for the zann secrets manager API.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "zann",
	Short:        "CLI client for the zann secrets manager",
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("addr", "https://localhost:8443", "server base URL")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(rotationCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("zann %s (%s)\n", version, buildDate)
		return nil
	},
}

// authedClient loads the saved session and builds a client carrying its
// access token. Most subcommands besides register/login need one.
func authedClient() (*client, session, error) {
	sess, err := loadSession()
	if err != nil {
		return nil, sess, err
	}
	return newClient(sess.Addr, sess.AccessToken), sess, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
