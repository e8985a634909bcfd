package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pulsewatch/pulsewatch/internal/sign"
)

var initKeyPath string

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initKeyPath, "key", defaultKeyPath(), "Where to write the signing key")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the monitor's signing keypair",
	Long:  "Creates an Ed25519 keypair and prints the public half. Register the public key with your pulsehub operator before running the monitor.",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	pub, err := sign.Generate(initKeyPath)
	if err != nil {
		return err
	}

	fmt.Printf("Signing key written to %s\n", initKeyPath)
	fmt.Printf("Public key (register this with your hub):\n\n  %s\n", pub)
	return nil
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pulsemon.key"
	}
	return filepath.Join(home, ".pulsemon", "key")
}
