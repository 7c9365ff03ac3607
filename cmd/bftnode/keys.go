package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vanguardbft/consensus/bftconfig"
	"github.com/vanguardbft/consensus/bftcrypto"
)

func newKeysCommand() *cobra.Command {
	var filename, name string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate an Ed25519 + BLS12-381 key pair and write a Secret file",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := bftcrypto.GenerateKeyPair()
			if err != nil {
				fmt.Fprintln(os.Stderr, "key generation failed:", err)
				os.Exit(2)
			}
			if name == "" {
				name = kp.Public.String()
			}
			if err := bftconfig.WriteSecret(filename, name, kp); err != nil {
				fmt.Fprintln(os.Stderr, "failed to write secret file:", err)
				os.Exit(1)
			}
			fmt.Printf("generated replica %s, public key %s\n", name, kp.Public.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&filename, "filename", "secret.json", "path to write the Secret file to")
	cmd.Flags().StringVar(&name, "name", "", "replica name recorded in the Secret file (defaults to the public key)")
	_ = cmd.MarkFlagRequired("filename")
	return cmd
}
