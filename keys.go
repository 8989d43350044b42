package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"marketplace-escrow/client"
	"marketplace-escrow/config"
	"marketplace-escrow/gateway/program"
	"marketplace-escrow/model"
)

var keypairPath string

func defaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "id.json"
	}
	return filepath.Join(home, ".marketplace", "id.json")
}

func keypairFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&keypairPath, "keypair", "k", defaultKeypairPath(), "path to a JSON keypair file")
}

func keygenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new keypair file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := client.GenerateKeypair()
			if err != nil {
				return err
			}
			if err := kp.Save(keypairPath); err != nil {
				return fmt.Errorf("failed to save keypair: %w", err)
			}
			fmt.Printf("Wrote keypair to %s\nPublic key: %s\n", keypairPath, kp.PublicKey)
			return nil
		},
	}
	keypairFlag(cmd)
	return cmd
}

func deriveCommand() *cobra.Command {
	var seller string
	cmd := &cobra.Command{
		Use:   "derive <name>",
		Short: "Derive an item address from seller and name without contacting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			var sellerKey model.PublicKey
			if seller != "" {
				pk, err := model.ParsePublicKey(seller)
				if err != nil {
					return err
				}
				sellerKey = pk
			} else {
				kp, err := client.LoadKeypair(keypairPath)
				if err != nil {
					return err
				}
				sellerKey = kp.PublicKey
			}
			addr, bump, err := program.DeriveItemAddress(cfg.ProgramPublicKey(), sellerKey, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Address: %s\nBump:    %d\n", addr, bump)
			return nil
		},
	}
	cmd.Flags().StringVar(&seller, "seller", "", "seller public key (defaults to the keypair's)")
	keypairFlag(cmd)
	return cmd
}
