package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wicketnetworks/wicket/src/wicket"
)

var keyfile string

// NewKeygenCmd produces a KeygenCmd which creates a new identity seed
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create new identity seed",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&keyfile, "key", _config.KeyfilePath(), "File where the seed will be written")
}

func keygen(cmd *cobra.Command, args []string) error {
	identity, err := wicket.Keygen(keyfile)

	if err != nil {
		return err
	}

	fmt.Printf("Your identity seed has been saved to: %s\n", keyfile)
	fmt.Printf("Your public identity is: %s\n", identity.PublicString())

	return nil
}
