package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/arbor/internal/util"
)

// keygenBytes is the entropy of each generated secret.
const keygenBytes = 32

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print fresh session and encryption secrets in .env format",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range []string{"ARBOR_SESSION_SECRET", "ARBOR_ENCRYPTION_SECRET"} {
			b, err := util.RandomBytes(keygenBytes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", name, util.Base64URLEncode(b))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
