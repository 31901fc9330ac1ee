package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/arbor/internal/config"
	"github.com/jmcleod/arbor/users"
)

var (
	userIdentifier string
	userPassword   string
	userAdmin      bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts directly in the credential store",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user account",
	Long: `Create a user account. When --password is omitted the password is read
from the first line of standard input.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadStorage(v)
		if err != nil {
			return err
		}
		password := userPassword
		if password == "" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no password given on --password or standard input")
			}
			password = strings.TrimRight(line, "\r\n")
		}

		repo, closeRepo, err := openRepository(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		store, err := users.NewStore(repo)
		if err != nil {
			return err
		}
		var opts []users.CreateOption
		if userAdmin {
			opts = append(opts, users.AsAdmin())
		}
		rec, err := store.Create(cmd.Context(), userIdentifier, password, opts...)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", rec.Identifier, rec.ID)
		return nil
	},
}

type userListEntry struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	IsAdmin    bool   `json:"isAdmin"`
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadStorage(v)
		if err != nil {
			return err
		}
		repo, closeRepo, err := openRepository(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		store, err := users.NewStore(repo)
		if err != nil {
			return err
		}
		recs, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		out := make([]userListEntry, 0, len(recs))
		for _, rec := range recs {
			out = append(out, userListEntry{ID: rec.ID, Identifier: rec.Identifier, IsAdmin: rec.IsAdmin})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd, userListCmd)
	userCreateCmd.Flags().StringVar(&userIdentifier, "identifier", "", "Login identifier")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "Password (read from stdin when omitted)")
	userCreateCmd.Flags().BoolVar(&userAdmin, "admin", false, "Grant administrator rights")
	userCreateCmd.MarkFlagRequired("identifier")
}
