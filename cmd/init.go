package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"github.com/arcward/clanbot/clanbot"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"
	"strings"
	"syscall"
)

const defaultCredentialName = "default"

// passwordReader reads a secret without echoing it. It's swapped out in
// tests.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and create a status API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			return errors.New(
				"database type not set (must be one of: sqlite, postgres)",
			)
		}
		if cfg.Database == "" {
			return errors.New(
				"database not set (must be a valid connection string or sqlite file path)",
			)
		}

		db, err := clanbot.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}

		out := cmd.OutOrStdout()
		reader := bufio.NewReader(cmd.InOrStdin())

		fmt.Fprintf(out, "Enter a name for the API token [%s]: ", defaultCredentialName)
		name, _ := reader.ReadString('\n')
		name = strings.TrimSpace(name)
		if name == "" {
			name = defaultCredentialName
		}

		var existing clanbot.APICredential
		rv := db.Where("name = ?", name).Take(&existing)
		switch {
		case rv.Error == nil:
			fmt.Fprintf(out, "API token %q already exists.\n", name)
			fmt.Fprintln(out, "Initialization complete.")
			return nil
		case !errors.Is(rv.Error, gorm.ErrRecordNotFound):
			return fmt.Errorf("error retrieving api credentials: %w", rv.Error)
		}

		if customPasswordReader == nil {
			customPasswordReader = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}

		var token string
		for {
			fmt.Fprint(out, "Enter API token: ")
			tokenBytes, readErr := customPasswordReader()
			fmt.Fprintln(out)
			if readErr != nil {
				return fmt.Errorf("error reading token: %w", readErr)
			}
			token = strings.TrimSpace(string(tokenBytes))

			fmt.Fprint(out, "Confirm API token: ")
			confirmBytes, readErr := customPasswordReader()
			fmt.Fprintln(out)
			if readErr != nil {
				return fmt.Errorf("error reading token: %w", readErr)
			}

			if token != "" && token == strings.TrimSpace(string(confirmBytes)) {
				break
			}
			fmt.Fprintln(out, "Tokens are empty or do not match. Please try again.")
		}

		hashed, err := clanbot.HashToken(token)
		if err != nil {
			return fmt.Errorf("error hashing token: %w", err)
		}
		if err = db.Create(&clanbot.APICredential{Name: name, TokenHash: hashed}).Error; err != nil {
			return fmt.Errorf("error saving api token: %w", err)
		}

		fmt.Fprintf(out, "API token %q saved.\n", name)
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(initCmd)
}
