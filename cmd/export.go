package cmd

import (
	"encoding/json"
	"fmt"
	"github.com/arcward/clanbot/clanbot"
	"github.com/spf13/cobra"
	"io"
	"os"
	"time"
)

var exportOutput string

// exportData is the document written by the export command
type exportData struct {
	ExportedAt time.Time            `json:"exported_at"`
	Version    string               `json:"version"`
	Systems    []clanbot.ClanSystem `json:"clan_systems"`
	Clans      []clanbot.Clan       `json:"clans"`
}

var exportCmd = &cobra.Command{
	Use:   "export [flags]",
	Short: "Write every clan system and clan as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		db, err := clanbot.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		repo := clanbot.NewClanRepository(clanbot.NewDatabase(db, nil, false), nil)

		data := exportData{
			ExportedAt: time.Now().UTC(),
			Version:    clanbot.Version,
		}
		if data.Systems, err = repo.ListSystems(ctx); err != nil {
			return err
		}
		if data.Clans, err = repo.ListClans(ctx); err != nil {
			return err
		}
		if data.Systems == nil {
			data.Systems = []clanbot.ClanSystem{}
		}
		if data.Clans == nil {
			data.Clans = []clanbot.Clan{}
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportOutput != "" && exportOutput != "-" {
			f, createErr := os.Create(exportOutput)
			if createErr != nil {
				return fmt.Errorf("error creating %s: %w", exportOutput, createErr)
			}
			defer f.Close()
			w = f
		}

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err = enc.Encode(data); err != nil {
			return fmt.Errorf("error writing export: %w", err)
		}
		if w != cmd.OutOrStdout() {
			fmt.Fprintf(
				cmd.ErrOrStderr(),
				"exported %d clan systems and %d clans to %s\n",
				len(data.Systems),
				len(data.Clans),
				exportOutput,
			)
		}
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	exportCmd.Flags().StringVarP(
		&exportOutput,
		"output",
		"o",
		"",
		"File to write to (default: stdout)",
	)
	rootCmd.AddCommand(exportCmd)
}
