package cmd

import (
	"fmt"
	"path"
	"time"

	"github.com/spf13/cobra"

	"pig/internal/config"
	"pig/internal/output"
	"pig/internal/repo"
)

// loadStanzaInfo reads archive.info/backup.info for the configured
// stanza the way internal/backup.Engine.Run does at its own step 2, but
// without acquiring a lock: info commands only ever read.
func loadStanzaInfo(st string) (*repo.ArchiveInfo, *repo.BackupInfo, error) {
	deps, err := loadEngine(st)
	if err != nil {
		return nil, nil, err
	}
	archiveInfo, err := repo.LoadArchiveInfo(deps.repo, path.Join(deps.cfg.Stanza, "archive.info"), config.Version)
	if err != nil {
		return nil, nil, err
	}
	backupInfo, err := repo.LoadBackupInfo(deps.repo, path.Join(deps.cfg.Stanza, "backup.info"), config.Version)
	if err != nil {
		return nil, nil, err
	}
	return archiveInfo, backupInfo, nil
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show a stanza's backup list",
	Long: `Display the current PostgreSQL identity and every backup on record
for the configured stanza, read directly from archive.info and backup.info.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		archiveInfo, backupInfo, err := loadStanzaInfo(stanza)
		if err != nil {
			return err
		}
		if err := repo.CrossCheck(archiveInfo, backupInfo); err != nil {
			return err
		}

		current := archiveInfo.Current()
		cmd.Printf("stanza: %s (pg version %s, system-id %d)\n\n", stanza, current.Version, current.SystemID)

		labels := backupInfo.Labels()
		table := output.NewTableRenderer("label", "type", "prior", "start", "stop", "size", "repo size")
		table.SetAlignment(5, output.AlignRight)
		table.SetAlignment(6, output.AlignRight)
		for _, label := range labels {
			b := backupInfo.Backups[label]
			table.AddRow(
				b.Label,
				b.Type,
				b.Prior,
				formatUnixTime(b.TimestampStart),
				formatUnixTime(b.TimestampStop),
				fmt.Sprintf("%d", b.InfoSize),
				fmt.Sprintf("%d", b.RepoSize),
			)
		}
		if len(labels) == 0 {
			cmd.Println("no backups found")
			return nil
		}
		cmd.Print(table.Render())
		return nil
	},
}

var stanzaInfoCmd = &cobra.Command{
	Use:   "stanza-info",
	Short: "Show a stanza's current PostgreSQL identity",
	Long: `Display the PostgreSQL version, system identifier and catalog/control
versions the configured stanza's backup.info currently expects, the
history archive-push/backup verify against.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		archiveInfo, backupInfo, err := loadStanzaInfo(stanza)
		if err != nil {
			return err
		}
		if err := repo.CrossCheck(archiveInfo, backupInfo); err != nil {
			return err
		}

		current := backupInfo.Current()
		table := output.NewTableRenderer("stanza", "history-id", "pg-version", "system-id", "catalog-version", "control-version")
		table.AddRow(
			stanza,
			fmt.Sprintf("%d", current.HistoryID),
			current.Version,
			fmt.Sprintf("%d", current.SystemID),
			fmt.Sprintf("%d", current.CatalogVersion),
			fmt.Sprintf("%d", current.ControlVersion),
		)
		cmd.Print(table.Render())
		return nil
	},
}

func formatUnixTime(sec int64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(sec, 0).UTC().Format("2006-01-02 15:04:05")
}
