package cmd

import (
	"github.com/spf13/cobra"

	"pig/internal/backup"
	"pig/internal/manifest"
)

var (
	backupType  string
	backupForce bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take a backup of the configured stanza",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := loadEngine(stanza)
		if err != nil {
			return err
		}
		e := backup.New(deps.cfg, deps.pgStore, deps.repo, deps.pg, deps.lockMgr)
		m, err := e.Run(cmd.Context(), backup.Options{
			Type:  manifest.BackupType(backupType),
			Force: backupForce,
		})
		if err != nil {
			return err
		}
		cmd.Printf("backup %s complete (%s)\n", m.Data.Label, m.Data.Type)
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupType, "type", "", "backup type: full, diff, incr (auto if empty)")
	backupCmd.Flags().BoolVar(&backupForce, "force", false, "accepted for compatibility; has no effect on the backup")
}
