package cmd

import (
	"github.com/spf13/cobra"

	"pig/internal/restore"
)

var (
	restoreSet          string
	restoreDelta        bool
	restoreForce        bool
	restoreType         string
	restoreTarget       string
	restoreTargetAction string
	restoreTimeline     string
	restoreExclusive    bool
	restoreAsRoot       bool
	restoreDbInclude    []string
	restoreLinkAll      bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the configured stanza's data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := loadEngine(stanza)
		if err != nil {
			return err
		}
		e := restore.New(deps.cfg, deps.pgStore, deps.repo, deps.pg, deps.lockMgr)
		return e.Run(cmd.Context(), restore.Options{
			Set:            restoreSet,
			Delta:          restoreDelta,
			Force:          restoreForce,
			DbInclude:      restoreDbInclude,
			LinkAll:        restoreLinkAll,
			RecoveryType:   restoreType,
			RecoveryTarget: restoreTarget,
			TargetTimeline: restoreTimeline,
			TargetAction:   restoreTargetAction,
			Exclusive:      restoreExclusive,
			AsRoot:         restoreAsRoot,
		})
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreSet, "set", "latest", "backup label to restore, or latest")
	restoreCmd.Flags().BoolVar(&restoreDelta, "delta", false, "reuse matching files already on disk")
	restoreCmd.Flags().BoolVar(&restoreForce, "force", false, "restore into a non-empty destination")
	restoreCmd.Flags().StringVar(&restoreType, "type", "default", "recovery target type: default, immediate, time, name, lsn, xid")
	restoreCmd.Flags().StringVar(&restoreTarget, "target", "", "recovery target value for the chosen type")
	restoreCmd.Flags().StringVar(&restoreTargetAction, "target-action", "", "action at recovery target: pause, promote, shutdown")
	restoreCmd.Flags().StringVar(&restoreTimeline, "target-timeline", "", "recovery target timeline")
	restoreCmd.Flags().BoolVar(&restoreExclusive, "target-exclusive", false, "stop strictly before the recovery target")
	restoreCmd.Flags().BoolVar(&restoreAsRoot, "as-root", false, "running as root: restore file ownership from the manifest")
	restoreCmd.Flags().StringSliceVar(&restoreDbInclude, "db-include", nil, "restore only these databases, zero-filling the rest")
	restoreCmd.Flags().BoolVar(&restoreLinkAll, "link-all", false, "restore all tablespace/directory links without --link-map")
}
