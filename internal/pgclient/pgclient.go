// Package pgclient models the PostgreSQL wire-protocol capability the
// engine consumes (spec.md §6): control_info, is_standby, start_backup,
// stop_backup, wal_switch, wait_wal_archive, data_dir. A real
// implementation is out of scope (spec.md §1's OUT OF SCOPE list); this
// package defines the interface plus a reference implementation grounded
// on the teacher's cli/postgres/ctl_result.go, which already shells out
// to pg_controldata and waits on PIDs rather than speaking the wire
// protocol directly.
package pgclient

import (
	"context"
	"time"
)

// PgControl mirrors spec.md §3.1's PgControl entity.
type PgControl struct {
	Version             string
	SystemID            uint64
	ControlVersion      uint32
	CatalogVersion      uint32
	PageSize            uint32
	WalSegmentSize      uint32
	PageChecksumEnabled bool
}

// BackupStart is start_backup's result.
type BackupStart struct {
	LSNStart string
	WALStart string
}

// BackupStop is stop_backup's result.
type BackupStop struct {
	LSNStop            string
	WALStop            string
	BackupLabelBytes   []byte
	TablespaceMapBytes []byte
}

// Client is the capability surface the backup engine depends on.
type Client interface {
	ControlInfo(ctx context.Context) (PgControl, error)
	IsStandby(ctx context.Context) (bool, error)
	StartBackup(ctx context.Context, label string) (BackupStart, error)
	StopBackup(ctx context.Context) (BackupStop, error)
	WaitWALArchive(ctx context.Context, segment string, timeout time.Duration) error
	WALSwitch(ctx context.Context) (string, error)
	DataDir(ctx context.Context) (string, error)
}
