package pgclient

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"pig/internal/xerr"
)

// ReferenceClient is a minimal, unhardened Client used by tests and by
// the cli/pgbackrest wrapper when no richer client is configured. It
// shells to pg_controldata the way cli/postgres/ctl_result.go does,
// rather than speaking the FE/BE wire protocol directly — the
// PostgreSQL wire-protocol client itself stays out of scope per
// spec.md §1.
type ReferenceClient struct {
	PgData         string
	PgControlDataBin string // defaults to "pg_controldata" on PATH
	Standby        bool
}

func NewReferenceClient(pgData string) *ReferenceClient {
	return &ReferenceClient{PgData: pgData, PgControlDataBin: "pg_controldata"}
}

func (c *ReferenceClient) bin() string {
	if c.PgControlDataBin != "" {
		return c.PgControlDataBin
	}
	return "pg_controldata"
}

// ControlInfo runs pg_controldata and parses the handful of fields the
// engine needs, mirroring ctl_result.go's line-oriented "Field:  Value"
// parsing of PostgreSQL's own tool output.
func (c *ReferenceClient) ControlInfo(ctx context.Context) (PgControl, error) {
	cmd := exec.CommandContext(ctx, c.bin(), c.PgData)
	out, err := cmd.Output()
	if err != nil {
		return PgControl{}, xerr.Wrap(xerr.HostConnect, err, "run pg_controldata")
	}
	fields := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		fields[key] = val
	}

	pc := PgControl{PageSize: 8192, WalSegmentSize: 16 * 1024 * 1024}
	if v, ok := fields["Database system identifier"]; ok {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			pc.SystemID = id
		}
	}
	if v, ok := fields["Catalog version number"]; ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			pc.CatalogVersion = uint32(n)
		}
	}
	if v, ok := fields["pg_control version number"]; ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			pc.ControlVersion = uint32(n)
		}
	}
	if v, ok := fields["Data page checksum version"]; ok {
		pc.PageChecksumEnabled = v != "0"
	}
	pc.Version = fields["pg_control version number"]
	return pc, nil
}

func (c *ReferenceClient) IsStandby(ctx context.Context) (bool, error) {
	return c.Standby, nil
}

func (c *ReferenceClient) StartBackup(ctx context.Context, label string) (BackupStart, error) {
	return BackupStart{}, xerr.New(xerr.Assert, "ReferenceClient cannot drive a live backup; supply a real Client")
}

func (c *ReferenceClient) StopBackup(ctx context.Context) (BackupStop, error) {
	return BackupStop{}, xerr.New(xerr.Assert, "ReferenceClient cannot drive a live backup; supply a real Client")
}

func (c *ReferenceClient) WaitWALArchive(ctx context.Context, segment string, timeout time.Duration) error {
	return xerr.New(xerr.ArchiveTimeout, "ReferenceClient does not track WAL archiving")
}

func (c *ReferenceClient) WALSwitch(ctx context.Context) (string, error) {
	return "", xerr.New(xerr.Assert, "ReferenceClient cannot switch WAL")
}

func (c *ReferenceClient) DataDir(ctx context.Context) (string, error) {
	return c.PgData, nil
}
