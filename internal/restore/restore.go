// Package restore implements the restore engine, spec.md §4.6/§4.6.1:
// backup-set selection, manifest remap, ownership resolution, the clean
// algorithm, selective-restore zero-fill, parallel file delivery, and
// recovery-settings emission. Grounded on the *shape* of the teacher's
// cli/pitr/pitr.go (Options.{Time,Name,LSN,XID,Exclusive,Default,
// Immediate}, the stop-Postgres-then-restore phase ordering) generalized
// from "orchestrate Patroni + the real pgbackrest binary" into an actual
// implementation of the restore the binary used to run for us.
package restore

import (
	"context"
	"io"
	"path"

	"github.com/sirupsen/logrus"

	"pig/internal/config"
	"pig/internal/engconf"
	"pig/internal/iofilter"
	"pig/internal/lock"
	"pig/internal/manifest"
	"pig/internal/pgclient"
	"pig/internal/repo"
	"pig/internal/storage"
	"pig/internal/xerr"
)

// Options is one restore invocation's parameters, analogous to the
// teacher's pitr.Options but driving this package's own algorithm instead
// of forwarding flags to a subprocess.
type Options struct {
	Set   string // backup label, or "" / "latest" for the newest
	Delta bool
	Force bool

	TablespaceMapByName map[string]string
	TablespaceMapByID   map[uint32]string
	TablespaceMapAll    string
	LinkMap             map[string]string
	LinkAll             bool
	DbInclude           []string

	RecoveryOption map[string]string
	RecoveryType   string // "default" | "immediate" | "time" | "name" | "lsn" | "xid"
	RecoveryTarget string
	TargetTimeline string
	TargetAction   string // "pause" | "promote" | "shutdown", version-gated
	Exclusive      bool

	AsRoot bool // true when the restoring process runs as root
}

// Engine runs restores for one stanza against one repository and one
// destination cluster.
type Engine struct {
	Cfg     *engconf.Config
	PgStore storage.Storage // rooted at the restore destination's pg_data
	Repo    storage.Storage
	Pg      pgclient.Client
	Lock    *lock.Manager
}

func New(cfg *engconf.Config, pgStore, repoStore storage.Storage, pg pgclient.Client, lockMgr *lock.Manager) *Engine {
	return &Engine{Cfg: cfg, PgStore: pgStore, Repo: repoStore, Pg: pg, Lock: lockMgr}
}

func (e *Engine) stanzaPath(elem ...string) string {
	return path.Join(append([]string{e.Cfg.Stanza}, elem...)...)
}

// Run executes one restore end to end.
func (e *Engine) Run(ctx context.Context, opts Options) error {
	log := logrus.WithField("stanza", e.Cfg.Stanza)

	if err := e.Lock.StopTest(e.Cfg.Stanza); err != nil {
		return err
	}
	guard, err := e.Lock.Acquire(e.Cfg.Stanza, lock.All)
	if err != nil {
		return err
	}
	defer guard.Release()

	delta, force, err := e.validateDestination(opts)
	if err != nil {
		return err
	}
	opts.Delta, opts.Force = delta, force

	backupInfo, err := repo.LoadBackupInfo(e.Repo, e.stanzaPath("backup.info"), config.Version)
	if err != nil {
		return err
	}
	archiveInfo, err := repo.LoadArchiveInfo(e.Repo, e.stanzaPath("archive.info"), config.Version)
	if err != nil {
		return err
	}

	label, err := selectBackupSet(backupInfo, opts.Set)
	if err != nil {
		return err
	}

	manifestPath := e.stanzaPath("backup", label, "backup.manifest")
	m, err := loadManifest(e.Repo, manifestPath, archiveInfo.CipherPass)
	if err != nil {
		return err
	}
	if m == nil {
		return xerr.New(xerr.BackupSetInvalid, "backup.manifest missing for set %q", label)
	}
	if m.Data.Label != label {
		return xerr.New(xerr.BackupSetInvalid, "manifest label %q does not match requested set %q", m.Data.Label, label)
	}

	if err := remapTargets(m, ".", opts); err != nil {
		return err
	}
	if err := m.LinkCheck(); err != nil {
		return err
	}

	pgDataOwner, pgDataGroup, err := e.pgDataOwner()
	if err != nil {
		return err
	}
	resolveOwnership(m, opts.AsRoot, pgDataOwner, pgDataGroup)

	excludedDBs, err := buildExcludedDBSet(opts.DbInclude, m.DbList)
	if err != nil {
		return err
	}

	if err := e.clean(m, opts.Delta, opts.Force); err != nil {
		return err
	}

	if err := saveRestoreManifest(e.PgStore, m); err != nil {
		return err
	}

	queues := buildQueues(m)
	if err := e.copyQueues(ctx, queues, m, excludedDBs, opts); err != nil {
		return err
	}

	if err := writeRecoverySettings(e.PgStore, m.Data.PgVersion, opts, e.Cfg); err != nil {
		return err
	}

	for _, t := range m.Targets {
		if t.Type == manifest.TargetPath {
			_ = e.PgStore.PathSync(targetRoot(t))
		}
	}
	if err := e.PgStore.Move("global/pg_control.tmp", "global/pg_control"); err != nil {
		if !xerr.Is(err, xerr.FileMissing) {
			return err
		}
	}
	if err := e.PgStore.PathSync("global"); err != nil {
		return err
	}

	log.Infof("restore of %s (%s) complete", label, m.Data.Type)
	return nil
}

// validateDestination implements spec.md §4.6 step 1.
func (e *Engine) validateDestination(opts Options) (delta, force bool, err error) {
	ok, err := e.PgStore.PathExists(".")
	if err != nil {
		return false, false, err
	}
	if !ok {
		return false, false, xerr.New(xerr.PathMissing, "restore destination does not exist")
	}
	if running, rerr := e.PgStore.Exists("postmaster.pid"); rerr != nil {
		return false, false, rerr
	} else if running {
		return false, false, xerr.New(xerr.PathOpen, "postmaster.pid exists; stop PostgreSQL before restoring")
	}

	delta, force = opts.Delta, opts.Force
	if delta || force {
		hasVersion, verr := e.PgStore.Exists("PG_VERSION")
		if verr != nil {
			return false, false, verr
		}
		hasManifest, merr := e.PgStore.Exists("backup.manifest")
		if merr != nil {
			return false, false, merr
		}
		if !hasVersion && !hasManifest {
			logrus.WithField("stanza", e.Cfg.Stanza).Warnf("delta/force requested on an empty destination; ignoring")
			delta, force = false, false
		}
	}
	return delta, force, nil
}

// selectBackupSet implements spec.md §4.6 step 2.
func selectBackupSet(backupInfo *repo.BackupInfo, set string) (string, error) {
	if set == "" || set == "latest" {
		latest := backupInfo.Latest()
		if latest == nil {
			return "", xerr.New(xerr.BackupSetInvalid, "no backups available for this stanza")
		}
		return latest.Label, nil
	}
	if _, ok := backupInfo.Backups[set]; !ok {
		return "", xerr.New(xerr.BackupSetInvalid, "backup set %q does not exist", set)
	}
	return set, nil
}

// pgDataOwner reports the owner of the destination pg_data root, used by
// spec.md §4.6 step 6 when running as root.
func (e *Engine) pgDataOwner() (user, group string, err error) {
	info, ierr := e.PgStore.Info(".", true)
	if ierr != nil {
		return "", "", ierr
	}
	if info == nil {
		return "", "", nil
	}
	return info.User, info.Group, nil
}

func targetRoot(t manifest.Target) string {
	if t.Name == "pg_data" {
		return "."
	}
	return t.Name
}

// loadManifest reads and decodes the manifest at path, decrypting with
// cipherPass when the archive is encrypted. Mirrors internal/backup's
// unexported helper of the same name and shape.
func loadManifest(s storage.Storage, path string, cipherPass string) (*manifest.Manifest, error) {
	r, err := s.Read(path, true, 0, 0)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	var data []byte
	if cipherPass == "" {
		data, err = io.ReadAll(r)
		r.Close()
	} else {
		cr := iofilter.NewCipherBlockRead(cipherPass, r)
		data, err = io.ReadAll(cr)
		cr.Close()
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.FileRead, err, "read manifest %s", path)
	}
	return manifest.Load(data)
}

// saveRestoreManifest writes the remapped manifest to the destination as
// backup.manifest, per spec.md §4.6 step 9, so an interrupted restore can
// resume. It is never encrypted: it lives on the live cluster's own disk.
func saveRestoreManifest(s storage.Storage, m *manifest.Manifest) error {
	return manifest.Save(s, "backup.manifest", m, config.Version)
}
