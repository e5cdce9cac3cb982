package cmd

import (
	"path/filepath"

	"pig/internal/engconf"
	"pig/internal/lock"
	"pig/internal/pgclient"
	"pig/internal/storage"
	"pig/internal/storage/posixstore"
	"pig/internal/storage/s3store"
	"pig/internal/xerr"
)

// buildStorage resolves cfg's repo1-type into a concrete backend. Only
// posix and s3 are reachable from engconf.Config today; remote (SSH)
// needs host/key material this config shape doesn't carry yet, so it
// errors rather than silently falling back to posix.
func buildStorage(cfg *engconf.Config) (storage.Storage, error) {
	switch cfg.RepoType {
	case engconf.RepoTypePosix, "":
		return posixstore.New(cfg.RepoPath), nil
	case engconf.RepoTypeS3:
		return s3store.New(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.RepoPath, cfg.S3Key, cfg.S3Secret), nil
	default:
		return nil, xerr.New(xerr.OptionInvalid, "repo1-type %q is not reachable from this CLI", cfg.RepoType)
	}
}

// engineDeps are the four collaborators backup.Engine and restore.Engine
// both take, built once per invocation from cfg.
type engineDeps struct {
	cfg     *engconf.Config
	pgStore storage.Storage
	repo    storage.Storage
	pg      pgclient.Client
	lockMgr *lock.Manager
}

func loadEngine(st string) (*engineDeps, error) {
	if st == "" {
		return nil, xerr.New(xerr.OptionInvalid, "--stanza is required")
	}
	cfg, err := engconf.Load(configFile, st)
	if err != nil {
		return nil, err
	}
	repoStore, err := buildStorage(cfg)
	if err != nil {
		return nil, err
	}
	return &engineDeps{
		cfg:     cfg,
		pgStore: posixstore.New(cfg.PgPath),
		repo:    repoStore,
		pg:      pgclient.NewReferenceClient(cfg.PgPath),
		lockMgr: lock.New(filepath.Join(cfg.LockPath)),
	}, nil
}
