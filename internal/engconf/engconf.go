// Package engconf loads the engine's configuration the way
// internal/config loads pigsty's: via github.com/spf13/viper, reading an
// INI-shaped file (pgbackrest.conf's own format: a [global] section plus
// one section per stanza) merged with environment variables and
// command-line overrides. The result is an immutable Config value passed
// by reference into internal/backup and internal/restore, replacing the
// original engine's process-wide mutable option table with something a
// command invocation can't mutate out from under a concurrent caller.
package engconf

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"pig/internal/xerr"
)

// RepoType names a storage backend kind.
type RepoType string

const (
	RepoTypePosix  RepoType = "posix"
	RepoTypeS3     RepoType = "s3"
	RepoTypeRemote RepoType = "remote"
)

// Config is the immutable configuration one backup or restore invocation
// runs with. Values are resolved once at load time; nothing in
// internal/backup or internal/restore mutates a Config in place —
// decisions that the original engine made by editing its global option
// table (e.g. auto-downgrading backup-standby) are instead returned by
// the functions that make them.
type Config struct {
	Stanza string

	PgPath string
	PgPort int

	RepoPath       string
	RepoType       RepoType
	RepoCipherType string
	RepoCipherPass string

	LockPath string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3Key       string
	S3Secret    string

	ProcessMax      int
	CompressType    string
	Delta           bool
	Force           bool
	BackupStandby   bool
	ChecksumPage    bool
	ProtocolTimeout time.Duration

	Set              string
	TablespaceMap    map[string]string
	TablespaceMapAll string
	LinkMap          map[string]string
	LinkAll          bool
	DbInclude        []string
	RecoveryOption   map[string]string
	RecoveryType     string
	RecoveryTarget   string
	ExePath          string
	ArchiveGetArgs   []string
}

// Load reads configFile (an INI document: [global] plus [<stanza>]
// sections) through viper, the way internal/config.InitConfig reads
// pigsty's YAML, then resolves one stanza's effective Config by layering
// the stanza section over [global].
func Load(configFile, stanza string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("ini")
	v.SetEnvPrefix("PGBACKREST")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				logrus.Debugf("engine config file not found, using defaults and environment: %s", configFile)
			} else {
				return nil, xerr.Wrap(xerr.FileInvalid, err, "parse engine config %s", configFile)
			}
		} else {
			logrus.Debugf("engine config loaded: %s", configFile)
		}
	}

	get := func(key string) string {
		if val := v.GetString(fmt.Sprintf("%s.%s", stanza, key)); val != "" {
			return val
		}
		return v.GetString(fmt.Sprintf("global.%s", key))
	}
	getBool := func(key string, def bool) bool {
		if v.IsSet(fmt.Sprintf("%s.%s", stanza, key)) {
			return v.GetBool(fmt.Sprintf("%s.%s", stanza, key))
		}
		if v.IsSet(fmt.Sprintf("global.%s", key)) {
			return v.GetBool(fmt.Sprintf("global.%s", key))
		}
		return def
	}
	getInt := func(key string, def int) int {
		if val := get(key); val != "" {
			var n int
			if _, err := fmt.Sscanf(val, "%d", &n); err == nil {
				return n
			}
		}
		return def
	}

	cfg := &Config{
		Stanza:          stanza,
		PgPath:          get("pg1-path"),
		PgPort:          getInt("pg1-port", 5432),
		RepoPath:        get("repo1-path"),
		RepoType:        RepoType(orDefault(get("repo1-type"), string(RepoTypePosix))),
		RepoCipherType:  get("repo1-cipher-type"),
		RepoCipherPass:  get("repo1-cipher-pass"),
		S3Endpoint:      get("repo1-s3-endpoint"),
		S3Region:        get("repo1-s3-region"),
		S3Bucket:        get("repo1-s3-bucket"),
		S3Key:           get("repo1-s3-key"),
		S3Secret:        get("repo1-s3-key-secret"),
		LockPath:        orDefault(get("lock-path"), "/tmp/pgbackrest"),
		ProcessMax:      getInt("process-max", 1),
		CompressType:    orDefault(get("compress-type"), "gz"),
		Delta:           getBool("delta", false),
		Force:           getBool("force", false),
		BackupStandby:   getBool("backup-standby", false),
		ChecksumPage:    getBool("checksum-page", true),
		ProtocolTimeout: time.Duration(getInt("protocol-timeout", 60)) * time.Second,
		Set:             orDefault(get("set"), "latest"),
		LinkAll:         getBool("link-all", false),
		ExePath:         orDefault(get("exe-path"), "/usr/bin/pgbackrest"),
	}

	if cfg.PgPath == "" {
		return nil, xerr.New(xerr.OptionInvalid, "pg1-path is required for stanza %q", stanza)
	}
	if cfg.RepoPath == "" {
		return nil, xerr.New(xerr.OptionInvalid, "repo1-path is required for stanza %q", stanza)
	}

	return cfg, nil
}

func orDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
