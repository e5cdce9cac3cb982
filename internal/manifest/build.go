package manifest

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pig/internal/storage"
	"pig/internal/utils"
	"pig/internal/xerr"
)

// walDirName returns the WAL directory name for a PG version, per
// spec.md §4.4 step 1 ("pg_xlog / pg_wal depending on version").
func walDirName(pgVersion string) string {
	if majorAtLeast(pgVersion, 10) {
		return "pg_wal"
	}
	return "pg_xlog"
}

// majorAtLeast reports whether pgVersion's major component is >= n, using
// internal/utils' PG version parser (the same one the teacher uses to
// read a cluster's version out of pg_ctl/psql output) rather than a
// bespoke split-and-atoi.
func majorAtLeast(pgVersion string, n int) bool {
	major, _, err := utils.ParsePostgresVersion(pgVersion)
	if err != nil {
		return false
	}
	return major >= n
}

// alwaysExcluded names the fixed set of pg_data entries spec.md §4.4 step
// 1 excludes regardless of user patterns.
func alwaysExcluded(name, pgVersion string) bool {
	switch name {
	case walDirName(pgVersion), "postmaster.pid", "postmaster.opts",
		"backup_label.old", "tablespace_map", "tablespace_map.old",
		"recovery.conf", "recovery.done":
		return true
	}
	if strings.HasSuffix(name, ".tmp") {
		return true // temp relation files
	}
	if !majorAtLeast(pgVersion, 12) && strings.HasSuffix(name, "_init") {
		return true // unlogged-relation init forks, pre-12 naming
	}
	return false
}

// BuildOptions configures BuildFromCluster.
type BuildOptions struct {
	PgVersion   string
	PgDataPath  string
	Exclusions  []string // additional anchored regexes
	Now         time.Time
}

// BuildFromCluster walks pg_data and produces a fresh full manifest, per
// spec.md §4.4 "Build from live cluster".
func BuildFromCluster(s storage.Storage, opts BuildOptions) (*Manifest, error) {
	var excludeRe []*regexp.Regexp
	for _, pat := range opts.Exclusions {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, xerr.Wrap(xerr.OptionInvalidValue, err, "invalid exclusion pattern %q", pat)
		}
		excludeRe = append(excludeRe, re)
	}

	m := &Manifest{}
	m.Targets = append(m.Targets, Target{Name: "pg_data", Type: TargetPath, Path: opts.PgDataPath})

	err := s.ListInfo(opts.PgDataPath, true, storage.SortNone, func(rel string, info storage.FileInfo) error {
		base := filepath.Base(rel)
		if alwaysExcluded(base, opts.PgVersion) {
			return nil
		}
		for _, re := range excludeRe {
			if re.MatchString(rel) {
				return nil
			}
		}
		switch info.Type {
		case storage.TypePath:
			m.Paths = append(m.Paths, Path{Name: rel, Mode: info.Mode, User: info.User, Group: info.Group})
		case storage.TypeLink:
			if strings.HasPrefix(rel, "pg_tblspc/") && strings.Count(rel, "/") == 1 {
				if err := addTablespaceTarget(m, rel, info); err != nil {
					return err
				}
			}
			m.Links = append(m.Links, Link{Name: rel, Destination: info.LinkTarget, User: info.User, Group: info.Group})
		case storage.TypeFile:
			m.Files = append(m.Files, File{
				Name: rel, Size: uint64(info.Size), Timestamp: info.ModTime.Unix(),
				Mode: info.Mode, User: info.User, Group: info.Group, Primary: true,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.Normalize()
	return m, nil
}

func addTablespaceTarget(m *Manifest, rel string, info storage.FileInfo) error {
	parts := strings.SplitN(rel, "/", 2)
	oid, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return xerr.Wrap(xerr.Format, err, "invalid tablespace oid in %q", rel)
	}
	m.Targets = append(m.Targets, Target{
		Name: rel, Type: TargetLink, Path: info.LinkTarget,
		TablespaceID: uint32(oid), TablespaceName: "ts_" + parts[1],
	})
	return nil
}

// Validate applies spec.md §4.4 "Validate": files modified at or after
// timestampCopyStart-1 must be re-read regardless of delta, and any
// timestamp in the future relative to now forces delta mode.
func Validate(m *Manifest, delta bool, timestampCopyStart int64, now time.Time) bool {
	forceDelta := delta
	for _, f := range m.Files {
		if f.Timestamp >= timestampCopyStart-1 {
			// bytes may be mid-write; the copier must force a checksum read
			// regardless of delta. Recorded implicitly: callers re-read any
			// file whose Timestamp is >= TimestampCopyStart-1.
		}
		if f.Timestamp > now.Unix() {
			forceDelta = true
		}
	}
	return forceDelta
}

// MustReread reports whether a file must be read (rather than trusted
// from metadata alone) because it may have been modified during backup.
func MustReread(f File, timestampCopyStart int64) bool {
	return f.Timestamp >= timestampCopyStart-1
}

// BuildIncremental mutates current in place, diffing it against prior per
// spec.md §4.4 "Build incremental". delta forces content-comparison mode
// for files that only match on a partial key.
func BuildIncremental(current, prior *Manifest, delta bool) {
	priorByName := map[string]*File{}
	for i := range prior.Files {
		priorByName[prior.Files[i].Name] = &prior.Files[i]
	}

	for i := range current.Files {
		f := &current.Files[i]
		pf, ok := priorByName[f.Name]
		if !ok {
			continue // only in current: mark for copy, no reference (zero value already)
		}
		fullMatch := pf.Size == f.Size && pf.Timestamp == f.Timestamp &&
			pf.Mode == f.Mode && pf.User == f.User && pf.Group == f.Group
		if fullMatch && pf.ChecksumSHA1 != "" {
			f.Reference = pf.Reference
			if f.Reference == "" {
				f.Reference = prior.Data.Label
			}
			f.ChecksumSHA1 = pf.ChecksumSHA1
			f.SizeRepo = pf.SizeRepo
			f.ChecksumPage = pf.ChecksumPage
			f.ChecksumPageError = pf.ChecksumPageError
			f.Primary = false
			continue
		}
		partialMatch := pf.Size == f.Size && pf.Timestamp == f.Timestamp && pf.Mode == f.Mode
		if partialMatch && delta {
			f.Reference = ""
			f.Primary = true
			continue
		}
		// no match at all, or partial match without delta: copy fresh.
		f.Reference = ""
		f.Primary = true
	}

	current.Data.CipherSubPass = prior.Data.CipherSubPass

	if prior.Data.OptionChecksumPage != current.Data.OptionChecksumPage {
		current.Data.OptionChecksumPage = prior.Data.OptionChecksumPage
	}
	if prior.Data.OptionCompress != current.Data.OptionCompress {
		current.Data.OptionCompress = prior.Data.OptionCompress
	}
	if prior.Data.OptionHardlink != current.Data.OptionHardlink {
		current.Data.OptionHardlink = prior.Data.OptionHardlink
	}
}
