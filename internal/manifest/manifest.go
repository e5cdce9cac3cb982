// Package manifest implements the per-backup manifest: the ordered
// inventory of paths/files/links/targets that describes one backup,
// built from a live cluster, diffed against a prior manifest for
// incremental backups, and saved/loaded as INI+JSON through internal/ini.
//
// ManifestDb's selective-restore fields are shaped after the teacher's
// cli/pgbackrest/restore.go db-selection options; label allocation
// follows spec.md §3.1 exactly.
package manifest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"

	"pig/internal/ini"
	"pig/internal/storage"
	"pig/internal/xerr"
)

// BackupType enumerates the three backup kinds in the chaining model.
type BackupType string

const (
	Full BackupType = "full"
	Diff BackupType = "diff"
	Incr BackupType = "incr"
)

// File is one ManifestFile entry.
type File struct {
	Name              string
	Size              uint64
	SizeRepo          uint64
	Timestamp         int64
	Mode              uint32
	User              string
	Group             string
	ChecksumSHA1      string // hex, empty if not yet computed
	ChecksumPage      *bool
	ChecksumPageError []uint32 // run-length block ranges, flattened pairs [start,end,...]
	Reference         string   // backup label holding the bytes, empty if this backup holds them
	Primary           bool
}

// Path is one ManifestPath entry.
type Path struct {
	Name  string
	Mode  uint32
	User  string
	Group string
}

// Link is one ManifestLink entry.
type Link struct {
	Name        string
	Destination string
	User        string
	Group       string
}

// TargetType distinguishes a plain directory target from a symlink target.
type TargetType string

const (
	TargetPath TargetType = "path"
	TargetLink TargetType = "link"
)

// Target is one ManifestTarget entry — a mount point a restore must
// materialize. targets[0] is always pg_data.
type Target struct {
	Name            string
	Type            TargetType
	Path            string
	File            string
	TablespaceID    uint32
	TablespaceName  string
}

// Db is one ManifestDb entry, used for selective restore (db-include).
type Db struct {
	Name         string
	ID           uint32
	LastSystemID uint64
}

// Data is the manifest's scalar header, spec.md §3.1.
type Data struct {
	Label              string
	PriorLabel         string
	Type               BackupType
	TimestampCopyStart int64
	TimestampStart     int64
	TimestampStop      int64
	PgVersion          string
	PgSystemID         uint64
	PgID               uint32
	OptionCompress     bool
	OptionHardlink     bool
	OptionOnline       bool
	OptionBackupStandby bool
	OptionChecksumPage bool
	ArchiveStart       string
	ArchiveStop        string
	LSNStart           string
	LSNStop            string
	BackrestVersion    string
	BackrestFormat     int
	CipherSubPass      string // empty when unencrypted
}

// Manifest is the full per-backup inventory, spec.md §3.1.
type Manifest struct {
	Data    Data
	Paths   []Path
	Files   []File
	Links   []Link
	Targets []Target
	DbList  []Db
}

// sortByName orders any named slice lexicographically over bytes.
func sortByName[T any](items []T, name func(T) string) {
	sort.Slice(items, func(i, j int) bool { return name(items[i]) < name(items[j]) })
}

// Normalize sorts paths/files/links/targets by name, per spec.md §4.4 step 4.
func (m *Manifest) Normalize() {
	sortByName(m.Paths, func(p Path) string { return p.Name })
	sortByName(m.Files, func(f File) string { return f.Name })
	sortByName(m.Links, func(l Link) string { return l.Name })
	// targets[0] must stay pg_data; sort the remainder.
	if len(m.Targets) > 1 {
		rest := m.Targets[1:]
		sortByName(rest, func(t Target) string { return t.Name })
		m.Targets = append(m.Targets[:1], rest...)
	}
}

// FileByName returns the file with the given name, if present.
func (m *Manifest) FileByName(name string) (*File, bool) {
	for i := range m.Files {
		if m.Files[i].Name == name {
			return &m.Files[i], true
		}
	}
	return nil, false
}

// PriorChain returns this manifest's immediate lineage for log lines:
// its parent label (if any) followed by its own label — grounded on the
// original's backupListString helper (command/backup/common.c). A
// manifest only records its direct prior, so the chain beyond it back to
// the Full is not included.
func (m *Manifest) PriorChain() []string {
	if m.Data.PriorLabel == "" {
		return []string{m.Data.Label}
	}
	return []string{m.Data.PriorLabel, m.Data.Label}
}

// LinkCheck verifies every link has a matching Link-type target whose
// destination does not nest inside another target's path, per spec.md
// §4.4's "Link check" and the cycle-prevention invariant in §3.2.
func (m *Manifest) LinkCheck() error {
	targetByName := map[string]*Target{}
	for i := range m.Targets {
		targetByName[m.Targets[i].Name] = &m.Targets[i]
	}
	for _, l := range m.Links {
		t, ok := targetByName[l.Name]
		if !ok || t.Type != TargetLink {
			return xerr.New(xerr.LinkMap, "link %q has no matching link target", l.Name)
		}
		if l.Destination == "" {
			return xerr.New(xerr.LinkMap, "link %q has empty destination", l.Name)
		}
		if t.TablespaceID != 0 {
			continue // tablespace links are exempt from the nesting check
		}
		for _, other := range m.Targets {
			if other.Name == t.Name || other.Path == "" {
				continue
			}
			if withinPath(l.Destination, other.Path) {
				return xerr.New(xerr.LinkMap, "link %q destination %q nests inside target %q", l.Name, l.Destination, other.Name)
			}
		}
	}
	return nil
}

func withinPath(candidate, base string) bool {
	if base == "" || candidate == base {
		return candidate == base
	}
	if len(candidate) <= len(base) {
		return false
	}
	return candidate[:len(base)] == base && candidate[len(base)] == '/'
}

// NewSubPass generates a fresh passphrase unique to one backup set, used
// to encrypt non-referenced file bytes. It draws CSPRNG entropy via
// crypto/rand and renders it through a UUID (the same identifier-
// generation dependency the teacher used for token IDs in
// cli/license/license.go, repurposed here for subpass material).
func NewSubPass() (string, error) {
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return "", xerr.Wrap(xerr.Crypto, err, "generate cipher subpass")
	}
	id, err := uuid.FromBytes(seed[:])
	if err != nil {
		return "", xerr.Wrap(xerr.Crypto, err, "encode cipher subpass")
	}
	extra := make([]byte, 16)
	if _, err := rand.Read(extra); err != nil {
		return "", xerr.Wrap(xerr.Crypto, err, "generate cipher subpass entropy")
	}
	return id.String() + hex.EncodeToString(extra), nil
}

// labelLayout matches spec.md §3.1's timestamp grammar.
const labelLayout = "20060102-150405"

// NewLabel allocates a backup label for now, per spec.md §3.1: a 16-char
// timestamp prefix (15-char timestamp + type suffix), advancing by one
// second on collision against existing() labels (which must report every
// label used by any backup directory or backup.history entry, full or
// not).
func NewLabel(now time.Time, typ BackupType, priorLabel string, exists func(candidate string) bool) string {
	for {
		ts := now.Format(labelLayout)
		var label string
		switch typ {
		case Full:
			label = ts + "F"
		default:
			suffix := "I"
			if typ == Diff {
				suffix = "D"
			}
			full := priorLabel
			if len(full) >= 16 {
				full = full[:16]
			}
			label = full + "_" + ts + suffix
		}
		if !exists(label) {
			return label
		}
		now = now.Add(time.Second)
	}
}

// ParentFull returns the first 16 characters of label (its parent FULL's
// timestamp prefix). For a Full label this is the label itself.
func ParentFull(label string) string {
	if len(label) < 16 {
		return label
	}
	return label[:16]
}

// docSection names, shared with Save/Load.
const (
	sectionBackup        = "backup"
	sectionBackupOption  = "backup:option"
	sectionBackupTarget  = "backup:target"
	sectionBackupDB      = "backup:db"
	sectionTargetFile    = "target:file"
	sectionTargetFileDef = "target:file:default"
	sectionTargetPath    = "target:path"
	sectionTargetPathDef = "target:path:default"
	sectionTargetLink    = "target:link"
	sectionTargetLinkDef = "target:link:default"
)

// BackrestFormat mirrors repo.BackrestFormat; duplicated as a constant
// here (rather than importing internal/repo) to keep manifest free of a
// dependency on the info-file package, which does not need manifests.
const BackrestFormat = 5

// Render renders the manifest to its canonical checksum-stamped INI text
// (spec.md §4.4 "Save"). Callers that need encryption write this through
// an iofilter.CipherBlockWrite keyed with the archive cipher pass
// themselves (internal/backup does this), since manifest stays free of a
// dependency on internal/iofilter.
func Render(m *Manifest, engineVersion string) ([]byte, error) {
	doc, err := toDocument(m)
	if err != nil {
		return nil, err
	}
	return ini.Stamp(doc, BackrestFormat, engineVersion)
}

// Save writes the rendered manifest to path via s, unencrypted. Encrypted
// saves go through internal/backup's own filtered write path instead.
func Save(s storage.Storage, path string, m *Manifest, engineVersion string) error {
	rendered, err := Render(m, engineVersion)
	if err != nil {
		return err
	}
	return storage.WriteFull(s, path, rendered, 0o640)
}

func toDocument(m *Manifest) (*ini.Document, error) {
	doc := &ini.Document{}
	backup := doc.Section(sectionBackup)
	fields := map[string]interface{}{
		"label":                  m.Data.Label,
		"prior-label":            m.Data.PriorLabel,
		"type":                   string(m.Data.Type),
		"timestamp-copy-start":   m.Data.TimestampCopyStart,
		"timestamp-start":        m.Data.TimestampStart,
		"timestamp-stop":         m.Data.TimestampStop,
		"pg-version":             m.Data.PgVersion,
		"pg-system-id":           m.Data.PgSystemID,
		"pg-id":                  m.Data.PgID,
		"archive-start":          m.Data.ArchiveStart,
		"archive-stop":           m.Data.ArchiveStop,
		"lsn-start":              m.Data.LSNStart,
		"lsn-stop":               m.Data.LSNStop,
		"backrest-version":       m.Data.BackrestVersion,
	}
	for k, v := range fields {
		if err := backup.Set(k, v); err != nil {
			return nil, err
		}
	}
	if m.Data.CipherSubPass != "" {
		if err := backup.Set("cipher-pass", m.Data.CipherSubPass); err != nil {
			return nil, err
		}
	}

	opt := doc.Section(sectionBackupOption)
	opts := map[string]interface{}{
		"compress":        m.Data.OptionCompress,
		"hardlink":        m.Data.OptionHardlink,
		"online":          m.Data.OptionOnline,
		"backup-standby":  m.Data.OptionBackupStandby,
		"checksum-page":   m.Data.OptionChecksumPage,
	}
	for k, v := range opts {
		if err := opt.Set(k, v); err != nil {
			return nil, err
		}
	}

	targetSec := doc.Section(sectionBackupTarget)
	for _, t := range m.Targets {
		if err := targetSec.Set(t.Name, t); err != nil {
			return nil, err
		}
	}

	dbSec := doc.Section(sectionBackupDB)
	for _, d := range m.DbList {
		if err := dbSec.Set(d.Name, d); err != nil {
			return nil, err
		}
	}

	fileSec := doc.Section(sectionTargetFile)
	for _, f := range m.Files {
		if err := fileSec.Set(f.Name, f); err != nil {
			return nil, err
		}
	}
	pathSec := doc.Section(sectionTargetPath)
	for _, p := range m.Paths {
		if err := pathSec.Set(p.Name, p); err != nil {
			return nil, err
		}
	}
	linkSec := doc.Section(sectionTargetLink)
	for _, l := range m.Links {
		if err := linkSec.Set(l.Name, l); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Load parses data (already decrypted by the caller) into a Manifest.
func Load(data []byte) (*Manifest, error) {
	doc, err := ini.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := ini.VerifyChecksum(doc); err != nil {
		return nil, err
	}
	m := &Manifest{}
	backup := doc.Section(sectionBackup)
	if _, err := backup.Unmarshal("label", &m.Data.Label); err != nil {
		return nil, err
	}
	backup.Unmarshal("prior-label", &m.Data.PriorLabel)
	var typ string
	backup.Unmarshal("type", &typ)
	m.Data.Type = BackupType(typ)
	backup.Unmarshal("timestamp-copy-start", &m.Data.TimestampCopyStart)
	backup.Unmarshal("timestamp-start", &m.Data.TimestampStart)
	backup.Unmarshal("timestamp-stop", &m.Data.TimestampStop)
	backup.Unmarshal("pg-version", &m.Data.PgVersion)
	backup.Unmarshal("pg-system-id", &m.Data.PgSystemID)
	backup.Unmarshal("pg-id", &m.Data.PgID)
	backup.Unmarshal("archive-start", &m.Data.ArchiveStart)
	backup.Unmarshal("archive-stop", &m.Data.ArchiveStop)
	backup.Unmarshal("lsn-start", &m.Data.LSNStart)
	backup.Unmarshal("lsn-stop", &m.Data.LSNStop)
	backup.Unmarshal("backrest-version", &m.Data.BackrestVersion)
	backup.Unmarshal("cipher-pass", &m.Data.CipherSubPass)

	opt := doc.Section(sectionBackupOption)
	opt.Unmarshal("compress", &m.Data.OptionCompress)
	opt.Unmarshal("hardlink", &m.Data.OptionHardlink)
	opt.Unmarshal("online", &m.Data.OptionOnline)
	opt.Unmarshal("backup-standby", &m.Data.OptionBackupStandby)
	opt.Unmarshal("checksum-page", &m.Data.OptionChecksumPage)

	for _, kv := range doc.Section(sectionBackupTarget).Keys {
		var t Target
		if err := unmarshalInto(kv.Value, &t); err != nil {
			return nil, err
		}
		t.Name = kv.Key
		m.Targets = append(m.Targets, t)
	}
	for _, kv := range doc.Section(sectionBackupDB).Keys {
		var d Db
		if err := unmarshalInto(kv.Value, &d); err != nil {
			return nil, err
		}
		d.Name = kv.Key
		m.DbList = append(m.DbList, d)
	}
	for _, kv := range doc.Section(sectionTargetFile).Keys {
		var f File
		if err := unmarshalInto(kv.Value, &f); err != nil {
			return nil, err
		}
		f.Name = kv.Key
		m.Files = append(m.Files, f)
	}
	for _, kv := range doc.Section(sectionTargetPath).Keys {
		var p Path
		if err := unmarshalInto(kv.Value, &p); err != nil {
			return nil, err
		}
		p.Name = kv.Key
		m.Paths = append(m.Paths, p)
	}
	for _, kv := range doc.Section(sectionTargetLink).Keys {
		var l Link
		if err := unmarshalInto(kv.Value, &l); err != nil {
			return nil, err
		}
		l.Name = kv.Key
		m.Links = append(m.Links, l)
	}
	m.Normalize()
	return m, nil
}

func unmarshalInto(raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return xerr.Wrap(xerr.Format, err, "invalid manifest entry")
	}
	return nil
}
