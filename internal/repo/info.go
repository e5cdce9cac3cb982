// Package repo implements the two repository information files,
// archive.info and backup.info: typed views over the INI+JSON metadata
// format (internal/ini), their PostgreSQL history lists, per-file cipher
// subkeys, and the cross-file consistency check between them.
//
// Struct shapes here are grounded on the teacher's cli/pgbackrest/info.go
// (ArchiveInfo/BackupInfo/DBInfo/LSNRange/TimestampRange), which originally
// parsed `pgbackrest info --output=json`; here the engine produces and
// consumes the same shapes directly instead of shelling out.
package repo

import (
	"encoding/json"
	"sort"

	"pig/internal/ini"
	"pig/internal/storage"
	"pig/internal/xerr"
)

// BackrestFormat is the on-disk format generation this engine writes and
// the only one it accepts on load, mirroring the original's fixed
// PGBACKREST_FORMAT compatibility gate.
const BackrestFormat = 5

// PgHistoryEntry records one past PostgreSQL identity a stanza has seen.
// History[0] is always "current".
type PgHistoryEntry struct {
	HistoryID      uint32
	SystemID       uint64
	Version        string
	CatalogVersion uint32
	ControlVersion uint32
}

const (
	sectionDB        = "db"
	sectionDBHistory = "db:history"
	sectionCipher    = "cipher"
	sectionBackupCur = "backup:current"

	keyDBID       = "db-id"
	keySystemID   = "db-system-id"
	keyVersion    = "db-version"
	keyCatalog    = "db-catalog-version"
	keyControl    = "db-control-version"
	keyCipherPass = "cipher-pass"
)

type historyRecord struct {
	SystemID       uint64 `json:"db-system-id"`
	Version        string `json:"db-version"`
	CatalogVersion uint32 `json:"db-catalog-version,omitempty"`
	ControlVersion uint32 `json:"db-control-version,omitempty"`
}

func writeHistory(doc *ini.Document, history []PgHistoryEntry) error {
	if len(history) == 0 {
		return xerr.New(xerr.Assert, "info file must have at least one history entry")
	}
	db := doc.Section(sectionDB)
	hist := doc.Section(sectionDBHistory)
	current := history[0]
	if err := db.Set(keyDBID, current.HistoryID); err != nil {
		return err
	}
	if err := db.Set(keySystemID, current.SystemID); err != nil {
		return err
	}
	if err := db.Set(keyVersion, current.Version); err != nil {
		return err
	}
	if err := db.Set(keyCatalog, current.CatalogVersion); err != nil {
		return err
	}
	if err := db.Set(keyControl, current.ControlVersion); err != nil {
		return err
	}
	for _, h := range history {
		rec := historyRecord{SystemID: h.SystemID, Version: h.Version, CatalogVersion: h.CatalogVersion, ControlVersion: h.ControlVersion}
		if err := hist.Set(historyKey(h.HistoryID), rec); err != nil {
			return err
		}
	}
	return nil
}

func historyKey(id uint32) string {
	// ini.v1 keys are strings; history IDs serialize as plain decimal.
	return json.Number(formatUint(id)).String()
}

func formatUint(v uint32) string {
	return jsonUint(v)
}

func jsonUint(v uint32) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func readHistory(doc *ini.Document) ([]PgHistoryEntry, error) {
	if !doc.HasSection(sectionDB) {
		return nil, xerr.New(xerr.Format, "missing [%s] section", sectionDB)
	}
	db := doc.Section(sectionDB)
	var currentID uint32
	if ok, err := db.Unmarshal(keyDBID, &currentID); err != nil {
		return nil, err
	} else if !ok {
		return nil, xerr.New(xerr.Format, "missing %s key", keyDBID)
	}

	hist := doc.Section(sectionDBHistory)
	entries := make([]PgHistoryEntry, 0, len(hist.Keys))
	for _, kv := range hist.Keys {
		var rec historyRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return nil, xerr.Wrap(xerr.Format, err, "invalid history entry %q", kv.Key)
		}
		var id uint64
		if err := json.Unmarshal([]byte(kv.Key), &id); err != nil {
			return nil, xerr.Wrap(xerr.Format, err, "invalid history id %q", kv.Key)
		}
		entries = append(entries, PgHistoryEntry{
			HistoryID:      uint32(id),
			SystemID:       rec.SystemID,
			Version:        rec.Version,
			CatalogVersion: rec.CatalogVersion,
			ControlVersion: rec.ControlVersion,
		})
	}
	// Newest first: current id leads, the rest ordered by descending id.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].HistoryID == currentID {
			return true
		}
		if entries[j].HistoryID == currentID {
			return false
		}
		return entries[i].HistoryID > entries[j].HistoryID
	})
	if len(entries) == 0 {
		return nil, xerr.New(xerr.Format, "no history entries in [%s]", sectionDBHistory)
	}
	return entries, nil
}

// ArchiveInfo is the typed view over archive.info: the PostgreSQL history
// list and the archive-wide cipher subpass.
type ArchiveInfo struct {
	History    []PgHistoryEntry
	CipherPass string // empty when the repo is unencrypted
}

// Current returns the current (newest) history entry.
func (a *ArchiveInfo) Current() PgHistoryEntry { return a.History[0] }

func (a *ArchiveInfo) toDocument(version string) (*ini.Document, error) {
	doc := &ini.Document{}
	if err := writeHistory(doc, a.History); err != nil {
		return nil, err
	}
	if a.CipherPass != "" {
		if err := doc.Section(sectionCipher).Set(keyCipherPass, a.CipherPass); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func archiveInfoFromDocument(doc *ini.Document) (*ArchiveInfo, error) {
	history, err := readHistory(doc)
	if err != nil {
		return nil, err
	}
	a := &ArchiveInfo{History: history}
	if doc.HasSection(sectionCipher) {
		var pass string
		if ok, err := doc.Section(sectionCipher).Unmarshal(keyCipherPass, &pass); err != nil {
			return nil, err
		} else if ok {
			a.CipherPass = pass
		}
	}
	return a, nil
}

// BackupEntry is one row of backup.info's [backup:current] section.
type BackupEntry struct {
	Label           string
	Type            string // "full" | "diff" | "incr"
	Prior           string
	Reference       []string
	ArchiveStart    string
	ArchiveStop     string
	InfoSize        uint64
	InfoSizeDelta   int64
	RepoSize        uint64
	RepoSizeDelta   int64
	TimestampStart  int64
	TimestampStop   int64
	BackrestVersion string
	BackrestFormat  int
	PgID            uint32
	ChecksumPage    *bool
	Options         map[string]interface{}
}

// BackupInfo is the typed view over backup.info.
type BackupInfo struct {
	History    []PgHistoryEntry
	CipherPass string
	Backups    map[string]*BackupEntry // [backup:current] rows, keyed by label
}

// Current returns the current (newest) history entry, mirroring
// ArchiveInfo.Current() — the PostgreSQL identity this stanza is running
// against, not to be confused with Backups (the [backup:current] rows).
func (b *BackupInfo) Current() PgHistoryEntry { return b.History[0] }

// Labels returns backup labels in the on-disk [backup:current] order
// (lexicographic, which equals chronological order for this label
// grammar).
func (b *BackupInfo) Labels() []string {
	labels := make([]string, 0, len(b.Backups))
	for l := range b.Backups {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Latest returns the most recently allocated backup entry, or nil if the
// set is empty.
func (b *BackupInfo) Latest() *BackupEntry {
	labels := b.Labels()
	if len(labels) == 0 {
		return nil
	}
	return b.Backups[labels[len(labels)-1]]
}

func (b *BackupInfo) toDocument(version string) (*ini.Document, error) {
	doc := &ini.Document{}
	if err := writeHistory(doc, b.History); err != nil {
		return nil, err
	}
	if b.CipherPass != "" {
		if err := doc.Section(sectionCipher).Set(keyCipherPass, b.CipherPass); err != nil {
			return nil, err
		}
	}
	sec := doc.Section(sectionBackupCur)
	for _, label := range b.Labels() {
		e := b.Backups[label]
		if err := sec.Set(label, e); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func backupInfoFromDocument(doc *ini.Document) (*BackupInfo, error) {
	history, err := readHistory(doc)
	if err != nil {
		return nil, err
	}
	b := &BackupInfo{History: history, Backups: map[string]*BackupEntry{}}
	if doc.HasSection(sectionCipher) {
		var pass string
		if ok, err := doc.Section(sectionCipher).Unmarshal(keyCipherPass, &pass); err != nil {
			return nil, err
		} else if ok {
			b.CipherPass = pass
		}
	}
	if doc.HasSection(sectionBackupCur) {
		sec := doc.Section(sectionBackupCur)
		for _, kv := range sec.Keys {
			var e BackupEntry
			if err := json.Unmarshal(kv.Value, &e); err != nil {
				return nil, xerr.Wrap(xerr.Format, err, "invalid backup entry %q", kv.Key)
			}
			e.Label = kv.Key
			b.Backups[kv.Key] = &e
		}
	}
	return b, nil
}

// CrossCheck validates the invariant that archive.info and backup.info
// current history entries agree on {history_id, version, system_id}.
func CrossCheck(a *ArchiveInfo, b *BackupInfo) error {
	ac, bc := a.Current(), b.Current()
	if ac.HistoryID != bc.HistoryID || ac.Version != bc.Version || ac.SystemID != bc.SystemID {
		return xerr.New(xerr.FileInvalid,
			"archive.info and backup.info current history disagree (archive: id=%d version=%s system=%d, backup: id=%d version=%s system=%d)",
			ac.HistoryID, ac.Version, ac.SystemID, bc.HistoryID, bc.Version, bc.SystemID).
			WithHint("the repository may belong to a different cluster or have been corrupted")
	}
	return nil
}

// LoadArchiveInfo loads archive.info with .copy fallback, per spec.md §4.3.
func LoadArchiveInfo(s storage.Storage, path string, version string) (*ArchiveInfo, error) {
	doc, err := loadWithFallback(s, path, version)
	if err != nil {
		return nil, err
	}
	return archiveInfoFromDocument(doc)
}

// LoadBackupInfo loads backup.info with .copy fallback.
func LoadBackupInfo(s storage.Storage, path string, version string) (*BackupInfo, error) {
	doc, err := loadWithFallback(s, path, version)
	if err != nil {
		return nil, err
	}
	return backupInfoFromDocument(doc)
}

func loadWithFallback(s storage.Storage, path string, version string) (*ini.Document, error) {
	primary, primaryErr := loadOne(s, path)
	if primaryErr == nil {
		return primary, nil
	}
	copyDoc, copyErr := loadOne(s, path+".copy")
	if copyErr == nil {
		return copyDoc, nil
	}
	return nil, xerr.New(xerr.FileMissing, "unable to open %s or %s.copy", path, path).WithHint(primaryErr.Error())
}

func loadOne(s storage.Storage, path string) (*ini.Document, error) {
	data, err := storage.ReadFull(s, path, true)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, xerr.New(xerr.FileMissing, "file missing: %s", path)
	}
	doc, err := ini.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := ini.VerifyChecksum(doc); err != nil {
		return nil, err
	}
	var format int
	if ok, ferr := doc.Section(ini.SectionBackrest).Unmarshal(ini.KeyFormat, &format); ferr == nil && ok && format != BackrestFormat {
		return nil, xerr.New(xerr.FileInvalid, "unsupported backrest-format %d (expected %d)", format, BackrestFormat)
	}
	return doc, nil
}

// docSaver is satisfied by *ArchiveInfo and *BackupInfo.
type docSaver interface {
	toDocument(version string) (*ini.Document, error)
}

// Save writes path then path.copy, each independently checksum-stamped,
// per spec.md §3.3/§4.3's atomic-write rule.
func Save(s storage.Storage, path string, info docSaver, engineVersion string) error {
	doc, err := info.toDocument(engineVersion)
	if err != nil {
		return err
	}
	rendered, err := ini.Stamp(doc, BackrestFormat, engineVersion)
	if err != nil {
		return err
	}
	if err := storage.WriteFull(s, path, rendered, 0o640); err != nil {
		return err
	}
	return storage.WriteFull(s, path+".copy", rendered, 0o640)
}
