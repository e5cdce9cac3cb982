package repo

import (
	"testing"

	"pig/internal/storage"
	"pig/internal/storage/posixstore"
)

func newMemStore() storage.Storage {
	return posixstore.NewMem("/repo")
}

func sampleArchiveInfo() *ArchiveInfo {
	return &ArchiveInfo{
		History: []PgHistoryEntry{
			{HistoryID: 1, SystemID: 6846378200844646865, Version: "12", CatalogVersion: 201909212, ControlVersion: 1201},
		},
	}
}

func sampleBackupInfo() *BackupInfo {
	return &BackupInfo{
		History: []PgHistoryEntry{
			{HistoryID: 1, SystemID: 6846378200844646865, Version: "12", CatalogVersion: 201909212, ControlVersion: 1201},
		},
		Backups: map[string]*BackupEntry{
			"20230101-000000F": {
				Label:           "20230101-000000F",
				Type:            "full",
				TimestampStart:  1,
				TimestampStop:   2,
				BackrestVersion: "2.47",
				BackrestFormat:  BackrestFormat,
				PgID:            1,
			},
		},
	}
}

func TestArchiveInfoSaveLoadRoundTrip(t *testing.T) {
	s := newMemStore()
	a := sampleArchiveInfo()
	if err := Save(s, "archive.info", a, "2.47"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadArchiveInfo(s, "archive.info", "2.47")
	if err != nil {
		t.Fatalf("LoadArchiveInfo: %v", err)
	}
	if loaded.Current() != a.Current() {
		t.Errorf("got %+v, want %+v", loaded.Current(), a.Current())
	}
}

func TestBackupInfoSaveLoadRoundTrip(t *testing.T) {
	s := newMemStore()
	b := sampleBackupInfo()
	if err := Save(s, "backup.info", b, "2.47"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadBackupInfo(s, "backup.info", "2.47")
	if err != nil {
		t.Fatalf("LoadBackupInfo: %v", err)
	}
	if len(loaded.Backups) != 1 {
		t.Fatalf("got %d backup entries, want 1", len(loaded.Backups))
	}
	entry, ok := loaded.Backups["20230101-000000F"]
	if !ok {
		t.Fatalf("missing expected label in loaded backup.info")
	}
	if entry.Type != "full" {
		t.Errorf("got type %q, want full", entry.Type)
	}
}

func TestLoadFallsBackToCopyOnCorruptPrimary(t *testing.T) {
	s := newMemStore()
	a := sampleArchiveInfo()
	if err := Save(s, "archive.info", a, "2.47"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Corrupt the primary, leaving the .copy intact.
	data, err := storage.ReadFull(s, "archive.info", false)
	if err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	corrupted := append([]byte{}, data...)
	corrupted[0] = '#' // first section header becomes a comment, its keys fall outside any section -> parse error
	if err := storage.WriteFull(s, "archive.info", corrupted, 0o640); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}

	loaded, err := LoadArchiveInfo(s, "archive.info", "2.47")
	if err != nil {
		t.Fatalf("LoadArchiveInfo should fall back to .copy: %v", err)
	}
	if loaded.Current() != a.Current() {
		t.Errorf("fallback loaded wrong content: %+v", loaded.Current())
	}
}

func TestLoadFailsWhenBothMissing(t *testing.T) {
	s := newMemStore()
	_, err := LoadArchiveInfo(s, "archive.info", "2.47")
	if err == nil {
		t.Fatal("expected FileMissing error")
	}
}

func TestCrossCheckDetectsDisagreement(t *testing.T) {
	a := sampleArchiveInfo()
	b := sampleBackupInfo()
	if err := CrossCheck(a, b); err != nil {
		t.Fatalf("CrossCheck should agree: %v", err)
	}

	b.History[0].SystemID = 1
	if err := CrossCheck(a, b); err == nil {
		t.Fatal("expected CrossCheck to detect system-id disagreement")
	}
}

func TestBackupInfoLabelsAndLatest(t *testing.T) {
	b := sampleBackupInfo()
	b.Backups["20230102-000000F"] = &BackupEntry{Label: "20230102-000000F", Type: "full"}
	labels := b.Labels()
	if len(labels) != 2 || labels[0] != "20230101-000000F" || labels[1] != "20230102-000000F" {
		t.Fatalf("unexpected label order: %v", labels)
	}
	if b.Latest().Label != "20230102-000000F" {
		t.Errorf("Latest() = %s, want 20230102-000000F", b.Latest().Label)
	}
}
