package manifest

import (
	"io"
	"testing"
	"time"

	"pig/internal/storage/posixstore"
)

func sampleManifest() *Manifest {
	m := &Manifest{
		Data: Data{
			Label:           "20230101-000000F",
			Type:            Full,
			PgVersion:       "12",
			PgSystemID:      6846378200844646865,
			PgID:            1,
			OptionCompress:  true,
			OptionOnline:    true,
			BackrestVersion: "2.47",
		},
		Targets: []Target{{Name: "pg_data", Type: TargetPath, Path: "/pgdata"}},
		Paths:   []Path{{Name: "base", Mode: 0o700}},
		Files: []File{
			{Name: "PG_VERSION", Size: 2, Timestamp: 100, Mode: 0o600, ChecksumSHA1: "abc123", Primary: true},
			{Name: "base/16384/16385", Size: 16384, Timestamp: 200, Mode: 0o600, ChecksumSHA1: "def456", Primary: true},
		},
	}
	m.Normalize()
	return m
}

func TestManifestRenderLoadRoundTrip(t *testing.T) {
	m := sampleManifest()
	rendered, err := Render(m, "2.47")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	loaded, err := Load(rendered)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Data.Label != m.Data.Label {
		t.Errorf("label mismatch: %q != %q", loaded.Data.Label, m.Data.Label)
	}
	if loaded.Data.PgSystemID != m.Data.PgSystemID {
		t.Errorf("pg system id mismatch: %d != %d", loaded.Data.PgSystemID, m.Data.PgSystemID)
	}
	if len(loaded.Files) != len(m.Files) {
		t.Fatalf("got %d files, want %d", len(loaded.Files), len(m.Files))
	}
	for i := range m.Files {
		if loaded.Files[i].Name != m.Files[i].Name || loaded.Files[i].ChecksumSHA1 != m.Files[i].ChecksumSHA1 {
			t.Errorf("file %d mismatch: got %+v want %+v", i, loaded.Files[i], m.Files[i])
		}
	}
}

func TestManifestSaveLoadViaStorage(t *testing.T) {
	s := posixstore.NewMem("/repo")
	m := sampleManifest()
	if err := Save(s, "backup.manifest", m, "2.47"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := s.Read("backup.manifest", false, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer data.Close()
	raw, err := io.ReadAll(data)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	loaded, err := Load(raw)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Data.Label != m.Data.Label {
		t.Errorf("label mismatch: %q != %q", loaded.Data.Label, m.Data.Label)
	}
}

func TestNewLabelUniqueness(t *testing.T) {
	now := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	used := map[string]bool{}
	exists := func(candidate string) bool { return used[candidate] }

	l1 := NewLabel(now, Full, "", exists)
	used[l1] = true
	l2 := NewLabel(now, Full, "", exists)
	if l1 == l2 {
		t.Fatalf("expected distinct labels, got %q twice", l1)
	}
	if l1[:15] == l2[:15] {
		t.Errorf("expected distinct 15-char timestamp prefixes: %q vs %q", l1, l2)
	}
}

func TestNewLabelDiffIncrSuffix(t *testing.T) {
	now := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	full := NewLabel(now, Full, "", func(string) bool { return false })
	diff := NewLabel(now.Add(time.Hour), Diff, full, func(string) bool { return false })
	if ParentFull(diff) != full {
		t.Errorf("ParentFull(%q) = %q, want %q", diff, ParentFull(diff), full)
	}
	if diff[len(diff)-1] != 'D' {
		t.Errorf("diff label %q should end in D", diff)
	}
}

func TestLinkCheckRejectsMissingTarget(t *testing.T) {
	m := &Manifest{
		Targets: []Target{{Name: "pg_data", Type: TargetPath, Path: "/pgdata"}},
		Links:   []Link{{Name: "pg_wal", Destination: "/wal"}},
	}
	if err := m.LinkCheck(); err == nil {
		t.Fatal("expected error for link with no matching target")
	}
}

func TestLinkCheckRejectsNestedDestination(t *testing.T) {
	m := &Manifest{
		Targets: []Target{
			{Name: "pg_data", Type: TargetPath, Path: "/pgdata"},
			{Name: "pg_wal", Type: TargetLink, Path: "/pgdata/nested"},
		},
		Links: []Link{{Name: "pg_wal", Destination: "/pgdata/nested"}},
	}
	if err := m.LinkCheck(); err == nil {
		t.Fatal("expected error for link nested inside another target")
	}
}

func TestLinkCheckAllowsTablespaceException(t *testing.T) {
	m := &Manifest{
		Targets: []Target{
			{Name: "pg_data", Type: TargetPath, Path: "/pgdata"},
			{Name: "pg_tblspc/16500", Type: TargetLink, Path: "/pgdata/ts", TablespaceID: 16500},
		},
		Links: []Link{{Name: "pg_tblspc/16500", Destination: "/pgdata/ts"}},
	}
	if err := m.LinkCheck(); err != nil {
		t.Fatalf("tablespace link should be exempt from nesting check: %v", err)
	}
}

func TestBuildIncrementalReferencesUnchangedFile(t *testing.T) {
	prior := &Manifest{
		Data: Data{Label: "20230101-000000F", CipherSubPass: "subpass123"},
		Files: []File{
			{Name: "base/1/1", Size: 100, Timestamp: 10, Mode: 0o600, ChecksumSHA1: "aaa", Primary: true},
		},
	}
	current := &Manifest{
		Data: Data{Label: "20230101-000000F_20230102-000000I"},
		Files: []File{
			{Name: "base/1/1", Size: 100, Timestamp: 10, Mode: 0o600, Primary: true},
		},
	}
	BuildIncremental(current, prior, false)
	f, _ := current.FileByName("base/1/1")
	if f.Reference != prior.Data.Label {
		t.Errorf("expected reference to %q, got %q", prior.Data.Label, f.Reference)
	}
	if f.ChecksumSHA1 != "aaa" {
		t.Errorf("expected checksum inherited from prior, got %q", f.ChecksumSHA1)
	}
	if current.Data.CipherSubPass != "subpass123" {
		t.Errorf("expected cipher_sub_pass propagated from prior")
	}
}

func TestBuildIncrementalMarksChangedFileForCopy(t *testing.T) {
	prior := &Manifest{
		Data: Data{Label: "20230101-000000F"},
		Files: []File{
			{Name: "base/1/1", Size: 100, Timestamp: 10, Mode: 0o600, ChecksumSHA1: "aaa", Primary: true},
		},
	}
	current := &Manifest{
		Data: Data{Label: "20230101-000000F_20230102-000000I"},
		Files: []File{
			{Name: "base/1/1", Size: 200, Timestamp: 20, Mode: 0o600, Primary: true},
		},
	}
	BuildIncremental(current, prior, false)
	f, _ := current.FileByName("base/1/1")
	if f.Reference != "" {
		t.Errorf("changed file should not carry a reference, got %q", f.Reference)
	}
	if !f.Primary {
		t.Errorf("changed file should be marked primary (to be copied)")
	}
}

func TestBuildIncrementalDropsFileOnlyInPrior(t *testing.T) {
	prior := &Manifest{
		Data: Data{Label: "20230101-000000F"},
		Files: []File{
			{Name: "base/1/1", Size: 100, Timestamp: 10, Mode: 0o600, ChecksumSHA1: "aaa", Primary: true},
			{Name: "deleted_file", Size: 5, Timestamp: 10, Mode: 0o600, ChecksumSHA1: "bbb", Primary: true},
		},
	}
	current := &Manifest{
		Data: Data{Label: "20230101-000000F_20230102-000000I"},
		Files: []File{
			{Name: "base/1/1", Size: 100, Timestamp: 10, Mode: 0o600, Primary: true},
		},
	}
	BuildIncremental(current, prior, false)
	if len(current.Files) != 1 {
		t.Fatalf("expected dropped file to not appear in current, got %d files", len(current.Files))
	}
}

func TestBuildIncrementalForbidsOptionFlip(t *testing.T) {
	prior := &Manifest{Data: Data{OptionCompress: true, OptionHardlink: false, OptionChecksumPage: true}}
	current := &Manifest{Data: Data{OptionCompress: false, OptionHardlink: true, OptionChecksumPage: false}}
	BuildIncremental(current, prior, false)
	if current.Data.OptionCompress != true {
		t.Errorf("expected compress restored to prior value true, got %v", current.Data.OptionCompress)
	}
	if current.Data.OptionHardlink != false {
		t.Errorf("expected hardlink restored to prior value false, got %v", current.Data.OptionHardlink)
	}
	if current.Data.OptionChecksumPage != true {
		t.Errorf("expected checksum_page restored to prior value true, got %v", current.Data.OptionChecksumPage)
	}
}

func TestValidateForcesDeltaOnFutureTimestamp(t *testing.T) {
	now := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &Manifest{Files: []File{{Name: "f", Timestamp: now.Add(time.Hour).Unix()}}}
	if !Validate(m, false, 0, now) {
		t.Error("expected Validate to force delta for a future-timestamped file")
	}
}

func TestMustReread(t *testing.T) {
	f := File{Timestamp: 1000}
	if !MustReread(f, 999) {
		t.Error("file with timestamp >= copyStart-1 must be re-read")
	}
	if MustReread(f, 2000) {
		t.Error("file well before copyStart should not require re-read")
	}
}
