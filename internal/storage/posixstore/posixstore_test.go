package posixstore

import (
	"testing"

	"pig/internal/storage"
)

func TestWriteReadRoundTrip(t *testing.T) {
	s := NewMem("/repo")
	if err := storage.WriteFull(s, "a/b/c.txt", []byte("hello"), 0o640); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	data, err := storage.ReadFull(s, "a/b/c.txt", false)
	if err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("got %q", data)
	}
}

func TestAtomicWriteLeavesNoTmpOnSuccess(t *testing.T) {
	s := NewMem("/repo")
	if err := storage.WriteFull(s, "x.txt", []byte("content"), 0o640); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	info, err := s.Info("x.txt.tmp", false)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info != nil {
		t.Error("expected no leftover .tmp file after a successful atomic write")
	}
	info, err = s.Info("x.txt", false)
	if err != nil || info == nil {
		t.Fatalf("expected x.txt to exist, info=%v err=%v", info, err)
	}
}

func TestInfoReturnsNilForMissingPath(t *testing.T) {
	s := NewMem("/repo")
	info, err := s.Info("does/not/exist", false)
	if err != nil {
		t.Fatalf("Info should not error on missing path: %v", err)
	}
	if info != nil {
		t.Error("expected nil FileInfo for missing path")
	}
}

func TestReadIgnoreMissing(t *testing.T) {
	s := NewMem("/repo")
	r, err := s.Read("missing.txt", true, 0, 0)
	if err != nil {
		t.Fatalf("Read with ignoreMissing should not error: %v", err)
	}
	if r != nil {
		t.Error("expected nil reader for missing file with ignoreMissing")
	}
}

func TestReadMissingErrorsWithoutIgnore(t *testing.T) {
	s := NewMem("/repo")
	_, err := s.Read("missing.txt", false, 0, 0)
	if err == nil {
		t.Fatal("expected FileMissing error")
	}
}

func TestListInfoRecursesDepthFirst(t *testing.T) {
	s := NewMem("/repo")
	_ = storage.WriteFull(s, "dir1/file1", []byte("a"), 0o640)
	_ = storage.WriteFull(s, "dir1/sub/file2", []byte("b"), 0o640)
	_ = storage.WriteFull(s, "dir2/file3", []byte("c"), 0o640)

	var seen []string
	err := s.ListInfo("", true, storage.SortAsc, func(rel string, info storage.FileInfo) error {
		seen = append(seen, rel)
		return nil
	})
	if err != nil {
		t.Fatalf("ListInfo: %v", err)
	}
	want := map[string]bool{"dir1": true, "dir1/file1": true, "dir1/sub": true, "dir1/sub/file2": true, "dir2": true, "dir2/file3": true}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want entries %v", seen, want)
	}
	for _, s := range seen {
		if !want[s] {
			t.Errorf("unexpected entry %q", s)
		}
	}
}

func TestRemoveNonRecursiveRejectsNonEmpty(t *testing.T) {
	s := NewMem("/repo")
	_ = storage.WriteFull(s, "dir/file", []byte("x"), 0o640)
	err := s.Remove("dir", false)
	if err == nil {
		t.Fatal("expected PathNotEmpty error removing non-empty dir without recurse")
	}
}

func TestRemoveRecursiveSucceeds(t *testing.T) {
	s := NewMem("/repo")
	_ = storage.WriteFull(s, "dir/file", []byte("x"), 0o640)
	if err := s.Remove("dir", true); err != nil {
		t.Fatalf("Remove(recurse=true): %v", err)
	}
	info, _ := s.Info("dir", false)
	if info != nil {
		t.Error("expected dir to be gone after recursive remove")
	}
}

func TestCopy(t *testing.T) {
	s := NewMem("/repo")
	_ = storage.WriteFull(s, "src.txt", []byte("payload"), 0o640)
	if err := s.Copy("src.txt", "dst.txt"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	data, err := storage.ReadFull(s, "dst.txt", false)
	if err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("got %q", data)
	}
}

func TestPathCreateAndExists(t *testing.T) {
	s := NewMem("/repo")
	if err := s.PathCreate("newdir", 0o750, false, false); err != nil {
		t.Fatalf("PathCreate: %v", err)
	}
	ok, err := s.PathExists("newdir")
	if err != nil || !ok {
		t.Fatalf("PathExists: ok=%v err=%v", ok, err)
	}
}

func TestPathCreateErrorOnExists(t *testing.T) {
	s := NewMem("/repo")
	if err := s.PathCreate("dir", 0o750, false, false); err != nil {
		t.Fatalf("PathCreate: %v", err)
	}
	err := s.PathCreate("dir", 0o750, false, true)
	if err == nil {
		t.Fatal("expected error creating an already-existing path with errorOnExists")
	}
}

func TestMove(t *testing.T) {
	s := NewMem("/repo")
	_ = storage.WriteFull(s, "a.txt", []byte("moved"), 0o640)
	if err := s.Move("a.txt", "b.txt"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if info, _ := s.Info("a.txt", false); info != nil {
		t.Error("expected source gone after move")
	}
	data, err := storage.ReadFull(s, "b.txt", false)
	if err != nil || string(data) != "moved" {
		t.Fatalf("got %q, err=%v", data, err)
	}
}

func TestLinkCreateAndInfo(t *testing.T) {
	s := NewMem("/repo")
	if err := s.LinkCreate("pg_tblspc/16500", "/elsewhere/ts"); err != nil {
		t.Fatalf("LinkCreate: %v", err)
	}
	info, err := s.Info("pg_tblspc/16500", false)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info == nil || info.Type != storage.TypeLink {
		t.Fatalf("expected link entry, got %+v", info)
	}
	if info.LinkTarget != "/elsewhere/ts" {
		t.Errorf("LinkTarget = %q, want /elsewhere/ts", info.LinkTarget)
	}
}

func TestFeatureFlagsAllTrueOnPosix(t *testing.T) {
	s := NewMem("/repo")
	for _, f := range []storage.Feature{storage.FeatureHardLink, storage.FeaturePath, storage.FeatureLink, storage.FeatureCompress, storage.FeatureOwner} {
		if !s.Feature(f) {
			t.Errorf("expected feature %v to be true for posix store", f)
		}
	}
}

func TestListExpressionFilter(t *testing.T) {
	s := NewMem("/repo")
	_ = storage.WriteFull(s, "base/16384/16385", []byte("x"), 0o640)
	_ = storage.WriteFull(s, "base/16384/16386", []byte("y"), 0o640)
	_ = storage.WriteFull(s, "base/16384/PG_VERSION", []byte("12"), 0o640)

	names, err := s.List("base/16384", `\d+`)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %v, want 2 numeric names", names)
	}
}
