// Package posixstore implements internal/storage.Storage over a local or
// in-memory filesystem via github.com/spf13/afero, the idiomatic Go
// generalization of the teacher's direct os/os.exec file helpers into a
// swappable filesystem.
package posixstore

import (
	"io"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"syscall"

	"github.com/spf13/afero"

	"pig/internal/storage"
	"pig/internal/xerr"
)

// Store is a storage.Storage backed by an afero.Fs rooted at Base.
type Store struct {
	Fs   afero.Fs
	Base string
}

// New returns a Store rooted at base using the real OS filesystem.
func New(base string) *Store {
	return &Store{Fs: afero.NewOsFs(), Base: base}
}

// NewMem returns a Store backed by an in-memory filesystem, for tests.
func NewMem(base string) *Store {
	return &Store{Fs: afero.NewMemMapFs(), Base: base}
}

func (s *Store) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.Base, p)
}

func toEntryType(fi os.FileInfo) storage.EntryType {
	mode := fi.Mode()
	switch {
	case mode.IsRegular():
		return storage.TypeFile
	case mode.IsDir():
		return storage.TypePath
	case mode&os.ModeSymlink != 0:
		return storage.TypeLink
	default:
		return storage.TypeSpecial
	}
}

func ownerOf(fi os.FileInfo) (userName, groupName string) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return "", ""
	}
	userName = strconv.FormatUint(uint64(st.Uid), 10)
	if u, err := user.LookupId(userName); err == nil {
		userName = u.Username
	}
	groupName = strconv.FormatUint(uint64(st.Gid), 10)
	if g, err := user.LookupGroupId(groupName); err == nil {
		groupName = g.Name
	}
	return userName, groupName
}

func (s *Store) Info(path string, followLink bool) (*storage.FileInfo, error) {
	abs := s.abs(path)
	var fi os.FileInfo
	var err error
	if followLink {
		fi, err = s.Fs.Stat(abs)
	} else {
		lfs, ok := s.Fs.(afero.Lstater)
		if ok {
			fi, _, err = lfs.LstatIfPossible(abs)
		} else {
			fi, err = s.Fs.Stat(abs)
		}
	}
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.FileOpen, err, "stat %s", path)
	}
	user, group := ownerOf(fi)
	out := &storage.FileInfo{
		Type:    toEntryType(fi),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Mode:    uint32(fi.Mode().Perm()),
		User:    user,
		Group:   group,
	}
	if out.Type == storage.TypeLink {
		if lr, ok := s.Fs.(interface{ Readlink(string) (string, error) }); ok {
			if target, err := lr.Readlink(abs); err == nil {
				out.LinkTarget = target
			}
		} else if target, err := os.Readlink(abs); err == nil {
			out.LinkTarget = target
		}
	}
	return out, nil
}

func (s *Store) List(path string, expr string) ([]string, error) {
	abs := s.abs(path)
	entries, err := afero.ReadDir(s.Fs, abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerr.New(xerr.PathMissing, "list %s: path missing", path)
		}
		return nil, xerr.Wrap(xerr.FileOpen, err, "list %s", path)
	}
	var re *regexp.Regexp
	if expr != "" {
		re, err = regexp.Compile("^" + expr + "$")
		if err != nil {
			return nil, xerr.Wrap(xerr.OptionInvalidValue, err, "invalid list expression %q", expr)
		}
	}
	var names []string
	for _, e := range entries {
		if re != nil && !re.MatchString(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *Store) ListInfo(path string, recurse bool, order storage.SortOrder, cb storage.ListCallback) error {
	return s.listInfo(path, "", recurse, order, cb)
}

func (s *Store) listInfo(path, prefix string, recurse bool, order storage.SortOrder, cb storage.ListCallback) error {
	names, err := s.List(path, "")
	if err != nil {
		return err
	}
	if order == storage.SortAsc {
		sort.Strings(names)
	} else if order == storage.SortDesc {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}
	for _, name := range names {
		childPath := filepath.Join(path, name)
		relName := name
		if prefix != "" {
			relName = prefix + "/" + name
		}
		info, err := s.Info(childPath, false)
		if err != nil {
			return err
		}
		if info == nil {
			continue
		}
		if err := cb(relName, *info); err != nil {
			return err
		}
		if recurse && info.Type == storage.TypePath {
			if err := s.listInfo(childPath, relName, recurse, order, cb); err != nil {
				return err
			}
		}
	}
	return nil
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error { return r.closer.Close() }

func (s *Store) Read(path string, ignoreMissing bool, offset, limit int64) (io.ReadCloser, error) {
	abs := s.abs(path)
	f, err := s.Fs.Open(abs)
	if os.IsNotExist(err) {
		if ignoreMissing {
			return nil, nil
		}
		return nil, xerr.New(xerr.FileMissing, "file missing: %s", path)
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.FileOpen, err, "open %s", path)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, xerr.Wrap(xerr.FileRead, err, "seek %s", path)
		}
	}
	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit)
	}
	return &readCloser{Reader: r, closer: f}, nil
}

type atomicWriter struct {
	store   *Store
	tmpPath string
	dstPath string
	opts    storage.WriteOptions
	f       afero.File
	closed  bool
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, xerr.Wrap(xerr.FileWrite, err, "write %s", w.dstPath)
	}
	return n, nil
}

func (w *atomicWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Close(); err != nil {
		w.store.Fs.Remove(w.tmpPath)
		return xerr.Wrap(xerr.FileWrite, err, "close %s", w.dstPath)
	}
	if w.opts.Mode != 0 {
		w.store.Fs.Chmod(w.tmpPath, os.FileMode(w.opts.Mode))
	}
	if w.tmpPath != w.dstPath {
		if err := w.store.Fs.Rename(w.tmpPath, w.dstPath); err != nil {
			w.store.Fs.Remove(w.tmpPath)
			return xerr.Wrap(xerr.FileWrite, err, "rename into place %s", w.dstPath)
		}
	}
	if !w.opts.NoSyncPath {
		w.store.PathSync(filepath.Dir(w.dstPath))
	}
	return nil
}

func (s *Store) Write(path string, opts storage.WriteOptions) (io.WriteCloser, error) {
	abs := s.abs(path)
	if opts.CreatePath {
		if err := s.Fs.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
			return nil, xerr.Wrap(xerr.PathCreate, err, "create parent of %s", path)
		}
	}
	target := abs
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if opts.Atomic {
		target = abs + ".tmp"
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	mode := os.FileMode(0o640)
	if opts.Mode != 0 {
		mode = os.FileMode(opts.Mode)
	}
	f, err := s.Fs.OpenFile(target, flags, mode)
	if err != nil {
		return nil, xerr.Wrap(xerr.FileOpen, err, "open %s for write", path)
	}
	return &atomicWriter{store: s, tmpPath: target, dstPath: abs, opts: opts, f: f}, nil
}

func (s *Store) Copy(src, dst string) error {
	r, err := s.Read(src, false, 0, 0)
	if err != nil {
		return err
	}
	defer r.Close()
	w, err := s.Write(dst, storage.WriteOptions{Atomic: true, CreatePath: true})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return xerr.Wrap(xerr.FileWrite, err, "copy %s -> %s", src, dst)
	}
	return w.Close()
}

func (s *Store) Remove(path string, recurse bool) error {
	abs := s.abs(path)
	if recurse {
		if err := s.Fs.RemoveAll(abs); err != nil {
			return xerr.Wrap(xerr.FileWrite, err, "remove %s", path)
		}
		return nil
	}
	entries, err := afero.ReadDir(s.Fs, abs)
	if err == nil && len(entries) > 0 {
		return xerr.New(xerr.PathNotEmpty, "path not empty: %s", path)
	}
	if err := s.Fs.Remove(abs); err != nil && !os.IsNotExist(err) {
		return xerr.Wrap(xerr.FileWrite, err, "remove %s", path)
	}
	return nil
}

func (s *Store) PathCreate(path string, mode uint32, noParentCreate bool, errorOnExists bool) error {
	abs := s.abs(path)
	if errorOnExists {
		if _, err := s.Fs.Stat(abs); err == nil {
			return xerr.New(xerr.PathCreate, "path already exists: %s", path)
		}
	}
	m := os.FileMode(0o750)
	if mode != 0 {
		m = os.FileMode(mode)
	}
	var err error
	if noParentCreate {
		err = s.Fs.Mkdir(abs, m)
	} else {
		err = s.Fs.MkdirAll(abs, m)
	}
	if err != nil && !os.IsExist(err) {
		return xerr.Wrap(xerr.PathCreate, err, "create path %s", path)
	}
	return nil
}

// PathSync fsyncs the directory at path, when the underlying Fs exposes a
// real *os.File (afero's in-memory Fs has nothing to sync).
func (s *Store) PathSync(path string) error {
	abs := s.abs(path)
	osFs, ok := s.Fs.(*afero.OsFs)
	if !ok {
		_ = osFs
		return nil
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil
	}
	defer f.Close()
	return f.Sync()
}

func (s *Store) Move(src, dst string) error {
	if err := s.Fs.Rename(s.abs(src), s.abs(dst)); err != nil {
		return xerr.Wrap(xerr.FileWrite, err, "move %s -> %s", src, dst)
	}
	return nil
}

// LinkCreate materializes a symlink via afero.Linker (OsFs and MemMapFs
// both implement it); any parent directory is created first since restore
// creates links before the rest of their target tree may exist.
func (s *Store) LinkCreate(name, destination string) error {
	abs := s.abs(name)
	if err := s.Fs.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return xerr.Wrap(xerr.PathCreate, err, "create parent of %s", name)
	}
	linker, ok := s.Fs.(afero.Linker)
	if !ok {
		return xerr.New(xerr.FileWrite, "filesystem does not support symlinks")
	}
	if err := linker.SymlinkIfPossible(destination, abs); err != nil {
		return xerr.Wrap(xerr.FileWrite, err, "create link %s -> %s", name, destination)
	}
	return nil
}

func (s *Store) Exists(path string) (bool, error) {
	info, err := s.Info(path, true)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

func (s *Store) PathExists(path string) (bool, error) {
	info, err := s.Info(path, true)
	if err != nil {
		return false, err
	}
	return info != nil && info.Type == storage.TypePath, nil
}

func (s *Store) Feature(f storage.Feature) bool {
	switch f {
	case storage.FeatureHardLink, storage.FeaturePath, storage.FeatureLink, storage.FeatureCompress, storage.FeatureOwner:
		return true
	default:
		return false
	}
}
