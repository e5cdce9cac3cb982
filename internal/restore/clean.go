package restore

import (
	"path"

	"pig/internal/manifest"
	"pig/internal/storage"
	"pig/internal/xerr"
)

// manifestIndex gives clean and copy O(1) lookups by name over a
// manifest's files/links/paths.
type manifestIndex struct {
	files map[string]*manifest.File
	links map[string]*manifest.Link
	paths map[string]*manifest.Path
}

func newManifestIndex(m *manifest.Manifest) *manifestIndex {
	idx := &manifestIndex{
		files: map[string]*manifest.File{},
		links: map[string]*manifest.Link{},
		paths: map[string]*manifest.Path{},
	}
	for i := range m.Files {
		idx.files[m.Files[i].Name] = &m.Files[i]
	}
	for i := range m.Links {
		idx.links[m.Links[i].Name] = &m.Links[i]
	}
	for i := range m.Paths {
		idx.paths[m.Paths[i].Name] = &m.Paths[i]
	}
	return idx
}

func (idx *manifestIndex) has(name string) bool {
	if _, ok := idx.files[name]; ok {
		return true
	}
	if _, ok := idx.links[name]; ok {
		return true
	}
	if _, ok := idx.paths[name]; ok {
		return true
	}
	return false
}

// joinName maps a target-relative entry name back to its pg_data-relative
// manifest name: root "." (pg_data itself) leaves rel untouched, any other
// root (a tablespace link's own name) is prefixed, matching how
// manifest.BuildFromCluster recorded tablespace file names in the first
// place (spec.md §4.4 step 1).
func joinName(root, rel string) string {
	if root == "." || root == "" {
		return rel
	}
	return path.Join(root, rel)
}

// clean implements spec.md §4.6.1: pre-clean pg_control unlink, then per
// target either abort on any unexpected entry (delta/force off) or
// reconcile-or-remove each entry (delta/force on), then materialize any
// manifest path/link missing from the destination.
func (e *Engine) clean(m *manifest.Manifest, delta, force bool) error {
	if err := e.PgStore.Remove("global/pg_control", false); err != nil && !xerr.Is(err, xerr.FileMissing) {
		return err
	}
	if err := e.PgStore.PathSync("global"); err != nil {
		return err
	}

	idx := newManifestIndex(m)
	for _, t := range m.Targets {
		if err := e.cleanTarget(t, idx, delta, force); err != nil {
			return err
		}
	}

	for _, p := range m.Paths {
		exists, err := e.PgStore.PathExists(p.Name)
		if err != nil {
			return err
		}
		if !exists {
			if err := e.PgStore.PathCreate(p.Name, p.Mode, true, false); err != nil {
				return err
			}
		}
	}
	for _, l := range m.Links {
		exists, err := e.PgStore.Exists(l.Name)
		if err != nil {
			return err
		}
		if exists || !e.PgStore.Feature(storage.FeatureLink) {
			continue
		}
		if err := e.PgStore.LinkCreate(l.Name, l.Destination); err != nil {
			return err
		}
	}
	return nil
}

type cleanAction struct {
	name    string
	recurse bool
}

func (e *Engine) cleanTarget(t manifest.Target, idx *manifestIndex, delta, force bool) error {
	root := targetRoot(t)
	info, err := e.PgStore.Info(root, true)
	if err != nil {
		return err
	}
	if info == nil || info.Type != storage.TypePath {
		return xerr.New(xerr.PathOpen, "restore target %q is missing or not a directory", root)
	}
	if info.Mode&0o700 != 0o700 {
		return xerr.New(xerr.PathOpen, "restore target %q does not permit owner rwx", root)
	}

	if !delta && !force {
		return e.PgStore.ListInfo(root, true, storage.SortNone, func(rel string, fi storage.FileInfo) error {
			name := joinName(root, rel)
			if name == "backup.manifest" {
				return nil
			}
			if !idx.has(name) {
				return xerr.New(xerr.PathNotEmpty, "restore target %q not empty: unexpected entry %q", root, name).
					WithHint("use delta or force, or empty the destination first")
			}
			return nil
		})
	}

	// delta or force: a read-only pass decides what must go, a second pass
	// removes it — ListInfo recurses into directories after invoking the
	// callback, so removing a directory mid-walk would make that recursion
	// fail on a now-missing path.
	var removals []cleanAction
	err = e.PgStore.ListInfo(root, true, storage.SortNone, func(rel string, fi storage.FileInfo) error {
		name := joinName(root, rel)
		if name == "backup.manifest" {
			return nil
		}
		switch fi.Type {
		case storage.TypeFile:
			if _, ok := idx.files[name]; !ok {
				removals = append(removals, cleanAction{name, false})
			}
		case storage.TypeLink:
			l, ok := idx.links[name]
			if !ok || l.Destination != fi.LinkTarget {
				removals = append(removals, cleanAction{name, false})
			}
		case storage.TypePath:
			if _, ok := idx.paths[name]; !ok {
				removals = append(removals, cleanAction{name, true})
			}
		default:
			removals = append(removals, cleanAction{name, true})
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, a := range removals {
		if rerr := e.PgStore.Remove(a.name, a.recurse); rerr != nil && !xerr.Is(rerr, xerr.FileMissing) {
			return rerr
		}
	}
	return nil
}
