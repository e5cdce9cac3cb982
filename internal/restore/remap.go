package restore

import (
	"path"

	"pig/internal/manifest"
	"pig/internal/xerr"
)

// remapTargets implements spec.md §4.6 step 4: point pg_data at destPath,
// apply the tablespace and link maps, and drop any non-tablespace link
// target the caller did not explicitly map (so its contents restore as a
// plain directory in place instead of a symlink).
func remapTargets(m *manifest.Manifest, destPath string, opts Options) error {
	if len(m.Targets) == 0 || m.Targets[0].Name != "pg_data" {
		return xerr.New(xerr.Assert, "manifest has no pg_data target")
	}
	m.Targets[0].Path = destPath

	var kept []manifest.Target
	kept = append(kept, m.Targets[0])
	dropped := map[string]bool{}

	for _, t := range m.Targets[1:] {
		if t.TablespaceID != 0 {
			byName, okName := opts.TablespaceMapByName[t.TablespaceName]
			byID, okID := opts.TablespaceMapByID[t.TablespaceID]
			if okName && okID && byName != byID {
				return xerr.New(xerr.TablespaceMap,
					"tablespace %q mapped to two different paths by name (%s) and id (%s)", t.TablespaceName, byName, byID)
			}
			switch {
			case okName:
				t.Path = byName
			case okID:
				t.Path = byID
			case opts.TablespaceMapAll != "":
				t.Path = path.Join(opts.TablespaceMapAll, t.TablespaceName)
			}
			kept = append(kept, t)
			continue
		}

		if mapped, ok := opts.LinkMap[t.Name]; ok {
			t.Path = mapped
			kept = append(kept, t)
			continue
		}
		if opts.LinkAll {
			kept = append(kept, t)
			continue
		}
		// Not mapped and link-all is off: the link target is dropped: its
		// contents restore as an ordinary directory at t.Name instead.
		dropped[t.Name] = true
	}
	m.Targets = kept

	if len(dropped) > 0 {
		var links []manifest.Link
		for _, l := range m.Links {
			if !dropped[l.Name] {
				links = append(links, l)
			}
		}
		m.Links = links
	}
	return nil
}

// resolveOwnership implements spec.md §4.6 step 6.
func resolveOwnership(m *manifest.Manifest, asRoot bool, pgDataUser, pgDataGroup string) {
	fill := func(user, group string) (string, string) {
		if !asRoot {
			return "", ""
		}
		if user == "" {
			user = pgDataUser
		}
		if group == "" {
			group = pgDataGroup
		}
		return user, group
	}
	for i := range m.Files {
		m.Files[i].User, m.Files[i].Group = fill(m.Files[i].User, m.Files[i].Group)
	}
	for i := range m.Links {
		m.Links[i].User, m.Links[i].Group = fill(m.Links[i].User, m.Links[i].Group)
	}
	for i := range m.Paths {
		m.Paths[i].User, m.Paths[i].Group = fill(m.Paths[i].User, m.Paths[i].Group)
	}
}
