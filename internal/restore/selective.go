package restore

import (
	"strconv"
	"strings"

	"pig/internal/manifest"
	"pig/internal/xerr"
)

// pgUserObjectMinID is PG_USER_OBJECT_MIN_ID: OIDs below this are system
// catalogs and are always restored in full regardless of db-include.
const pgUserObjectMinID = 16384

// buildExcludedDBSet implements spec.md §4.6 step 8: resolve db-include
// against the manifest's db list, returning the set of database OIDs
// whose data files should be zero-filled rather than restored. A nil,
// empty result means no selective restore is in effect.
func buildExcludedDBSet(dbInclude []string, dbList []manifest.Db) (map[uint32]bool, error) {
	if len(dbInclude) == 0 {
		return nil, nil
	}
	included := map[string]bool{}
	for _, name := range dbInclude {
		included[name] = true
	}

	known := map[string]bool{}
	excluded := map[uint32]bool{}
	for _, db := range dbList {
		known[db.Name] = true
		if db.ID < pgUserObjectMinID {
			continue // system database, always included
		}
		if !included[db.Name] {
			excluded[db.ID] = true
		}
	}
	for name := range included {
		if !known[name] {
			return nil, xerr.New(xerr.OptionInvalid, "db-include %q does not exist in this backup", name)
		}
	}
	return excluded, nil
}

// isZeroFillTarget reports whether name (a file path relative to pg_data)
// belongs to an excluded database's data directory, per spec.md §4.6 step
// 8: base/<dbid>/... or pg_tblspc/<oid>/.../<dbid>/..., always excepting
// PG_VERSION.
func isZeroFillTarget(name string, excluded map[uint32]bool) bool {
	if len(excluded) == 0 {
		return false
	}
	if strings.HasSuffix(name, "/PG_VERSION") || name == "PG_VERSION" {
		return false
	}

	if rest, ok := strings.CutPrefix(name, "base/"); ok {
		id := rest
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			id = rest[:idx]
		}
		return excludedID(id, excluded)
	}
	if rest, ok := strings.CutPrefix(name, "pg_tblspc/"); ok {
		for _, part := range strings.Split(rest, "/") {
			if excludedID(part, excluded) {
				return true
			}
		}
	}
	return false
}

func excludedID(s string, excluded map[uint32]bool) bool {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return false
	}
	return excluded[uint32(id)]
}
