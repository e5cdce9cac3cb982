package backup

import (
	"path"

	"pig/internal/manifest"
	"pig/internal/repo"
	"pig/internal/storage"
)

// buildIncrPrior implements spec.md §4.5 step 5: walk backup.info's
// current history newest-first, pick the first entry with a matching
// pg_id (and, for Diff, type Full), load and adjust its manifest. A nil
// result (no error) means the caller should demote to Full.
func (e *Engine) buildIncrPrior(backupInfo *repo.BackupInfo, current *manifest.Manifest, archiveCipherPass string) (*manifest.Manifest, error) {
	labels := backupInfo.Labels()
	for i := len(labels) - 1; i >= 0; i-- {
		entry := backupInfo.Backups[labels[i]]
		if entry.PgID != current.Data.PgID {
			continue
		}
		if current.Data.Type == manifest.Diff && entry.Type != string(manifest.Full) {
			continue
		}
		priorPath := e.stanzaPath("backup", entry.Label, "backup.manifest")
		prior, err := loadManifest(e.Repo, priorPath, archiveCipherPass)
		if err != nil {
			return nil, err
		}
		if prior == nil {
			continue
		}
		// A prior lacking checksum_page entirely loads as false, the same
		// value an explicit disable would carry; either way the current
		// manifest silently inherits it, matching spec.md §4.5's
		// backward-compat rule.
		if prior.Data.OptionChecksumPage != current.Data.OptionChecksumPage {
			current.Data.OptionChecksumPage = prior.Data.OptionChecksumPage
		}
		return prior, nil
	}
	return nil, nil
}

// detectResume implements spec.md §4.5 step 7: find the single most
// recent backup.manifest.copy with no sibling backup.manifest, load it,
// and judge whether it is usable (same version/type/prior/compress/
// hardlink as the manifest we are about to run). Unusable candidates are
// removed; only one candidate is ever considered.
func (e *Engine) detectResume(current *manifest.Manifest) (*manifest.Manifest, error) {
	entries, err := e.Repo.List(e.stanzaPath("backup"), "")
	if err != nil {
		return nil, err
	}
	newest := newestLabel(entries)
	if newest == "" {
		return nil, nil
	}
	dir := e.stanzaPath("backup", newest)
	copyPath := path.Join(dir, "backup.manifest.copy")
	finalPath := path.Join(dir, "backup.manifest")

	hasCopy, err := e.Repo.Exists(copyPath)
	if err != nil || !hasCopy {
		return nil, err
	}
	hasFinal, err := e.Repo.Exists(finalPath)
	if err != nil {
		return nil, err
	}
	if hasFinal {
		return nil, nil // already complete, not a resume candidate
	}

	candidate, err := loadManifest(e.Repo, copyPath, "")
	if err != nil {
		// Unreadable copy: treat it as unusable, remove and continue fresh.
		_ = e.Repo.Remove(dir, true)
		return nil, nil
	}
	if candidate == nil {
		return nil, nil
	}

	usable := candidate.Data.Type == current.Data.Type &&
		candidate.Data.PriorLabel == current.Data.PriorLabel &&
		candidate.Data.OptionCompress == current.Data.OptionCompress &&
		candidate.Data.OptionHardlink == current.Data.OptionHardlink &&
		candidate.Data.BackrestVersion == current.Data.BackrestVersion
	if !usable {
		_ = e.Repo.Remove(dir, true)
		return nil, nil
	}
	return candidate, nil
}

func newestLabel(entries []string) string {
	var newest string
	for _, e := range entries {
		if e > newest {
			newest = e
		}
	}
	return newest
}

// markSkippedAsReferenced unifies delta-copy-skip bookkeeping used by the
// copy pipeline: when a fresh read turns out byte-identical to the
// prior's, the file becomes a reference instead of holding its own
// bytes, and the just-written output is removed.
func markSkippedAsReferenced(f *manifest.File, priorLabel string, repoPath string, s storage.Storage) error {
	f.Reference = priorLabel
	f.Primary = false
	return s.Remove(repoPath, false)
}
