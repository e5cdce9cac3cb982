package backup

import (
	"compress/gzip"

	"pig/internal/config"
	"pig/internal/iofilter"
	"pig/internal/manifest"
	"pig/internal/storage"
	"pig/internal/xerr"
)

// retainHistory implements spec.md §4.5 step 13: after a backup finishes,
// a gzip-compressed copy of its manifest is kept under
// backup.history/<YYYY>/<label>.manifest.gz, encrypted the same way the
// live backup.manifest is (the archive cipher pass, not cipher_sub_pass —
// a history entry records the manifest, not file bytes). backup.info
// already carries everything needed to list or prune a stanza's backups;
// history exists purely so an operator can recover the shape of a backup
// that has since aged out of backup.info.
func (e *Engine) retainHistory(m *manifest.Manifest, archiveCipherPass string) error {
	label := m.Data.Label
	if len(label) < 4 {
		return xerr.New(xerr.Assert, "backup label %q too short for history retention", label)
	}
	historyPath := e.stanzaPath("backup.history", label[:4], label+".manifest.gz")

	rendered, err := manifest.Render(m, config.Version)
	if err != nil {
		return err
	}

	w, err := e.Repo.Write(historyPath, storage.WriteOptions{Mode: 0o640, Atomic: true, CreatePath: true})
	if err != nil {
		return err
	}

	stage := w
	if archiveCipherPass != "" {
		stage = iofilter.NewCipherBlockWrite(archiveCipherPass, stage)
	}
	gz, err := iofilter.NewGzipWrite(gzip.DefaultCompression, stage)
	if err != nil {
		w.Close()
		return err
	}
	if _, werr := gz.Write(rendered); werr != nil {
		return werr
	}
	return gz.Close()
}
