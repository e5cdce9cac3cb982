package backup

import (
	"compress/gzip"
	"context"
	"io"
	"sync"

	"pig/internal/executor"
	"pig/internal/iofilter"
	"pig/internal/manifest"
	"pig/internal/pagechecksum"
	"pig/internal/storage"
	"pig/internal/xerr"
)

// copyFiles implements spec.md §4.5 step 10: every non-referenced file in
// m is copied from PgStore to Repo through a Size->Hash->[PageValidate]->
// [Gzip]->Cipher write pipeline, dispatched across Cfg.ProcessMax workers
// via internal/executor. Referenced files (already satisfied by an
// earlier backup) are skipped entirely — they were marked during
// manifest.BuildIncremental, before copyFiles ever sees them.
//
// Repo layout keeps every file under backup/<label>/pg_data/<name>,
// including tablespace-link targets, rather than the original engine's
// per-tablespace repo subtree: simpler bookkeeping for this workspace,
// and restore only ever needs the manifest's own Target table to know
// where a name belongs on disk.
func (e *Engine) copyFiles(ctx context.Context, m *manifest.Manifest, prior *manifest.Manifest) error {
	var queue []*manifest.File
	for i := range m.Files {
		if m.Files[i].Reference != "" {
			continue
		}
		queue = append(queue, &m.Files[i])
	}

	var mu sync.Mutex
	source := func(workerIdx int) executor.Job {
		mu.Lock()
		defer mu.Unlock()
		if len(queue) == 0 {
			return nil
		}
		f := queue[0]
		queue = queue[1:]

		var priorFile *manifest.File
		if prior != nil {
			if pf, ok := prior.FileByName(f.Name); ok {
				priorFile = pf
			}
		}
		return &copyJob{
			e:                  e,
			file:               f,
			priorFile:          priorFile,
			priorManifestLabel: priorManifestLabel(prior),
			label:              m.Data.Label,
			cipherSubPass:      m.Data.CipherSubPass,
			compress:           m.Data.OptionCompress,
			checksumPage:       m.Data.OptionChecksumPage,
			delta:              e.Cfg.Delta,
		}
	}

	workers := e.Cfg.ProcessMax
	if workers < 1 {
		workers = 1
	}
	ex := executor.Executor{WorkerCount: workers, Source: source}
	return ex.Run(ctx)
}

func priorManifestLabel(prior *manifest.Manifest) string {
	if prior == nil {
		return ""
	}
	return prior.Data.Label
}

// copyJob is the executor.Job for one file. Its Run method only ever
// touches file, a pointer into the current manifest's own Files slice —
// distinct elements of that slice never alias each other, so concurrent
// workers writing their own file's fields race-free without a lock.
type copyJob struct {
	e                  *Engine
	file               *manifest.File
	priorFile          *manifest.File
	priorManifestLabel string
	label              string
	cipherSubPass      string
	compress           bool
	checksumPage       bool
	delta              bool
}

func (j *copyJob) Run(ctx context.Context, workerIdx int) error {
	f := j.file

	src, err := j.e.PgStore.Read(f.Name, true, 0, 0)
	if err != nil {
		return xerr.Wrap(xerr.FileRead, err, "open %s for copy", f.Name)
	}
	if src == nil {
		// Vanished between the manifest walk and the copy pass; nothing
		// to send, and nothing to reference either.
		f.Primary = false
		return nil
	}
	defer src.Close()

	destPath := j.e.stanzaPath("backup", j.label, "pg_data", f.Name)
	dest, err := j.e.Repo.Write(destPath, storage.WriteOptions{Mode: f.Mode, Atomic: true, CreatePath: true})
	if err != nil {
		return err
	}

	// repoSizeStage sits directly on dest so it counts the bytes that land
	// in the repository, after compression and encryption.
	repoSizeStage := iofilter.NewSizeWrite(dest)
	var stage io.WriteCloser = repoSizeStage
	if j.cipherSubPass != "" {
		stage = iofilter.NewCipherBlockWrite(j.cipherSubPass, stage)
	}
	if j.compress {
		gz, gerr := iofilter.NewGzipWrite(gzip.DefaultCompression, stage)
		if gerr != nil {
			dest.Close()
			return gerr
		}
		stage = gz
	}
	var pageStage *iofilter.PageValidateWrite
	if j.checksumPage && !pagechecksum.ExemptName(f.Name) {
		pageStage = iofilter.NewPageValidateWrite(stage)
		stage = pageStage
	}
	hashStage, herr := iofilter.NewHashWrite(iofilter.SHA1, stage)
	if herr != nil {
		dest.Close()
		return herr
	}
	stage = hashStage
	sizeStage := iofilter.NewSizeWrite(stage)
	stage = sizeStage

	written, cerr := io.Copy(stage, src)
	if cerr != nil {
		stage.Close()
		return xerr.Wrap(xerr.FileWrite, cerr, "copy %s", f.Name)
	}
	if err := stage.Close(); err != nil {
		return err
	}

	f.Size = uint64(written)
	f.SizeRepo = repoSizeStage.Result().(uint64)
	f.ChecksumSHA1 = hashStage.Result().(string)
	f.Primary = true
	if pageStage != nil {
		v := pageStage.Result().(*pagechecksum.Validator)
		ok := !v.HasErrors()
		f.ChecksumPage = &ok
		f.ChecksumPageError = v.Errors()
	}

	// Delta dedup: a file that only partial-matched the prior backup
	// (same size/timestamp uncertain enough to warrant a fresh read) but
	// turned out byte-identical becomes a reference instead of holding
	// its own copy, per spec.md §4.5 step 10.
	if j.delta && j.priorFile != nil &&
		f.Size == j.priorFile.Size && f.ChecksumSHA1 == j.priorFile.ChecksumSHA1 {
		ref := j.priorFile.Reference
		if ref == "" {
			ref = j.priorManifestLabel
		}
		f.SizeRepo = j.priorFile.SizeRepo
		f.ChecksumPage = j.priorFile.ChecksumPage
		f.ChecksumPageError = j.priorFile.ChecksumPageError
		return markSkippedAsReferenced(f, ref, destPath, j.e.Repo)
	}

	return nil
}
