package restore

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"pig/internal/executor"
	"pig/internal/iofilter"
	"pig/internal/manifest"
	"pig/internal/storage"
	"pig/internal/xerr"
)

// fileQueue is one target's files, ordered largest-first per spec.md
// §4.7 ("within one queue, larger files start earlier").
type fileQueue struct {
	root  string
	files []*manifest.File
}

// buildQueues implements spec.md §4.6 step 10: one queue per target root,
// each file assigned to the queue whose root is the longest prefix match
// of its name.
func buildQueues(m *manifest.Manifest) []*fileQueue {
	roots := make([]string, len(m.Targets))
	queues := make(map[string]*fileQueue, len(m.Targets))
	for i, t := range m.Targets {
		root := targetRoot(t)
		roots[i] = root
		queues[root] = &fileQueue{root: root}
	}

	for i := range m.Files {
		f := &m.Files[i]
		best, bestLen := ".", -1
		for _, root := range roots {
			if root == "." {
				continue
			}
			if f.Name == root || strings.HasPrefix(f.Name, root+"/") {
				if len(root) > bestLen {
					best, bestLen = root, len(root)
				}
			}
		}
		queues[best].files = append(queues[best].files, f)
	}

	out := make([]*fileQueue, 0, len(roots))
	for _, root := range roots {
		q := queues[root]
		sort.Slice(q.files, func(i, j int) bool {
			if q.files[i].Size != q.files[j].Size {
				return q.files[i].Size > q.files[j].Size
			}
			return q.files[i].Name < q.files[j].Name
		})
		out = append(out, q)
	}
	return out
}

// copyQueues dispatches every queue's files across Cfg.ProcessMax
// workers via internal/executor, using the job_source sweep spec.md
// §4.7 describes for restore: worker i starts at queue i%queueCount and
// sweeps in a direction determined by i's parity, so adjacent workers
// drain queues from opposite ends and no worker starves while another
// queue still has files.
func (e *Engine) copyQueues(ctx context.Context, queues []*fileQueue, m *manifest.Manifest, excluded map[uint32]bool, opts Options) error {
	queueCount := len(queues)
	pos := make([]int, queueCount)
	var mu sync.Mutex

	source := func(workerIdx int) executor.Job {
		mu.Lock()
		defer mu.Unlock()
		if queueCount == 0 {
			return nil
		}
		start := workerIdx % queueCount
		dir := 1
		if workerIdx%2 == 1 {
			dir = -1
		}
		for i := 0; i < queueCount; i++ {
			qi := ((start+i*dir)%queueCount + queueCount) % queueCount
			q := queues[qi]
			if pos[qi] < len(q.files) {
				f := q.files[pos[qi]]
				pos[qi]++
				return &restoreJob{
					e:             e,
					file:          f,
					label:         m.Data.Label,
					compress:      m.Data.OptionCompress,
					cipherSubPass: m.Data.CipherSubPass,
					excluded:      excluded,
					delta:         opts.Delta,
					force:         opts.Force,
				}
			}
		}
		return nil
	}

	workers := e.Cfg.ProcessMax
	if workers < 1 {
		workers = 1
	}
	ex := executor.Executor{WorkerCount: workers, Source: source}
	return ex.Run(ctx)
}

// restoreJob is the executor.Job for one manifest file, spec.md §4.6
// step 11.
type restoreJob struct {
	e             *Engine
	file          *manifest.File
	label         string
	compress      bool
	cipherSubPass string
	excluded      map[uint32]bool
	delta         bool
	force         bool
}

// destName maps a manifest file name to the path it is actually written
// at: every name is written verbatim except the control file, which
// lands at "global/pg_control.tmp" so spec.md §4.6 step 13's final
// rename is what brings the cluster back to a startable state.
func destName(name string) string {
	if name == "global/pg_control" {
		return "global/pg_control.tmp"
	}
	return name
}

func (j *restoreJob) Run(ctx context.Context, workerIdx int) error {
	f := j.file
	dest := destName(f.Name)

	if isZeroFillTarget(f.Name, j.excluded) {
		return writeZeroFill(j.e.PgStore, dest, f.Size, f.Mode)
	}

	if j.delta || j.force {
		skip, err := j.e.skipExisting(dest, f, j.delta)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}
	}

	sourceLabel := f.Reference
	if sourceLabel == "" {
		sourceLabel = j.label
	}
	srcPath := j.e.stanzaPath("backup", sourceLabel, "pg_data", f.Name)

	r, err := j.e.Repo.Read(srcPath, false, 0, 0)
	if err != nil {
		return err
	}

	var stage io.ReadCloser = r
	if j.cipherSubPass != "" {
		stage = iofilter.NewCipherBlockRead(j.cipherSubPass, stage)
	}
	if j.compress {
		gz, gerr := iofilter.NewGzipRead(stage)
		if gerr != nil {
			stage.Close()
			return gerr
		}
		stage = gz
	}
	hashStage, herr := iofilter.NewHashRead(iofilter.SHA1, stage)
	if herr != nil {
		stage.Close()
		return herr
	}
	stage = hashStage
	sizeStage := iofilter.NewSizeRead(stage)
	stage = sizeStage

	w, err := j.e.PgStore.Write(dest, storage.WriteOptions{
		Mode: f.Mode, Atomic: true, CreatePath: true, User: f.User, Group: f.Group,
	})
	if err != nil {
		stage.Close()
		return err
	}

	if _, cerr := io.Copy(w, stage); cerr != nil {
		w.Close()
		stage.Close()
		return xerr.Wrap(xerr.FileRead, cerr, "restore %s", f.Name)
	}
	if err := stage.Close(); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	if f.ChecksumSHA1 != "" && hashStage.Result().(string) != f.ChecksumSHA1 {
		return xerr.New(xerr.Checksum, "checksum mismatch restoring %s: repository copy does not match manifest", f.Name)
	}
	return nil
}

// skipExisting implements spec.md §4.6 step 11's delta/force shortcuts:
// delta compares a SHA-1 of the existing file against the manifest,
// force trusts size and mtime instead of re-hashing.
func (e *Engine) skipExisting(dest string, f *manifest.File, delta bool) (bool, error) {
	info, err := e.PgStore.Info(dest, false)
	if err != nil {
		return false, err
	}
	if info == nil || info.Type != storage.TypeFile {
		return false, nil
	}
	if delta {
		if f.ChecksumSHA1 == "" {
			return false, nil
		}
		sum, serr := e.hashExisting(dest)
		if serr != nil {
			return false, serr
		}
		return sum == f.ChecksumSHA1, nil
	}
	return uint64(info.Size) == f.Size && info.ModTime.Unix() == f.Timestamp, nil
}

func (e *Engine) hashExisting(dest string) (string, error) {
	r, err := e.PgStore.Read(dest, true, 0, 0)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", nil
	}
	defer r.Close()
	hr, err := iofilter.NewHashRead(iofilter.SHA1, r)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(io.Discard, hr); err != nil {
		return "", xerr.Wrap(xerr.FileRead, err, "hash %s", dest)
	}
	if err := hr.Close(); err != nil {
		return "", err
	}
	return hr.Result().(string), nil
}

func writeZeroFill(s storage.Storage, path string, size uint64, mode uint32) error {
	w, err := s.Write(path, storage.WriteOptions{Mode: mode, Atomic: true, CreatePath: true})
	if err != nil {
		return err
	}
	buf := make([]byte, 32*1024)
	remaining := size
	for remaining > 0 {
		n := uint64(len(buf))
		if n > remaining {
			n = remaining
		}
		if _, werr := w.Write(buf[:n]); werr != nil {
			w.Close()
			return xerr.Wrap(xerr.FileWrite, werr, "zero-fill %s", path)
		}
		remaining -= n
	}
	return w.Close()
}
