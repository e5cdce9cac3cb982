// Package remotestore implements internal/storage.Storage by forwarding
// every operation as an internal/transport.Request to a remote agent —
// the repo-host or pg-host process spawned over SSH or run locally in a
// single-process configuration. It is the storage-side half of the
// split described in spec.md §6; the agent process on the other end of
// the Channel is expected to dispatch commands to a local backend (most
// often internal/storage/posixstore).
package remotestore

import (
	"bytes"
	"encoding/json"
	"io"

	"pig/internal/storage"
	"pig/internal/transport"
	"pig/internal/xerr"
)

// Store forwards every Storage call across ch as a named command.
type Store struct {
	Channel transport.Channel
}

func New(ch transport.Channel) *Store { return &Store{Channel: ch} }

func (s *Store) call(command string, params []interface{}, out interface{}) error {
	resp, err := s.Channel.Send(transport.Request{Command: command, Params: params})
	if err != nil {
		return err
	}
	if resp.Err != nil {
		return xerr.New(xerr.Protocol, "%s: %s", command, resp.Err.Message)
	}
	if out == nil || len(resp.Out) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Out, out); err != nil {
		return xerr.Wrap(xerr.Protocol, err, "decode %s response", command)
	}
	return nil
}

func (s *Store) Info(path string, followLink bool) (*storage.FileInfo, error) {
	var out *storage.FileInfo
	if err := s.call("info", []interface{}{path, followLink}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) List(path string, expr string) ([]string, error) {
	var out []string
	if err := s.call("list", []interface{}{path, expr}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// listEntry is the wire shape for one ListInfo callback invocation.
type listEntry struct {
	Name string            `json:"name"`
	Info storage.FileInfo `json:"info"`
}

func (s *Store) ListInfo(path string, recurse bool, order storage.SortOrder, cb storage.ListCallback) error {
	var entries []listEntry
	if err := s.call("list_info", []interface{}{path, recurse, order}, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cb(e.Name, e.Info); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Read(path string, ignoreMissing bool, offset, limit int64) (io.ReadCloser, error) {
	var out []byte
	err := s.call("read", []interface{}{path, ignoreMissing, offset, limit}, &out)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return io.NopCloser(bytes.NewReader(out)), nil
}

// remoteWriter buffers the whole stream, then ships it as one "write"
// command on Close — the framed request/response protocol of spec.md §6
// carries whole messages, not a streamed byte pipe.
type remoteWriter struct {
	s    *Store
	path string
	opts storage.WriteOptions
	buf  bytes.Buffer
}

func (w *remoteWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *remoteWriter) Close() error {
	return w.s.call("write", []interface{}{w.path, w.opts, w.buf.Bytes()}, nil)
}

func (s *Store) Write(path string, opts storage.WriteOptions) (io.WriteCloser, error) {
	return &remoteWriter{s: s, path: path, opts: opts}, nil
}

func (s *Store) Copy(src, dst string) error {
	return s.call("copy", []interface{}{src, dst}, nil)
}

func (s *Store) Remove(path string, recurse bool) error {
	return s.call("remove", []interface{}{path, recurse}, nil)
}

func (s *Store) PathCreate(path string, mode uint32, noParentCreate bool, errorOnExists bool) error {
	return s.call("path_create", []interface{}{path, mode, noParentCreate, errorOnExists}, nil)
}

func (s *Store) PathSync(path string) error {
	return s.call("path_sync", []interface{}{path}, nil)
}

func (s *Store) Move(src, dst string) error {
	return s.call("move", []interface{}{src, dst}, nil)
}

func (s *Store) LinkCreate(name, destination string) error {
	return s.call("link_create", []interface{}{name, destination}, nil)
}

func (s *Store) Exists(path string) (bool, error) {
	var out bool
	err := s.call("exists", []interface{}{path}, &out)
	return out, err
}

func (s *Store) PathExists(path string) (bool, error) {
	var out bool
	err := s.call("path_exists", []interface{}{path}, &out)
	return out, err
}

func (s *Store) Feature(f storage.Feature) bool {
	var out bool
	_ = s.call("feature", []interface{}{f}, &out)
	return out
}
