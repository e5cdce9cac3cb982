// Package ini implements the repository metadata format used by
// archive.info, backup.info and backup.manifest: INI section/key syntax
// where every value is a JSON document, stamped with a SHA-1 checksum in
// a trailing [backrest] section.
//
// Parsing is layered on gopkg.in/ini.v1 (tokenizing section headers and
// key=value lines); this package adds the stricter grammar checks the
// repository format requires (no keys outside a section, section headers
// must close on the line they open, every value must be valid JSON) and
// the checksum stamp/verify logic on top of it.
package ini

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"pig/internal/xerr"

	goini "gopkg.in/ini.v1"
)

func init() {
	// The wire format has no spaces around '=' and no inline comments.
	goini.PrettyFormat = false
}

// KV is one key/value pair within a Section. Value is stored as the exact
// JSON document text (canonicalized on Set, preserved verbatim on Parse).
type KV struct {
	Key   string
	Value json.RawMessage
}

// Section is an ordered set of key/value pairs under one [name] header.
type Section struct {
	Name string
	Keys []*KV
}

// Get returns the raw JSON value for key, and whether it was present.
func (s *Section) Get(key string) (json.RawMessage, bool) {
	for _, kv := range s.Keys {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// Set stores value (marshaled to JSON) under key, replacing any prior
// value, and appending a new KV if the key was not already present.
func (s *Section) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return xerr.Wrap(xerr.Format, err, "cannot encode key %q as JSON", key)
	}
	for _, kv := range s.Keys {
		if kv.Key == key {
			kv.Value = raw
			return nil
		}
	}
	s.Keys = append(s.Keys, &KV{Key: key, Value: raw})
	return nil
}

// SetRaw stores a pre-encoded JSON document verbatim under key.
func (s *Section) SetRaw(key string, raw json.RawMessage) {
	for _, kv := range s.Keys {
		if kv.Key == key {
			kv.Value = raw
			return
		}
	}
	s.Keys = append(s.Keys, &KV{Key: key, Value: raw})
}

// Unmarshal decodes the value under key into v. Returns false if key is absent.
func (s *Section) Unmarshal(key string, v interface{}) (bool, error) {
	raw, ok := s.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, xerr.Wrap(xerr.Format, err, "key %q is not valid JSON", key)
	}
	return true, nil
}

// Document is an ordered list of Sections, mirroring on-disk section order.
type Document struct {
	Sections []*Section
}

// Section returns the named section, creating and appending it if absent.
func (d *Document) Section(name string) *Section {
	for _, s := range d.Sections {
		if s.Name == name {
			return s
		}
	}
	s := &Section{Name: name}
	d.Sections = append(d.Sections, s)
	return s
}

// HasSection reports whether name exists without creating it.
func (d *Document) HasSection(name string) bool {
	for _, s := range d.Sections {
		if s.Name == name {
			return true
		}
	}
	return false
}

var sectionHeaderRe = regexp.MustCompile(`^\[([^\]]*)\]\s*$`)

// validateGrammar enforces the strict subset of INI grammar the
// repository format requires, beyond what gopkg.in/ini.v1 itself checks:
// no keys outside any section, section headers close on their own line,
// no zero-length keys.
func validateGrammar(data []byte) error {
	inSection := false
	lines := strings.Split(string(data), "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !sectionHeaderRe.MatchString(line) {
				return xerr.New(xerr.Format, "line %d: malformed section header %q", i+1, raw)
			}
			inSection = true
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return xerr.New(xerr.Format, "line %d: expected key=value, got %q", i+1, raw)
		}
		key := strings.TrimSpace(line[:eq])
		if key == "" {
			return xerr.New(xerr.Format, "line %d: empty key", i+1)
		}
		if !inSection {
			return xerr.New(xerr.Format, "line %d: key %q outside any section", i+1, key)
		}
	}
	return nil
}

// Parse decodes an INI document per the repository format's grammar.
// Every value must be a valid JSON document; non-JSON values are a
// xerr.Format error.
func Parse(data []byte) (*Document, error) {
	if err := validateGrammar(data); err != nil {
		return nil, err
	}

	cfg, err := goini.LoadSources(goini.LoadOptions{
		AllowNonUniqueSections:  false,
		IgnoreInlineComment:     true,
		AllowBooleanKeys:        false,
		PreserveSurroundedQuote: true,
	}, data)
	if err != nil {
		return nil, xerr.Wrap(xerr.Format, err, "cannot parse INI document")
	}

	doc := &Document{}
	for _, sec := range cfg.Sections() {
		if sec.Name() == goini.DefaultSection && len(sec.Keys()) == 0 {
			continue
		}
		out := &Section{Name: sec.Name()}
		for _, key := range sec.Keys() {
			val := strings.TrimSpace(key.Value())
			if !json.Valid([]byte(val)) {
				return nil, xerr.New(xerr.Format, "section %q key %q is not valid JSON: %q", sec.Name(), key.Name(), val)
			}
			out.Keys = append(out.Keys, &KV{Key: key.Name(), Value: json.RawMessage(val)})
		}
		doc.Sections = append(doc.Sections, out)
	}
	return doc, nil
}

// Render serializes doc to its canonical on-disk INI text, in section
// and key order, one JSON document per value.
func Render(doc *Document) ([]byte, error) {
	cfg := goini.Empty()
	for _, sec := range doc.Sections {
		s, err := cfg.NewSection(sec.Name)
		if err != nil {
			return nil, xerr.Wrap(xerr.Format, err, "cannot create section %q", sec.Name)
		}
		for _, kv := range sec.Keys {
			if _, err := s.NewKey(kv.Key, string(kv.Value)); err != nil {
				return nil, xerr.Wrap(xerr.Format, err, "cannot write key %q", kv.Key)
			}
		}
	}
	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, xerr.Wrap(xerr.Format, err, "cannot render INI document")
	}
	return buf.Bytes(), nil
}

// CanonicalJSON renders doc's sections (excluding backrest-checksum) as a
// deterministic nested JSON object, used as the checksum's input.
func CanonicalJSON(doc *Document) ([]byte, error) {
	var sb bytes.Buffer
	sb.WriteByte('{')
	for si, sec := range doc.Sections {
		if si > 0 {
			sb.WriteByte(',')
		}
		name, _ := json.Marshal(sec.Name)
		sb.Write(name)
		sb.WriteByte(':')
		sb.WriteByte('{')
		first := true
		for _, kv := range sec.Keys {
			if sec.Name == SectionBackrest && kv.Key == KeyChecksum {
				continue
			}
			if !first {
				sb.WriteByte(',')
			}
			first = false
			key, _ := json.Marshal(kv.Key)
			sb.Write(key)
			sb.WriteByte(':')
			canon, err := canonicalizeValue(kv.Value)
			if err != nil {
				return nil, err
			}
			sb.Write(canon)
		}
		sb.WriteByte('}')
	}
	sb.WriteByte('}')
	return sb.Bytes(), nil
}

func canonicalizeValue(raw json.RawMessage) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, xerr.Wrap(xerr.Format, err, "invalid JSON value %q", string(raw))
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return nil, xerr.Wrap(xerr.Format, err, "cannot canonicalize JSON value")
	}
	return canon, nil
}

// Section/key names for the [backrest] checksum stamp, shared by every
// info/manifest file.
const (
	SectionBackrest = "backrest"
	KeyFormat       = "backrest-format"
	KeyVersion      = "backrest-version"
	KeyChecksum     = "backrest-checksum"
)

// Stamp computes and sets the [backrest] section's format/version/checksum
// keys on doc, then renders it. format is the BackRest format generation
// (an integer), version is the implementation's version string.
func Stamp(doc *Document, format int, version string) ([]byte, error) {
	sec := doc.Section(SectionBackrest)
	if err := sec.Set(KeyFormat, format); err != nil {
		return nil, err
	}
	if err := sec.Set(KeyVersion, version); err != nil {
		return nil, err
	}
	// Checksum key must exist (even if empty) before computing the hash so
	// CanonicalJSON's exclusion rule is exercised consistently.
	sec.SetRaw(KeyChecksum, json.RawMessage(`""`))

	canon, err := CanonicalJSON(doc)
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum(canon)
	checksum := fmt.Sprintf("%x", sum)
	if err := sec.Set(KeyChecksum, checksum); err != nil {
		return nil, err
	}
	return Render(doc)
}

// VerifyChecksum recomputes doc's checksum and compares it against the
// stamped [backrest] backrest-checksum value. Returns xerr.Checksum on
// mismatch, or if the stamp section/key is absent.
func VerifyChecksum(doc *Document) error {
	if !doc.HasSection(SectionBackrest) {
		return xerr.New(xerr.Checksum, "missing [%s] section", SectionBackrest)
	}
	sec := doc.Section(SectionBackrest)
	raw, ok := sec.Get(KeyChecksum)
	if !ok {
		return xerr.New(xerr.Checksum, "missing %s key", KeyChecksum)
	}
	var want string
	if err := json.Unmarshal(raw, &want); err != nil {
		return xerr.Wrap(xerr.Format, err, "invalid %s value", KeyChecksum)
	}

	canon, err := CanonicalJSON(doc)
	if err != nil {
		return err
	}
	sum := sha1.Sum(canon)
	got := fmt.Sprintf("%x", sum)
	if got != want {
		return xerr.New(xerr.Checksum, "checksum mismatch: stamped %s, computed %s", want, got)
	}
	return nil
}
