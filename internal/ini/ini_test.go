package ini

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseRenderRoundTrip(t *testing.T) {
	src := []byte("[db]\nhistory-id=1\nversion=\"12\"\n\n[db:history]\n1={\"system-id\":123}\n")
	doc, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(doc.Sections))
	}
	out, err := Render(doc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	doc2, err := Parse(out)
	if err != nil {
		t.Fatalf("re-Parse: %v", err)
	}
	raw1, _ := doc.Section("db").Get("version")
	raw2, _ := doc2.Section("db").Get("version")
	if string(raw1) != string(raw2) {
		t.Errorf("round trip mismatch: %s != %s", raw1, raw2)
	}
}

func TestParseRejectsKeyOutsideSection(t *testing.T) {
	_, err := Parse([]byte("foo=\"bar\"\n[db]\nx=1\n"))
	if err == nil {
		t.Fatal("expected Format error for key outside section")
	}
}

func TestParseRejectsEmptyKey(t *testing.T) {
	_, err := Parse([]byte("[db]\n=1\n"))
	if err == nil {
		t.Fatal("expected Format error for empty key")
	}
}

func TestParseRejectsNonJSONValue(t *testing.T) {
	_, err := Parse([]byte("[db]\nx=not-json\n"))
	if err == nil {
		t.Fatal("expected Format error for non-JSON value")
	}
}

func TestParseRejectsMalformedSectionHeader(t *testing.T) {
	_, err := Parse([]byte("[db\nx=1\n"))
	if err == nil {
		t.Fatal("expected Format error for malformed section header")
	}
}

func TestParseIgnoresCommentsAndBlankLines(t *testing.T) {
	doc, err := Parse([]byte("# a comment\n\n[db]\n# another\nx=1\n\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	raw, ok := doc.Section("db").Get("x")
	if !ok || string(raw) != "1" {
		t.Errorf("got %s, ok=%v", raw, ok)
	}
}

func TestSectionSetGetUnmarshal(t *testing.T) {
	doc := &Document{}
	sec := doc.Section("backup")
	if err := sec.Set("label", "20230101-000000F"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var label string
	ok, err := sec.Unmarshal("label", &label)
	if err != nil || !ok {
		t.Fatalf("Unmarshal: ok=%v err=%v", ok, err)
	}
	if label != "20230101-000000F" {
		t.Errorf("got %q", label)
	}

	// Set replaces existing key rather than duplicating it.
	if err := sec.Set("label", "20230102-000000F"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(sec.Keys) != 1 {
		t.Fatalf("expected 1 key after overwrite, got %d", len(sec.Keys))
	}
}

func TestStampAndVerifyChecksum(t *testing.T) {
	doc := &Document{}
	sec := doc.Section("backup")
	_ = sec.Set("label", "20230101-000000F")
	_ = sec.Set("type", "full")

	rendered, err := Stamp(doc, 5, "2.47")
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	if !strings.Contains(string(rendered), "[backrest]") {
		t.Fatalf("rendered document missing [backrest] section:\n%s", rendered)
	}

	doc2, err := Parse(rendered)
	if err != nil {
		t.Fatalf("Parse stamped doc: %v", err)
	}
	if err := VerifyChecksum(doc2); err != nil {
		t.Fatalf("VerifyChecksum: %v", err)
	}
}

func TestVerifyChecksumDetectsTamper(t *testing.T) {
	doc := &Document{}
	sec := doc.Section("backup")
	_ = sec.Set("label", "20230101-000000F")
	rendered, err := Stamp(doc, 5, "2.47")
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	tampered := strings.Replace(string(rendered), "20230101-000000F", "20230101-999999F", 1)

	doc2, err := Parse([]byte(tampered))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := VerifyChecksum(doc2); err == nil {
		t.Fatal("expected checksum mismatch on tampered document")
	}
}

func TestVerifyChecksumMissingSection(t *testing.T) {
	doc := &Document{}
	doc.Section("backup").SetRaw("label", json.RawMessage(`"x"`))
	if err := VerifyChecksum(doc); err == nil {
		t.Fatal("expected error for missing [backrest] section")
	}
}

func TestCanonicalJSONExcludesChecksumKey(t *testing.T) {
	doc := &Document{}
	sec := doc.Section(SectionBackrest)
	_ = sec.Set(KeyFormat, 5)
	sec.SetRaw(KeyChecksum, json.RawMessage(`"deadbeef"`))

	canon, err := CanonicalJSON(doc)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if strings.Contains(string(canon), "deadbeef") {
		t.Errorf("canonical JSON should exclude checksum key: %s", canon)
	}
}
