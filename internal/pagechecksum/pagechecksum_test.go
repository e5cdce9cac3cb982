package pagechecksum

import "testing"

func freshPage(blockNumber uint32, fill byte) []byte {
	page := make([]byte, PageSize)
	for i := range page {
		page[i] = fill
	}
	// pd_upper nonzero so IsEmpty doesn't misclassify a filled page.
	page[pdUpperOffset] = 0x20
	page[pdUpperOffset+1] = 0x00
	sum := Checksum(page, blockNumber)
	page[checksumOffset] = byte(sum)
	page[checksumOffset+1] = byte(sum >> 8)
	return page
}

func TestValidateAcceptsSelfConsistentPage(t *testing.T) {
	page := freshPage(42, 0xAB)
	if !Validate(page, 42) {
		t.Fatal("freshly stamped page should validate")
	}
}

func TestValidateRejectsWrongBlockNumber(t *testing.T) {
	page := freshPage(42, 0xAB)
	if Validate(page, 43) {
		t.Fatal("checksum for block 42 should not validate against block 43")
	}
}

func TestValidateRejectsCorruptedPage(t *testing.T) {
	page := freshPage(1, 0xCD)
	page[100] ^= 0xFF
	if Validate(page, 1) {
		t.Fatal("corrupted page should fail validation")
	}
}

func TestValidateRejectsWrongSize(t *testing.T) {
	if Validate(make([]byte, PageSize-1), 0) {
		t.Fatal("undersized page should never validate")
	}
}

func TestIsEmptyAllZero(t *testing.T) {
	page := make([]byte, PageSize)
	if !IsEmpty(page) {
		t.Fatal("all-zero page with pd_upper=0 should be empty")
	}
	if !Validate(page, 7) {
		t.Fatal("empty page should always validate regardless of stored checksum")
	}
}

func TestIsEmptyFalseWhenAnyByteSet(t *testing.T) {
	page := make([]byte, PageSize)
	page[PageSize-1] = 1
	if IsEmpty(page) {
		t.Fatal("page with a nonzero byte should not be empty")
	}
}

func TestChecksumNeverZero(t *testing.T) {
	// Hunt for an input whose raw checksum happens to fold to zero isn't
	// practical here; instead assert the documented non-zero invariant on
	// a range of blocks/fills, relying on the 0->0xFFFF substitution rule.
	for b := uint32(0); b < 64; b++ {
		page := make([]byte, PageSize)
		page[pdUpperOffset] = 1
		if c := Checksum(page, b); c == 0 {
			t.Errorf("Checksum(block=%d) returned reserved value 0", b)
		}
	}
}

func TestValidatorAccumulatesRunLengthRanges(t *testing.T) {
	v := &Validator{}
	good := freshPage(0, 0x11)
	bad := func(block uint32) []byte {
		p := freshPage(block, 0x22)
		p[50] ^= 0xFF
		return p
	}

	v.Check(good, 0)
	v.Check(bad(1), 1)
	v.Check(bad(2), 2)
	v.Check(freshPage(3, 0x11), 3)
	v.Check(bad(5), 5)

	if !v.HasErrors() {
		t.Fatal("expected HasErrors to be true")
	}
	want := []uint32{1, 2, 5, 5}
	got := v.Errors()
	if len(got) != len(want) {
		t.Fatalf("Errors() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Errors() = %v, want %v", got, want)
		}
	}
}

func TestValidatorNoErrorsWhenAllPagesGood(t *testing.T) {
	v := &Validator{}
	v.Check(freshPage(0, 0x33), 0)
	v.Check(freshPage(1, 0x44), 1)
	if v.HasErrors() {
		t.Fatal("expected no errors for all-good pages")
	}
	if v.Errors() != nil {
		t.Fatalf("expected nil Errors(), got %v", v.Errors())
	}
}

func TestExemptName(t *testing.T) {
	exempt := []string{"tablespace_map", "backup_label", "global/pg_control"}
	for _, n := range exempt {
		if !ExemptName(n) {
			t.Errorf("ExemptName(%q) = false, want true", n)
		}
	}
	if ExemptName("base/16384/16385") {
		t.Error("ordinary relation file should not be exempt")
	}
}
