package synth

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewUID(t *testing.T) {
	a, b := NewUID(), NewUID()
	if !strings.HasPrefix(a, "2.25.") {
		t.Errorf("expected 2.25 root, got %q", a)
	}
	if len(a) > 64 {
		t.Errorf("expected UID of at most 64 chars, got %d", len(a))
	}
	if a == b {
		t.Error("expected distinct UIDs")
	}
}

func TestEncode_Part10Layout(t *testing.T) {
	data := Encode(NewTestInstance())
	if len(data) < 132 {
		t.Fatalf("expected at least 132 bytes, got %d", len(data))
	}
	if string(data[128:132]) != "DICM" {
		t.Errorf("expected DICM prefix at 128, got %q", data[128:132])
	}
	// (0002,0000) UL group length follows the prefix.
	if !bytes.Equal(data[132:138], []byte{0x02, 0x00, 0x00, 0x00, 'U', 'L'}) {
		t.Errorf("expected group length element, got % x", data[132:138])
	}
	if len(data)%2 != 0 {
		t.Errorf("expected even length, got %d", len(data))
	}
}

func TestEncode_Options(t *testing.T) {
	inst := NewTestInstance()

	noPreamble := Encode(inst, WithoutPreamble())
	if noPreamble[0] != 0x02 || noPreamble[1] != 0x00 {
		t.Errorf("expected meta group at offset 0, got % x", noPreamble[:2])
	}

	noLength := Encode(inst, WithoutPreamble(), WithoutGroupLength())
	if noLength[2] != 0x01 {
		t.Errorf("expected (0002,0001) first without group length, got % x", noLength[:4])
	}

	bare := Encode(inst, WithoutFileMeta())
	if bare[0] != 0x08 {
		t.Errorf("expected bare dataset to start with group 0008, got % x", bare[:2])
	}

	implicit := Encode(inst, WithoutFileMeta(), WithImplicitVR())
	if string(implicit[4:6]) == "UI" {
		t.Error("expected no VR in implicit encoding")
	}
}

func TestEncode_UIPaddedWithNUL(t *testing.T) {
	inst := Instance{SOPInstanceUID: "1.2.3"}
	data := Encode(inst, WithoutFileMeta())
	// tag(4) + VR(2) + len(2) + "1.2.3\x00"
	if len(data) != 14 {
		t.Fatalf("expected 14 bytes, got %d", len(data))
	}
	if data[13] != 0x00 {
		t.Errorf("expected NUL padding, got %q", data[13])
	}
}

func TestGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	paths, err := Generate(dir, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 paths, got %d", len(paths))
	}
	for i, want := range []string{"test_1.dcm", "test_2.dcm", "test_3.dcm"} {
		if filepath.Base(paths[i]) != want {
			t.Errorf("expected %s, got %s", want, filepath.Base(paths[i]))
		}
		if _, err := os.Stat(paths[i]); err != nil {
			t.Errorf("expected file to exist: %v", err)
		}
	}
}

func TestGenerate_InvalidCount(t *testing.T) {
	if _, err := Generate(t.TempDir(), 0); err == nil {
		t.Error("expected error for zero count")
	}
}
