package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte{0}, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in   string
		want Format
	}{
		{"sbx", FormatSBX},
		{"SBX", FormatSBX},
		{"tiff", FormatTIFF},
		{"Tiff", FormatTIFF},
	}
	for _, c := range cases {
		got, err := ParseFormat(c.in)
		if err != nil {
			t.Errorf("ParseFormat(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	if _, err := ParseFormat("png"); err == nil {
		t.Fatal("expected error for unknown selector")
	}
}

func TestFormatMatches(t *testing.T) {
	cases := []struct {
		format Format
		path   string
		want   bool
	}{
		{FormatSBX, "run1.sbx", true},
		{FormatSBX, "RUN1.SBX", true},
		{FormatSBX, "run1.tif", false},
		{FormatSBX, "run1.json", false},
		{FormatTIFF, "stack.tif", true},
		{FormatTIFF, "stack.tiff", true},
		{FormatTIFF, "STACK.TIFF", true},
		{FormatTIFF, "stack.sbx", false},
	}
	for _, c := range cases {
		if got := c.format.Matches(c.path); got != c.want {
			t.Errorf("%s.Matches(%q) = %v, want %v", c.format, c.path, got, c.want)
		}
	}
}

func TestDiscoverSortsRecursively(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "z.sbx"))
	touch(t, filepath.Join(dir, "day2", "a.sbx"))
	touch(t, filepath.Join(dir, "b.sbx"))
	touch(t, filepath.Join(dir, "notes.txt"))

	got, err := Discover(dir, FormatSBX)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	want := []string{"b.sbx", filepath.Join("day2", "a.sbx"), "z.sbx"}
	if len(got) != len(want) {
		t.Fatalf("found %d sessions, want %d", len(got), len(want))
	}
	for i, s := range got {
		if s.Index != i {
			t.Errorf("session %d has Index %d", i, s.Index)
		}
		rel, err := filepath.Rel(dir, s.Path)
		if err != nil {
			t.Fatal(err)
		}
		if rel != want[i] {
			t.Errorf("session %d is %s, want %s", i, rel, want[i])
		}
	}
}

func TestDiscoverSkipsExportedStack(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, ExportedStackName))
	touch(t, filepath.Join(dir, "a.tif"))

	got, err := Discover(dir, FormatTIFF)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || filepath.Base(got[0].Path) != "a.tif" {
		t.Fatalf("sessions = %v, want only a.tif", got)
	}
}

func TestDiscoverEmptyFolder(t *testing.T) {
	dir := t.TempDir()
	// A previously exported stack alone does not make the folder a session
	// folder.
	touch(t, filepath.Join(dir, ExportedStackName))

	_, err := Discover(dir, FormatTIFF)
	var nferr *NotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if nferr.Folder != dir || nferr.Format != FormatTIFF {
		t.Fatalf("NotFoundError = %+v", nferr)
	}
}

func TestDiscoverIgnoresOtherFormats(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.tif"))

	_, err := Discover(dir, FormatSBX)
	var nferr *NotFoundError
	if !errors.As(err, &nferr) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestDiscoverMissingFolder(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "absent"), FormatSBX)
	if err == nil {
		t.Fatal("expected error for missing folder")
	}
	var nferr *NotFoundError
	if errors.As(err, &nferr) {
		t.Fatal("missing folder should surface the walk error, not a not-found verdict")
	}
}

func TestOpenUnknownFormat(t *testing.T) {
	_, err := Open("whatever.raw", Format("raw"), Options{})
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
}
