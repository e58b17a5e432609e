package export

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFilename(t *testing.T) {
	cases := map[string]string{
		"ns:layer_name": "ns_layer_name_4326.geojson",
		"plain":         "plain_4326.geojson",
		"a:b:c":         "a_b_c_4326.geojson",
	}
	for in, want := range cases {
		if got := Filename(in); got != want {
			t.Fatalf("Filename(%q)=%q want %q", in, got, want)
		}
	}
}

func TestWriter_OverwritesByName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := Writer{Dir: dir}

	if _, err := w.Write("bag:pand", []byte("first")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	path, err := w.Write("bag:pand", []byte("second"))
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if want := filepath.Join(dir, "bag_pand_4326.geojson"); path != want {
		t.Fatalf("path=%q want %q", path, want)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "second" {
		t.Fatalf("content=%q want second", b)
	}
}

func TestWriter_ErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (Writer{Dir: blocker}).Write("x", []byte("{}")); err == nil {
		t.Fatalf("expected error when Dir is a regular file")
	}
}

func TestCheckLayer(t *testing.T) {
	for _, ok := range []string{"bag:pand", "top10nl_wegdeel", "ns:a.b"} {
		if err := CheckLayer(ok); err != nil {
			t.Fatalf("CheckLayer(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "  ", "../../escaped", "a/b", `a\b`, "..", "x..y", "a\x00b"} {
		if err := CheckLayer(bad); !errors.Is(err, ErrUnsafeLayer) {
			t.Fatalf("CheckLayer(%q) err=%v want ErrUnsafeLayer", bad, err)
		}
	}
}

func TestWriter_RejectsNamesLeavingDir(t *testing.T) {
	root := t.TempDir()
	w := Writer{Dir: filepath.Join(root, "out")}

	for _, layer := range []string{"../../escaped", "../escaped", "sub/layer"} {
		if _, err := w.Write(layer, []byte("{}")); !errors.Is(err, ErrUnsafeLayer) {
			t.Fatalf("Write(%q) err=%v want ErrUnsafeLayer", layer, err)
		}
	}
	for _, p := range []string{filepath.Join(root, "escaped_4326.geojson"), filepath.Join(filepath.Dir(root), "escaped_4326.geojson")} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("unexpected file %s (err=%v)", p, err)
		}
	}
}
