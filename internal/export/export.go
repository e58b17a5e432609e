// Package export persists cleaned WFS layers as GeoJSON files.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const suffix = "_4326.geojson"

// Filename maps a layer name to its output file, e.g. ns:layer becomes ns_layer_4326.geojson.
func Filename(layer string) string {
	return strings.ReplaceAll(layer, ":", "_") + suffix
}

var ErrUnsafeLayer = errors.New("layer name cannot be used as a file name")

// CheckLayer rejects names that would leave the output directory once turned into a filename.
func CheckLayer(layer string) error {
	switch {
	case strings.TrimSpace(layer) == "":
		return fmt.Errorf("%w: empty", ErrUnsafeLayer)
	case strings.ContainsAny(layer, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrUnsafeLayer, layer)
	case strings.Contains(layer, ".."):
		return fmt.Errorf("%w: %q contains ..", ErrUnsafeLayer, layer)
	}
	return nil
}

// Writer overwrites one file per layer in Dir (the working directory when empty).
// There is no locking and no atomic rename.
type Writer struct {
	Dir string
}

func (w Writer) Write(layer string, data []byte) (string, error) {
	if err := CheckLayer(layer); err != nil {
		return "", err
	}
	name := Filename(layer)
	path := name
	if w.Dir != "" {
		if err := os.MkdirAll(w.Dir, 0o755); err != nil {
			return "", fmt.Errorf("create output dir %q: %w", w.Dir, err)
		}
		path = filepath.Join(w.Dir, name)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
