package unitproc

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/fsutil"
)

// Detail is the cached per-unit document. It carries everything needed to
// rebuild the unit record without touching the frame again.
type Detail struct {
	Night  int                    `json:"night"`
	ExpID  int                    `json:"expid"`
	Camera string                 `json:"camera"`
	Header Header                 `json:"header"`
	Alpha  float64                `json:"alpha"`
	Fibers map[string]FiberValues `json:"fibers"`
}

// DetailPath returns <dir>/<NIGHT>/<EXPID:08d>/tsnr-<CAMERA>-<EXPID:08d>.json.gz.
func DetailPath(dir string, u exposure.Unit) string {
	exp := fmt.Sprintf("%08d", u.ExpID)
	return filepath.Join(dir, strconv.Itoa(u.Night), exp,
		fmt.Sprintf("tsnr-%s-%s.json.gz", u.Camera, exp))
}

func writeDetail(fsys fsutil.FileSystem, path string, d *Detail) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(d); err != nil {
		gz.Close()
		return fmt.Errorf("encode detail: %w", err)
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return fsutil.AtomicWriteFile(fsys, path, buf.Bytes(), 0o644)
}

func readDetail(fsys fsutil.FileSystem, path string) (*Detail, error) {
	blob, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)
	dec.UseNumber()
	var d Detail
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to decode detail: %w", err)
	}
	return &d, nil
}
