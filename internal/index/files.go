package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
var (
	zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zdec, _ = zstd.NewReader(nil)
)

// FilePath returns the absolute path of a payload file.
func (x *Index) FilePath(name string) string { return filepath.Join(x.dataDir, name) }

// writeFile stores payload as data/<name> through a temp file and rename,
// so readers never see a partial payload.
func (x *Index) writeFile(name string, payload []byte) error {
	if strings.HasSuffix(name, CompressedSuffix) {
		payload = zenc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	}
	tmp, err := os.CreateTemp(x.dataDir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("index: write %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("index: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("index: write %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, x.FilePath(name)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("index: write %s: %w", name, err)
	}
	return nil
}

func (x *Index) readFile(name string) ([]byte, error) {
	b, err := os.ReadFile(x.FilePath(name))
	if err != nil {
		return nil, fmt.Errorf("index: read %s: %w", name, err)
	}
	if strings.HasSuffix(name, CompressedSuffix) {
		if b, err = zdec.DecodeAll(b, nil); err != nil {
			return nil, fmt.Errorf("index: decompress %s: %w", name, err)
		}
	}
	return b, nil
}

// RemoveFile deletes a payload file. A file that is already gone counts
// as removed.
func (x *Index) RemoveFile(name string) error {
	err := os.Remove(x.FilePath(name))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("index: remove %s: %w", name, err)
}
