package image

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is the codec of the image archives.
type Compression string

const (
	// CompressionZstd trades export time for smaller archives.
	CompressionZstd Compression = "zstd"
	// CompressionLZ4 is faster to write and read but bigger.
	CompressionLZ4 Compression = "lz4"
)

func (c Compression) validate() error {
	switch c {
	case CompressionZstd, CompressionLZ4:
		return nil
	}
	return fmt.Errorf("unknown archive compression %q", c)
}

func archiveName(c Compression) string {
	switch c {
	case CompressionLZ4:
		return "export.tar.lz4"
	default:
		return "export.tar.zst"
	}
}

// writeArchive compresses r into path atomically. It returns the uncompressed size.
func writeArchive(path string, c Compression, r io.Reader) (int64, error) {
	f, err := os.CreateTemp(filepath.Dir(path), ".archive-*")
	if err != nil {
		return 0, fmt.Errorf("could not create archive: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	var w io.WriteCloser
	switch c {
	case CompressionLZ4:
		w = lz4.NewWriter(f)
	default:
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return 0, fmt.Errorf("could not create zstd encoder: %w", err)
		}
		w = zw
	}

	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return n, fmt.Errorf("could not write archive: %w", err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("could not flush archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return n, err
	}

	if err := os.Rename(f.Name(), path); err != nil {
		return n, fmt.Errorf("could not store archive: %w", err)
	}
	return n, nil
}

type archiveReader struct {
	io.Reader
	close func()
	f     *os.File
}

func (a *archiveReader) Close() error {
	if a.close != nil {
		a.close()
	}
	return a.f.Close()
}

// openArchive returns the uncompressed stream of an archive, the codec is taken from the name.
func openArchive(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasSuffix(path, ".lz4"):
		return &archiveReader{Reader: lz4.NewReader(f), f: f}, nil
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("could not create zstd decoder: %w", err)
		}
		return &archiveReader{Reader: dec, close: dec.Close, f: f}, nil
	}

	f.Close()
	return nil, fmt.Errorf("unknown archive format %q", filepath.Base(path))
}
