package image

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveRoundTrip(t *testing.T) {
	tests := map[string]struct {
		compression Compression
		expName     string
	}{
		"zstd archives should be readable.": {
			compression: CompressionZstd,
			expName:     "export.tar.zst",
		},
		"lz4 archives should be readable.": {
			compression: CompressionLZ4,
			expName:     "export.tar.lz4",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			data := bytes.Repeat([]byte("microbox "), 4096)
			path := filepath.Join(t.TempDir(), archiveName(test.compression))
			assert.Equal(t, test.expName, filepath.Base(path))

			n, err := writeArchive(path, test.compression, bytes.NewReader(data))
			require.NoError(err)
			require.Equal(int64(len(data)), n)

			r, err := openArchive(path)
			require.NoError(err)
			defer r.Close()
			got, err := io.ReadAll(r)
			require.NoError(err)
			require.Equal(data, got)
		})
	}
}

func TestOpenArchiveUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	_, err := openArchive(path)
	assert.Error(t, err)
}

func TestCompressionValidate(t *testing.T) {
	assert.NoError(t, CompressionZstd.validate())
	assert.NoError(t, CompressionLZ4.validate())
	assert.Error(t, Compression("gzip").validate())
}
