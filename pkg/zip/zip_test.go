package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveAssets(t *testing.T) {
	modified := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := ArchiveAssets(&buf, []Asset{
		{Filename: "skybox.png", Modified: modified, Body: strings.NewReader("png-bytes")},
		{Filename: "job.json", Modified: modified, Body: strings.NewReader(`{"id":"j1"}`)},
	})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)

	assert.Equal(t, "skybox.png", zr.File[0].Name)
	assert.Equal(t, zip.Store, zr.File[0].Method)
	assert.Equal(t, zip.Deflate, zr.File[1].Method)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"j1"}`, string(data))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestArchiveAssetsReportsReadErrors(t *testing.T) {
	err := ArchiveAssets(io.Discard, []Asset{{Filename: "mesh.glb", Body: failingReader{}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mesh.glb")
}
