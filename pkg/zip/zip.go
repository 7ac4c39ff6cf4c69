package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"time"
)

type Asset struct {
	Filename string
	Modified time.Time
	Body     io.Reader
}

// ArchiveAssets streams assets into w as a zip archive. Already-compressed
// formats are stored rather than deflated.
func ArchiveAssets(w io.Writer, assets []Asset) error {
	zw := zip.NewWriter(w)
	for _, asset := range assets {
		hdr := &zip.FileHeader{
			Name:     asset.Filename,
			Method:   methodFor(asset.Filename),
			Modified: asset.Modified,
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", asset.Filename, err)
		}
		if _, err := io.Copy(fw, asset.Body); err != nil {
			return fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	return zw.Close()
}

func methodFor(name string) uint16 {
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp", ".glb", ".usdz", ".mp4"} {
		if len(name) >= len(ext) && name[len(name)-len(ext):] == ext {
			return zip.Store
		}
	}
	return zip.Deflate
}
