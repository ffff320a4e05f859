package store

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const thumbnailDir = "thumbnails"

// Media keeps uploaded avatar files on local disk. References handed back
// are slash-separated paths relative to the media root.
type Media struct {
	root string
}

// NewMedia prepares the media root.
func NewMedia(root string) (*Media, error) {
	if err := os.MkdirAll(filepath.Join(root, thumbnailDir), 0o755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &Media{root: root}, nil
}

// Root returns the directory served under the media URL.
func (m *Media) Root() string {
	return m.root
}

// SaveThumbnail writes data under a unique name derived from filename.
func (m *Media) SaveThumbnail(data []byte, filename string) (string, error) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid thumbnail name %q", filename)
	}
	ref := path.Join(thumbnailDir, uuid.NewString()+"_"+name)
	if err := os.WriteFile(m.path(ref), data, 0o644); err != nil {
		return "", fmt.Errorf("write thumbnail: %w", err)
	}
	return ref, nil
}

// Remove deletes a stored file. Unknown or foreign references are ignored.
func (m *Media) Remove(ref string) {
	if ref == "" || !strings.HasPrefix(ref, thumbnailDir+"/") || strings.Contains(ref, "..") {
		return
	}
	_ = os.Remove(m.path(ref))
}

func (m *Media) path(ref string) string {
	return filepath.Join(m.root, filepath.FromSlash(ref))
}
