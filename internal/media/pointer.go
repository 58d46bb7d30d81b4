package media

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrUnrecognized is returned when a URL does not belong to a known provider.
	ErrUnrecognized = errors.New("media: unrecognized url")
	// ErrUnresolved is returned for items that lack the fields needed to locate their blob.
	ErrUnresolved = errors.New("media: item has no downloadable blob")
)

// Pointer identifies one downloadable blob. ID is the de-duplication key and never
// changes for the same remote content.
type Pointer struct {
	ID          string
	DownloadURL string
	TargetPath  string
}

// NewPointer validates and builds a Pointer.
func NewPointer(id, downloadURL, targetPath string) (Pointer, error) {
	if id == "" {
		return Pointer{}, fmt.Errorf("pointer id is required")
	}

	if targetPath == "" {
		return Pointer{}, fmt.Errorf("pointer %s: target path is required", id)
	}

	u, err := url.Parse(downloadURL)
	if err != nil {
		return Pointer{}, fmt.Errorf("pointer %s: invalid download url: %w", id, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return Pointer{}, fmt.Errorf("pointer %s: unsupported url scheme %q", id, u.Scheme)
	}

	return Pointer{ID: id, DownloadURL: downloadURL, TargetPath: targetPath}, nil
}

func (p Pointer) String() string {
	return p.ID
}
