package items

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/stockroom-app/stockroom/internal/shared"
)

// ImageStore persists uploaded item images under generated keys.
type ImageStore interface {
	Save(ctx context.Context, originalName string, body io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// ErrImageTooLarge is returned when an upload exceeds MaxUploadSize.
var ErrImageTooLarge = fmt.Errorf("%w: image exceeds %d bytes", shared.ErrValidation, MaxUploadSize)

const maxNameLen = 100

// ImageKey builds the storage key for an upload: image_<unixnano>_<name>.
func ImageKey(now time.Time, originalName string) string {
	return "image_" + strconv.FormatInt(now.UnixNano(), 10) + "_" + sanitizeName(originalName)
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if len(out) > maxNameLen {
		out = out[len(out)-maxNameLen:]
	}
	if out == "" {
		return "upload"
	}
	return out
}

// validKey rejects keys that could escape the store root.
func validKey(key string) bool {
	return key != "" && key == filepath.Base(key) && !strings.HasPrefix(key, ".") && !strings.ContainsAny(key, `/\`)
}

// DiskStore keeps images in a local directory served under a URL prefix.
type DiskStore struct {
	dir    string
	prefix string
	now    func() time.Time
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir, urlPrefix string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("items: create upload dir: %w", err)
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &DiskStore{dir: dir, prefix: urlPrefix, now: time.Now}, nil
}

// Dir returns the directory holding stored images.
func (s *DiskStore) Dir() string {
	return s.dir
}

// Save writes body to a new file. Oversized bodies are removed and rejected
// with ErrImageTooLarge.
func (s *DiskStore) Save(_ context.Context, originalName string, body io.Reader) (string, error) {
	var (
		key string
		f   *os.File
		err error
	)
	for attempt := 0; attempt < 3; attempt++ {
		key = ImageKey(s.now(), originalName)
		f, err = os.OpenFile(filepath.Join(s.dir, key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil || !errors.Is(err, os.ErrExist) {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("items: create image: %w", err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(body, MaxUploadSize+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("items: write image: %w", copyErr)
	case n > MaxUploadSize:
		_ = os.Remove(f.Name())
		return "", ErrImageTooLarge
	case closeErr != nil:
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("items: close image: %w", closeErr)
	}
	return key, nil
}

// Delete removes the image. A missing file is not an error.
func (s *DiskStore) Delete(_ context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("%w: invalid image key", shared.ErrValidation)
	}
	if err := os.Remove(filepath.Join(s.dir, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("items: delete image: %w", err)
	}
	return nil
}

// URL returns the public path of key.
func (s *DiskStore) URL(key string) string {
	if key == "" {
		return ""
	}
	return s.prefix + url.PathEscape(key)
}

var _ ImageStore = (*DiskStore)(nil)
