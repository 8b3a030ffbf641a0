package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

var ErrInvalidName = errors.New("invalid screenshot name")

// Dir stores screenshots as flat files under one directory.
type Dir struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

// NewDir creates root if needed and confines all access to it.
func NewDir(root string, logger *slog.Logger) (*Dir, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating screenshot directory: %w", err)
	}
	return NewDirFs(afero.NewBasePathFs(osFs, root), root, logger), nil
}

// NewDirFs wraps an existing filesystem whose root is the screenshot
// directory.
func NewDirFs(fs afero.Fs, root string, logger *slog.Logger) *Dir {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{fs: fs, root: root, logger: logger.With("component", "screenshots")}
}

// SanitizeName reduces name to a plain base name.
func SanitizeName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}

// Save writes data under name and returns the file's path. A name without
// an extension gets one from the detected content type.
func (d *Dir) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := SanitizeName(name)
	if err != nil {
		return "", err
	}

	mt := mimetype.Detect(data)
	if filepath.Ext(name) == "" {
		name += mt.Extension()
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		d.logger.Warn("screenshot is not an image", "name", name, "mime", mt.String())
	}

	if err := afero.WriteFile(d.fs, name, data, 0o644); err != nil {
		return "", fmt.Errorf("writing screenshot %s: %w", name, err)
	}

	path := filepath.Join(d.root, name)
	d.logger.Info("screenshot saved", "path", path, "size", humanize.Bytes(uint64(len(data))), "mime", mt.String())
	return path, nil
}

// Open returns the stored screenshot and its metadata.
func (d *Dir) Open(name string) (afero.File, os.FileInfo, error) {
	name, err := SanitizeName(name)
	if err != nil {
		return nil, nil, err
	}
	f, err := d.fs.Open(name)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %q is a directory", ErrInvalidName, name)
	}
	return f, info, nil
}
