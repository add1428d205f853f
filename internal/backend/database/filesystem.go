package database

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jo-hoe/imagerelay/internal/backend/imageformat"
)

const (
	defaultUploadDirectory = "uploads"
	uploadFilePrefix       = "upload_"
)

// FilesystemDatabase keeps the slot as a single file in a directory,
// named upload_<id>.<ext>. The file modification time carries StoredAt.
type FilesystemDatabase struct {
	directory string
	remove    func(name string) error
}

// NewFilesystemDatabase stores the slot in directory, "uploads" when empty.
// The directory is created by CreateDatabase.
func NewFilesystemDatabase(directory string) (DatabaseService, error) {
	if strings.TrimSpace(directory) == "" {
		directory = defaultUploadDirectory
	}
	abs, err := filepath.Abs(directory)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload directory %s: %w", directory, err)
	}
	return &FilesystemDatabase{directory: abs, remove: os.Remove}, nil
}

func (f *FilesystemDatabase) CreateDatabase() error {
	return os.MkdirAll(f.directory, 0755)
}

func (f *FilesystemDatabase) DoesDatabaseExist() bool {
	info, err := os.Stat(f.directory)
	return err == nil && info.IsDir()
}

func (f *FilesystemDatabase) Close() error {
	return nil
}

// ReplaceImage writes the new image to a temp file, clears the slot and then renames the
// temp file into place. If the old upload cannot be removed the new image is discarded, so
// the directory never holds two uploads.
func (f *FilesystemDatabase) ReplaceImage(image *Image) error {
	tmp, err := os.CreateTemp(f.directory, ".upload-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(image.Data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close image file: %w", err)
	}
	if err := os.Chtimes(tmpName, image.StoredAt, image.StoredAt); err != nil {
		cleanup()
		return fmt.Errorf("failed to set image time: %w", err)
	}

	if err := f.removeUploads(); err != nil {
		cleanup()
		return err
	}

	name := uploadFilePrefix + image.ID + imageformat.Extension(image.ContentType)
	if err := os.Rename(tmpName, filepath.Join(f.directory, name)); err != nil {
		cleanup()
		return fmt.Errorf("failed to store image: %w", err)
	}
	return nil
}

func (f *FilesystemDatabase) GetImage() (*Image, error) {
	entry, err := f.latestUpload()
	if err != nil || entry == nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(f.directory, entry.Name()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", entry.Name(), err)
	}

	info, err := entry.Info()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	ext := filepath.Ext(entry.Name())
	return &Image{
		ID:          strings.TrimSuffix(strings.TrimPrefix(entry.Name(), uploadFilePrefix), ext),
		Data:        data,
		ContentType: imageformat.ContentTypeForExtension(ext),
		StoredAt:    info.ModTime(),
	}, nil
}

func (f *FilesystemDatabase) DeleteImage() error {
	return f.removeUploads()
}

func (f *FilesystemDatabase) removeUploads() error {
	entries, err := f.uploads()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		err := f.remove(filepath.Join(f.directory, entry.Name()))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete image %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (f *FilesystemDatabase) latestUpload() (fs.DirEntry, error) {
	entries, err := f.uploads()
	if err != nil {
		return nil, err
	}

	var latest fs.DirEntry
	var latestTime time.Time
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latest == nil || info.ModTime().After(latestTime) {
			latest = entry
			latestTime = info.ModTime()
		}
	}
	return latest, nil
}

func (f *FilesystemDatabase) uploads() ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(f.directory)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload directory: %w", err)
	}

	uploads := make([]fs.DirEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasPrefix(entry.Name(), uploadFilePrefix) {
			uploads = append(uploads, entry)
		}
	}
	return uploads, nil
}
