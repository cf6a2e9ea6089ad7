package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dchat/frame"
	"github.com/opd-ai/dchat/limits"
)

// ErrNotRegularFile indicates a send path that is a directory or device.
var ErrNotRegularFile = errors.New("not a regular file")

// ErrFileTooLarge indicates a file above the configured send limit.
var ErrFileTooLarge = errors.New("file too large")

// Encode reads path and returns its File Frame. A non-positive maxSize means
// limits.DefaultMaxFileSize. Nothing is returned on any open or read failure.
func Encode(path string, maxSize int64) ([]byte, error) {
	name, content, err := Load(path, maxSize)
	if err != nil {
		return nil, err
	}
	data, err := frame.EncodeFile(name, content)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}
	return data, nil
}

// Load reads the regular file at path and returns its base name and content.
// Any path the local user can open is accepted; only the base name travels.
func Load(path string, maxSize int64) (string, []byte, error) {
	if path == "" {
		return "", nil, fmt.Errorf("%w: empty path", os.ErrNotExist)
	}
	cleaned := filepath.Clean(path)

	f, err := os.Open(cleaned)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", nil, err
	}
	if !info.Mode().IsRegular() {
		return "", nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}
	if err := limits.ValidateFileSize(uint64(info.Size()), maxSize); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrFileTooLarge, err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", path, err)
	}
	// The file may have grown between Stat and ReadAll.
	if err := limits.ValidateFileSize(uint64(len(content)), maxSize); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrFileTooLarge, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     cleaned,
		"size":     len(content),
	}).Debug("Loaded file for sending")

	return filepath.Base(cleaned), content, nil
}
