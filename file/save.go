package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrDirectoryTraversal indicates a received name that would escape the
// download directory.
var ErrDirectoryTraversal = errors.New("path contains directory traversal")

// fallbackName replaces received names that sanitize to nothing.
const fallbackName = "file"

// SanitizeName reduces a received file name to a single safe path element.
// Both slash styles are treated as separators since the sender's platform is
// unknown.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == ':' {
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return fallbackName
	}
	return name
}

// TargetName returns the on-disk name for a file received from peerHost.
func TargetName(peerHost, name string) string {
	host := strings.NewReplacer(":", "_", "%", "_", "/", "_", "\\", "_").Replace(peerHost)
	return host + "_" + SanitizeName(name)
}

// Save atomically writes content to dir/<peerHost>_<name> and returns the
// final path. An existing file of that name is replaced.
func Save(dir, peerHost, name string, content []byte) (string, error) {
	if dir == "" {
		dir = "."
	}
	target := filepath.Join(dir, TargetName(peerHost, name))
	if filepath.Dir(target) != filepath.Clean(dir) {
		return "", ErrDirectoryTraversal
	}

	tmp, err := os.CreateTemp(dir, ".dchat-*.part")
	if err != nil {
		return "", fmt.Errorf("create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename to %s: %w", target, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Save",
		"path":     target,
		"peer":     peerHost,
		"size":     len(content),
	}).Info("Saved received file")

	return target, nil
}
