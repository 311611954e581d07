package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when a ledger database would live on a
// mount whose file locking SQLite cannot trust.
var ErrNetworkFilesystem = errors.New("sqlite ledger requires a local filesystem")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// fsTypeFunc reports the filesystem type of an existing path.
type fsTypeFunc func(path string) (string, error)

func checkLocalFilesystem(dbPath string) error {
	return checkLocalFilesystemWith(dbPath, filesystemType)
}

func checkLocalFilesystemWith(dbPath string, fsType fsTypeFunc) error {
	existing, err := nearestExisting(dbPath)
	if err != nil {
		return fmt.Errorf("resolve ledger path %q: %w", dbPath, err)
	}

	kind, err := fsType(existing)
	if err != nil {
		return fmt.Errorf("inspect filesystem of %q: %w", existing, err)
	}
	if isNetworkFilesystem(kind) {
		return fmt.Errorf("%w: ledger.path %q is on %s; point it at local disk or use the redis backend",
			ErrNetworkFilesystem, dbPath, kind)
	}
	return nil
}

// nearestExisting walks up from path to the first component that exists, so
// a database that has not been created yet is judged by its parent mount.
func nearestExisting(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(kind string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(kind))]
	return found
}
