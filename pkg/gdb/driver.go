package gdb

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrNotSupported is returned by any Driver method a concrete backend
// chooses not to implement.
var ErrNotSupported = errors.New("gdb: operation not supported by this driver")

// ErrNotFound is returned by ApplyStoreObj when an erase targeted a
// missing key.
var ErrNotFound = errors.New("gdb: not found")

// ErrUnsupportedDriver is returned by Open for an unrecognized driver name.
var ErrUnsupportedDriver = errors.New("gdb: unsupported driver name")

// Driver is the fixed callback table a storage engine implements. Any
// method may return ErrNotSupported.
type Driver interface {
	ApplyStoreObj(obj *Object) error
	ReadStoreObj(group string, key *string, countInOut *int, withHoles bool) ([]*Object, error)
	ReadLastStoreObj(group string, withHoles bool) (*Object, error)
	ReadCondStoreObj(group string, hashFrom [16]byte, countInOut *int, withHoles bool) ([]*Object, error)
	ReadCountStore(group string) (int, error)
	ReadHashes(group string, hashFrom [16]byte) ([][16]byte, error)
	ReadStoreObjByTimestamp(group string, ts int64, countOut *int) ([]*Object, error)
	IsObj(group, key string) (bool, error)
	IsHash(group string, hash [16]byte) (bool, error)
	GetByHash(group string, hashes [][16]byte) ([]*Object, error)
	GetGroupsByMask(mask string) ([]string, error)
	TransactionStart() error
	TransactionEnd(commit bool) error
	Flush() error
	Deinit() error
}

// Open selects a driver backend by name and composes its storage path.
// pgsql's "path" is a connection string instead of a filesystem path.
// Concrete backends live outside this package (a non-goal here); Open only
// validates the name and returns the composed path/connection-string plus
// ErrUnsupportedDriver for anything else.
func Open(driverName, parentPath string) (path_ string, err error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3", "mdbx":
		return fmt.Sprintf("%s/gdb-%s", parentPath, strings.ToLower(driverName)), nil
	case "pgsql":
		return parentPath, nil // parentPath is already a connection string
	default:
		logrus.StandardLogger().Errorf("gdb: unsupported driver name %q", driverName)
		return "", ErrUnsupportedDriver
	}
}

// MatchGlob implements the shell-glob, no-escape matching the whitelist/
// blacklist and sync-group masks need, via the standard library's path
// matcher — the closest stdlib equivalent to fnmatch's no-escape mode.
func MatchGlob(mask, name string) bool {
	ok, err := path.Match(mask, name)
	return err == nil && ok
}
