package engine

import (
	"os"
	"path/filepath"
	"strings"

	cerr "github.com/probeshift/codectx/internal/errors"
)

// ResolvePath canonicalizes a user-supplied path: ~ expansion, absolute
// cleaning, and symlink resolution. The result is what gets stored and
// reported, so "/repo/./src/" and "/repo/src" agree. The path must be an
// existing directory.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", cerr.New(cerr.ErrCodePathNotFound, "path must not be empty", nil)
	}

	if path == "~" || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", cerr.PathError(path, err)
	}
	abs = filepath.Clean(abs)

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", cerr.New(cerr.ErrCodePathNotFound,
				"path does not exist: "+abs, nil)
		}
		if os.IsPermission(err) {
			return "", cerr.New(cerr.ErrCodePathPermission,
				"permission denied: "+abs, nil)
		}
		return "", cerr.PathError(abs, err)
	}
	if !info.IsDir() {
		return "", cerr.New(cerr.ErrCodePathNotDirectory,
			"path is not a directory: "+abs, nil)
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs, nil
	}
	return real, nil
}
