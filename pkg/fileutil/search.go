package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// SearchDirs are the directories searched for deployhook's files, in order.
var SearchDirs = []string{".", "config", "/etc/deployhook"}

// Candidates returns every path filename is looked up at.
func Candidates(filename string) []string {
	paths := make([]string, 0, len(SearchDirs))
	for _, dir := range SearchDirs {
		paths = append(paths, filepath.Join(dir, filename))
	}
	return paths
}

// First returns the first path that is an existing regular file.
func First(paths []string) (string, bool) {
	for _, path := range paths {
		if FileExists(path) {
			return path, true
		}
	}
	return "", false
}

// Find looks filename up in SearchDirs.
func Find(filename string) (string, error) {
	if path, ok := First(Candidates(filename)); ok {
		return path, nil
	}
	return "", fmt.Errorf("%s not found in %v: %w", filename, SearchDirs, os.ErrNotExist)
}

// Resolve returns explicit when set, failing if it does not exist, and
// otherwise searches for filename. A missing optional file yields "".
func Resolve(explicit, filename string) (string, error) {
	if explicit != "" {
		if !FileExists(explicit) {
			return "", fmt.Errorf("%s: %w", explicit, os.ErrNotExist)
		}
		return explicit, nil
	}
	path, _ := First(Candidates(filename))
	return path, nil
}

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
