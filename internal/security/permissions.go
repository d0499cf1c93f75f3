package security

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// PermConfigFile is for apps files containing webhook secrets.
	// rw-r----- (0640): owner can read/write, group can read, others have no access.
	PermConfigFile os.FileMode = 0640

	// PermLogFile is for log files that may contain deployment information.
	PermLogFile os.FileMode = 0640

	// PermDBFile is for the configuration store.
	PermDBFile os.FileMode = 0640

	// PermDirectory is for directories holding the files above.
	// rwxr-x--- (0750): owner can read/write/execute, group can read/execute, others have no access.
	PermDirectory os.FileMode = 0750
)

// OpenAppendFile opens path for appending, creating it and its parent
// directory with the given permissions.
func OpenAppendFile(path string, perm os.FileMode) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := CreateSecureDir(dir, PermDirectory); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, perm)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// CreateSecureDir creates a directory with secure permissions if it does not exist.
// Existing directories keep their permissions.
func CreateSecureDir(path string, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}

	// MkdirAll is subject to umask
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to set directory permissions: %w", err)
	}
	return nil
}

// FixFilePermissions sets the correct permissions on a file.
func FixFilePermissions(path string, perm os.FileMode) error {
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to fix file permissions: %w", err)
	}
	return nil
}

// IsWorldReadable checks if a file is readable by others.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// IsWorldWritable checks if a file is writable by others.
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// ValidateSecurePermissions validates that a file holding secrets is not
// readable or writable by others.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()

	if IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o), which is insecure for sensitive data", path, perm)
	}
	if IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o), which is a serious security risk", path, perm)
	}
	return nil
}
