// Package util provides shared utility functions.
package util

import (
	"fmt"
	"os"
	"os/exec"
)

// FindBinary locates an external tool such as gst-launch-1.0.
// Search order:
//  1. configured (an explicit path from configuration), if non-empty
//  2. environment variable envVar, if non-empty and set
//  3. name on PATH (via exec.LookPath)
//
// An explicitly configured path that is not executable is an error rather
// than a silent fallback.
func FindBinary(name, configured, envVar string) (string, error) {
	if configured != "" {
		if !isExecutable(configured) {
			return "", fmt.Errorf("configured %s path %q is not executable", name, configured)
		}
		return configured, nil
	}

	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
			return envPath, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

// isExecutable checks if a file exists, is not a directory, and has an executable bit set.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
