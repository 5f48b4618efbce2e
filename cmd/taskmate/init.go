package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/taskmate/examples"
)

// runInit writes the example configuration into dir. An existing
// config.yaml is left untouched.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Taskmate in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// The config may hold API keys and the JWT secret.
	if err := writeIfMissing(w, filepath.Join(dir, "config.yaml"), examples.ConfigYAML, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml, then create a user with: taskmate adduser <username> <email>")
	return nil
}

// writeIfMissing writes content to path with perm unless the file
// already exists, and reports what it did on w.
func writeIfMissing(w io.Writer, path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
