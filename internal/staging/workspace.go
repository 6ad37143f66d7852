// Package staging implements a copy-in/copy-out workspace over a directory
// backed vector store. An indexing job acquires a workspace (a clone of the
// persistent directory), mutates only the clone, and either commits it back
// or discards it. A crash mid-job leaves the persistent store exactly as it
// was at acquire time.
//
// The workspace is not safe for concurrent jobs on the same persistent
// directory; callers serialize jobs themselves.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Workspace is an ephemeral clone of a persistent store directory.
type Workspace struct {
	persistentDir string
	workDir       string
	done          bool
}

// Acquire clones persistentDir into a fresh temp directory and returns a
// workspace handle. A missing persistent directory yields an empty workspace.
// Parameters:
//   - persistentDir: directory holding the committed store state.
//   - scratchDir: parent for the temp workspace; empty uses the OS default.
// Returns:
//   - *Workspace: handle over the clone.
//   - error: non-nil if the clone cannot be created.
func Acquire(persistentDir, scratchDir string) (*Workspace, error) {
	workDir, err := os.MkdirTemp(scratchDir, "staging-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging workspace: %w", err)
	}

	if _, err := os.Stat(persistentDir); err == nil {
		if err := copyTree(persistentDir, workDir); err != nil {
			os.RemoveAll(workDir)
			return nil, fmt.Errorf("failed to clone persistent store: %w", err)
		}
	} else if !os.IsNotExist(err) {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to stat persistent store: %w", err)
	}

	return &Workspace{persistentDir: persistentDir, workDir: workDir}, nil
}

// Dir returns the workspace directory. All job mutations go here.
func (w *Workspace) Dir() string {
	return w.workDir
}

// Commit copies the workspace back over the persistent directory and fsyncs
// the result. After Commit the workspace is spent.
// Parameters: none.
// Returns:
//   - error: non-nil if publishing the workspace fails; the persistent
//     directory may then hold the previous committed state.
func (w *Workspace) Commit() error {
	if w.done {
		return fmt.Errorf("workspace already committed or discarded")
	}

	// Build the new state next to the persistent dir, then swap via rename
	// so a crash never leaves a half-copied persistent store.
	parent := filepath.Dir(w.persistentDir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("failed to create store parent directory: %w", err)
	}

	incoming, err := os.MkdirTemp(parent, ".commit-*")
	if err != nil {
		return fmt.Errorf("failed to create commit directory: %w", err)
	}
	defer os.RemoveAll(incoming)

	if err := copyTree(w.workDir, incoming); err != nil {
		return fmt.Errorf("failed to copy workspace: %w", err)
	}
	if err := syncTree(incoming); err != nil {
		return fmt.Errorf("failed to sync workspace copy: %w", err)
	}

	old := w.persistentDir + ".old"
	os.RemoveAll(old)
	if _, err := os.Stat(w.persistentDir); err == nil {
		if err := os.Rename(w.persistentDir, old); err != nil {
			return fmt.Errorf("failed to move previous store aside: %w", err)
		}
	}
	if err := os.Rename(incoming, w.persistentDir); err != nil {
		// Try to restore the previous state before reporting.
		os.Rename(old, w.persistentDir)
		return fmt.Errorf("failed to publish workspace: %w", err)
	}
	os.RemoveAll(old)

	w.done = true
	os.RemoveAll(w.workDir)
	return nil
}

// Discard removes the workspace without touching the persistent directory.
// Safe to call after Commit.
func (w *Workspace) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	return os.RemoveAll(w.workDir)
}

// copyTree recursively copies the contents of src into dst. dst must exist.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// syncTree fsyncs every file under dir and the directory itself.
func syncTree(dir string) error {
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		syncErr := f.Sync()
		closeErr := f.Close()
		if syncErr != nil {
			return syncErr
		}
		return closeErr
	})
	if err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
