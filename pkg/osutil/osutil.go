// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package osutil groups the small filesystem/process helpers the manager
// and corpus persistence layer (§6.3) need: atomic file rewrite, directory
// creation, and process lifecycle helpers. Grounded on the call sites in
// pkg/testutil and the corpus/relation persistence paths; stdlib only —
// these are thin os/io wrappers with no third-party equivalent in the
// pack.
package osutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// MkdirAll creates dir and any missing parents, tolerating dir already
// existing.
func MkdirAll(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// WriteFile writes data to name, creating parent directories as needed.
func WriteFile(name string, data []byte) error {
	if err := MkdirAll(filepath.Dir(name)); err != nil {
		return fmt.Errorf("failed to create dir for %v: %w", name, err)
	}
	return os.WriteFile(name, data, 0o644)
}

// WriteAtomic writes data to name by first writing to a sibling temp file
// and renaming it into place, so a crash never leaves name truncated
// (§6.3: "corpus.json ... atomic rewrite per promotion").
func WriteAtomic(name string, data []byte) error {
	if err := MkdirAll(filepath.Dir(name)); err != nil {
		return fmt.Errorf("failed to create dir for %v: %w", name, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, name)
}

// IsExist reports whether name exists on disk.
func IsExist(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}
