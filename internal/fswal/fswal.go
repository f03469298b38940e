// Package fswal is a minimal filesystem-backed implementation of
// source.WALProvider: it reports a WAL's committed length as its current
// file size and exposes the two directories a real WAL subsystem would
// rotate logs through. The on-disk WAL format itself is out of scope
// (SPEC_FULL.md Non-goals); this only has to answer "how much of this file
// can a shipper safely read" for files that already exist on disk.
package fswal

import (
	"fmt"
	"os"
	"path/filepath"
)

// Provider is a source.WALProvider backed by two plain directories.
type Provider struct {
	logDir    string
	oldLogDir string
}

// New creates a Provider rooted at logDir (actively-written WALs) and
// oldLogDir (archived, rolled WALs).
func New(logDir, oldLogDir string) *Provider {
	return &Provider{logDir: logDir, oldLogDir: oldLogDir}
}

// CommittedLength returns the current size of walPath, resolved relative to
// LogDir if it is not already absolute.
func (p *Provider) CommittedLength(walPath string) (int64, error) {
	path := walPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.logDir, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("fswal: stat %s: %w", path, err)
	}
	return info.Size(), nil
}

// LogDir returns the directory holding WALs actively being written.
func (p *Provider) LogDir() string { return p.logDir }

// OldLogDir returns the directory WALs are archived to once rolled.
func (p *Provider) OldLogDir() string { return p.oldLogDir }
