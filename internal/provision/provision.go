// Package provision creates and discovers the directories the importers write
// into and read from.
package provision

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// Provisioner ensures directories exist on a filesystem. It is safe for
// concurrent use: calls are serialized, so fs itself need not be.
type Provisioner struct {
	mu sync.Mutex
	fs billy.Filesystem
}

// New returns a Provisioner over fs. All access to fs must go through the
// returned Provisioner while it is shared between goroutines.
func New(fs billy.Filesystem) *Provisioner {
	return &Provisioner{fs: fs}
}

// NewOS returns a Provisioner over the host filesystem. Paths must be absolute.
func NewOS() *Provisioner {
	return New(osfs.New("/"))
}

// Ensure creates path and any missing parents. An existing directory is left
// untouched; an existing non-directory is an error.
func (p *Provisioner) Ensure(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := p.fs.Stat(path)
	switch {
	case err == nil:
		if !info.IsDir() {
			return fmt.Errorf("ensure %s: exists and is not a directory", path)
		}
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := p.fs.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// ListFolders returns the sorted names of the immediate subdirectories of
// path, following symbolic links. Hidden entries are skipped.
func (p *Provisioner) ListFolders(path string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries, err := p.fs.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", path, err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.Mode()&os.ModeSymlink != 0 {
			// Dangling links and links to files are not folders.
			target, err := p.fs.Stat(p.fs.Join(path, e.Name()))
			if err != nil || !target.IsDir() {
				continue
			}
		} else if !e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}
