// Package vfs implements the in-memory filesystem that backs virtual
// terminal sessions. The tree lives entirely in memory except for one
// subtree that mirrors a real on-disk uploads directory, so files uploaded
// out-of-band become visible to the terminal without an explicit sync.
package vfs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

// Root is the fixed root of every virtual session's filesystem.
const Root = "/workspace"

// UploadsDir is the one subtree mirrored to disk.
const UploadsDir = Root + "/uploads"

var (
	ErrNotFound  = errors.New("no such file or directory")
	ErrNotADir   = errors.New("not a directory")
	ErrExists    = errors.New("file exists")
	ErrNotInTree = errors.New("path outside virtual root")
)

// mirrorDir bridges the virtual uploads subtree to a real on-disk
// directory. Paths are relative to the subtree root; "" names the root
// itself. Reads re-scan the disk so external writes are picked up; writes,
// mkdirs and deletes go straight through.
type mirrorDir struct {
	diskPath string
}

func (m *mirrorDir) abs(rel string) string {
	return path.Join(m.diskPath, rel)
}

// list returns the entries of rel, directories suffixed with "/".
func (m *mirrorDir) list(rel string) ([]string, error) {
	entries, err := os.ReadDir(m.abs(rel))
	if err != nil {
		if os.IsNotExist(err) && rel == "" {
			// the uploads root is materialized lazily
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name()+"/")
		} else {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (m *mirrorDir) dirExists(rel string) bool {
	if rel == "" {
		return true
	}
	fi, err := os.Stat(m.abs(rel))
	return err == nil && fi.IsDir()
}

func (m *mirrorDir) read(rel string) ([]byte, error) {
	data, err := os.ReadFile(m.abs(rel))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path.Base(rel))
	}
	return data, err
}

func (m *mirrorDir) write(rel string, data []byte) error {
	if err := os.MkdirAll(path.Dir(m.abs(rel)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.abs(rel), data, 0o644)
}

func (m *mirrorDir) mkdir(rel string) error {
	if err := os.MkdirAll(path.Dir(m.abs(rel)), 0o755); err != nil {
		return err
	}
	return os.Mkdir(m.abs(rel), 0o755)
}

func (m *mirrorDir) remove(rel string) error {
	err := os.Remove(m.abs(rel))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, path.Base(rel))
	}
	return err
}

func (m *mirrorDir) removeAll(rel string) error {
	return os.RemoveAll(m.abs(rel))
}

// FS is the virtual filesystem shared by all virtual sessions.
type FS struct {
	mu sync.RWMutex

	// children maps a directory to its subdirectory names,
	// files maps a directory to its in-memory file contents.
	children map[string][]string
	files    map[string]map[string][]byte

	mirror *mirrorDir
}

// New seeds the tree with the root and the mirrored uploads directory.
func New(uploadsDiskPath string) *FS {
	return &FS{
		children: map[string][]string{
			Root: {"uploads"},
		},
		files:  map[string]map[string][]byte{Root: {}},
		mirror: &mirrorDir{diskPath: uploadsDiskPath},
	}
}

// mirrorRel maps p into the mirrored subtree. ok is false for paths outside
// it; rel is "" for the subtree root itself.
func mirrorRel(p string) (rel string, ok bool) {
	if p == UploadsDir {
		return "", true
	}
	if strings.HasPrefix(p, UploadsDir+"/") {
		return strings.TrimPrefix(p, UploadsDir+"/"), true
	}
	return "", false
}

// Resolve joins p against cwd unless p is already absolute, then cleans it.
func Resolve(cwd, p string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(cwd, p)
	}
	return path.Clean(p)
}

// DirExists reports whether dir is a directory in the tree.
func (fs *FS) DirExists(dir string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.dirExistsLocked(dir)
}

func (fs *FS) dirExistsLocked(dir string) bool {
	if dir == Root {
		return true
	}
	if rel, ok := mirrorRel(dir); ok {
		return fs.mirror.dirExists(rel)
	}
	_, ok := fs.children[dir]
	return ok
}

// List returns the names in dir, directories suffixed with "/". The mirrored
// uploads subtree is re-read from disk on every call.
func (fs *FS) List(dir string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.dirExistsLocked(dir) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}

	var names []string
	if rel, ok := mirrorRel(dir); ok {
		diskNames, err := fs.mirror.list(rel)
		if err != nil {
			return nil, err
		}
		names = diskNames
	} else {
		for _, child := range fs.children[dir] {
			names = append(names, child+"/")
		}
		for name := range fs.files[dir] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadFile returns the contents of the file at p.
func (fs *FS) ReadFile(p string) ([]byte, error) {
	p = path.Clean(p)

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if rel, ok := mirrorRel(p); ok {
		return fs.mirror.read(rel)
	}

	dir, name := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		dir = "/"
	}
	files, ok := fs.files[dir]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	data, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return data, nil
}

// WriteFile creates or replaces the file at p. Writes under the mirrored
// uploads subtree land on disk.
func (fs *FS) WriteFile(p string, data []byte) error {
	p = path.Clean(p)
	dir := path.Dir(p)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.dirExistsLocked(dir) {
		return fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	if rel, ok := mirrorRel(p); ok {
		return fs.mirror.write(rel, data)
	}
	if fs.files[dir] == nil {
		fs.files[dir] = map[string][]byte{}
	}
	fs.files[dir][path.Base(p)] = data
	return nil
}

// Mkdir creates a directory. Only paths under the virtual root namespace
// may be created; creates under the mirrored uploads subtree materialize
// on disk.
func (fs *FS) Mkdir(dir string) error {
	dir = path.Clean(dir)
	if dir != Root && !strings.HasPrefix(dir, Root+"/") {
		return fmt.Errorf("%w: %s", ErrNotInTree, dir)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.dirExistsLocked(dir) {
		return fmt.Errorf("%w: %s", ErrExists, dir)
	}
	parent := path.Dir(dir)
	if !fs.dirExistsLocked(parent) {
		return fmt.Errorf("%w: %s", ErrNotFound, parent)
	}
	if rel, ok := mirrorRel(dir); ok {
		return fs.mirror.mkdir(rel)
	}
	fs.children[parent] = append(fs.children[parent], path.Base(dir))
	fs.children[dir] = nil
	fs.files[dir] = map[string][]byte{}
	return nil
}

// Remove deletes a file or an empty-or-not directory at p.
func (fs *FS) Remove(p string) error {
	p = path.Clean(p)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if p == Root || p == UploadsDir {
		return fmt.Errorf("cannot remove %s", p)
	}

	if rel, ok := mirrorRel(p); ok {
		if fs.mirror.dirExists(rel) {
			return fs.mirror.removeAll(rel)
		}
		return fs.mirror.remove(rel)
	}

	// Directory removal: drop from parent's child list and drop the entry.
	if fs.dirExistsLocked(p) {
		parent := path.Dir(p)
		kept := fs.children[parent][:0]
		for _, child := range fs.children[parent] {
			if child != path.Base(p) {
				kept = append(kept, child)
			}
		}
		fs.children[parent] = kept
		delete(fs.children, p)
		delete(fs.files, p)
		return nil
	}

	dir, name := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")
	files, ok := fs.files[dir]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if _, ok := files[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	delete(files, name)
	return nil
}
