package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Module is a test file loaded by a runner. Its contents are staged into a
// private copy so a bundler rewriting the original during watch mode does not
// race the running test.
type Module struct {
	Path   string // Absolute path of the registered file
	Staged string // Path of the staged copy that gets executed
	Digest string // sha256 of the contents at load time
}

// ModuleCache keeps loaded modules keyed by absolute path. A cached module is
// reused on later loads until it is deleted, even if the file changed on disk.
type ModuleCache struct {
	mu      sync.Mutex
	modules map[string]*Module
}

// Modules is the cache shared by every ExecRunner in the process
var Modules = NewModuleCache()

// NewModuleCache creates an empty module cache
func NewModuleCache() *ModuleCache {
	return &ModuleCache{modules: make(map[string]*Module)}
}

// Load returns the cached module for file, staging it into stageDir on a miss
func (c *ModuleCache) Load(file string, stageDir string) (*Module, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for '%s': %w", file, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if mod, ok := c.modules[abs]; ok {
		return mod, nil
	}

	contents, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to load module: %w", err)
	}
	sum := sha256.Sum256(contents)
	digest := hex.EncodeToString(sum[:])

	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stage directory: %w", err)
	}
	// Every load gets its own staged copy, so releasing an evicted module never
	// removes a file another load still runs
	f, err := os.CreateTemp(stageDir, digest[:16]+"-*-"+filepath.Base(abs))
	if err != nil {
		return nil, fmt.Errorf("failed to stage module: %w", err)
	}
	staged := f.Name()
	_, err = f.Write(contents)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(staged, 0o755)
	}
	if err != nil {
		_ = os.Remove(staged)
		return nil, fmt.Errorf("failed to stage module: %w", err)
	}

	mod := &Module{Path: abs, Staged: staged, Digest: digest}
	c.modules[abs] = mod
	return mod, nil
}

// Get returns the cached module for file, if any
func (c *ModuleCache) Get(file string) (*Module, bool) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	mod, ok := c.modules[abs]
	return mod, ok
}

// Delete evicts file so the next load reads fresh contents. The staged copy
// stays until the module is released.
func (c *ModuleCache) Delete(file string) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.modules, abs)
}

// Release removes the staged copy of mod once it is no longer cached. Runners
// call it after executing a module, so evicted modules do not pile up in the
// stage directory.
func (c *ModuleCache) Release(mod *Module) error {
	if mod == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.modules[mod.Path] == mod {
		return nil
	}
	if err := os.Remove(mod.Staged); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove staged module: %w", err)
	}
	return nil
}

// Len returns the number of cached modules
func (c *ModuleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.modules)
}
