package servable

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/born-ml/serve/internal/graph"
	"github.com/born-ml/serve/internal/tensor"
)

// Registry serves lookups over the model repository. Loads and reloads
// take the write lock; request-path lookups take the read lock. Loaded
// versions are immutable.
type Registry struct {
	root    string
	backend tensor.Backend
	logger  *zap.Logger

	mu        sync.RWMutex
	servables map[string]*Servable
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// Open scans the repository root and loads every declarable servable.
// Servables with a missing or invalid config are skipped with an error
// log; individual versions that fail to load are skipped the same way.
func Open(root string, backend tensor.Backend, opts ...Option) (*Registry, error) {
	r := &Registry{
		root:      root,
		backend:   backend,
		logger:    zap.NewNop(),
		servables: make(map[string]*Servable),
	}
	for _, opt := range opts {
		opt(r)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read model repository %s: %w", root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := r.Reload(entry.Name()); err != nil {
			r.logger.Error("skipping servable",
				zap.String("servable", entry.Name()),
				zap.Error(err))
		}
	}
	return r, nil
}

// Root returns the repository root directory.
func (r *Registry) Root() string { return r.root }

// Reload re-scans one servable directory: parses its config and loads
// every version directory. The servable becomes visible atomically; a
// failed reload leaves the previous state in place.
func (r *Registry) Reload(name string) error {
	dir := filepath.Join(r.root, name)
	cfg, err := ParseConfigFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	s := &Servable{
		Name:     name,
		Config:   cfg,
		versions: make(map[int64]*Version),
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		number, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil || number <= 0 {
			continue
		}
		v, err := loadVersion(filepath.Join(dir, entry.Name()), number, cfg, r.backend)
		if err != nil {
			r.logger.Error("skipping version",
				zap.String("servable", name),
				zap.Int64("version", number),
				zap.Error(err))
			continue
		}
		s.versions[number] = v
		r.logger.Info("loaded servable version",
			zap.String("servable", name),
			zap.Int64("version", number),
			zap.String("artifact", v.Artifact))
	}
	if len(s.versions) == 0 {
		return fmt.Errorf("servable %s: no loadable versions", name)
	}

	r.mu.Lock()
	r.servables[name] = s
	r.mu.Unlock()
	return nil
}

// Remove unloads a servable.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	_, ok := r.servables[name]
	delete(r.servables, name)
	r.mu.Unlock()
	if ok {
		r.logger.Info("unloaded servable", zap.String("servable", name))
	}
}

// Get returns a loaded servable.
func (r *Registry) Get(name string) (*Servable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servables[name]
	if !ok {
		return nil, fmt.Errorf("servable %s: %w", name, ErrServableNotFound)
	}
	return s, nil
}

// Lookup resolves one request target: servable, version (0 = highest)
// and method.
func (r *Registry) Lookup(name string, version int64, method string) (*Version, *Method, error) {
	s, err := r.Get(name)
	if err != nil {
		return nil, nil, err
	}
	v, err := s.Version(version)
	if err != nil {
		return nil, nil, err
	}
	m, err := v.Method(method)
	if err != nil {
		return nil, nil, fmt.Errorf("servable %s: %w", name, err)
	}
	return v, m, nil
}

// Info summarizes one loaded servable for metadata and listing calls.
type Info struct {
	Name     string
	Versions []int64
	Methods  []string
	Inputs   []graph.ValueInfo
	Outputs  []graph.ValueInfo
}

// List returns summaries for all loaded servables, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.servables))
	for _, s := range r.servables {
		info := Info{Name: s.Name, Versions: s.Versions()}
		if latest, err := s.Version(0); err == nil {
			info.Methods = latest.MethodNames()
			info.Inputs = latest.InputInfo()
			info.Outputs = latest.OutputInfo()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
