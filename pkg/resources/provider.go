package resources

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// asset is a single scanned file.
type asset struct {
	logical   string // slash-separated path relative to the static dir, e.g. "js/app.js"
	versioned string // published form of logical, e.g. "js/app-3f2a9c01d4e5b678.js"
	file      string
	hash      string
	modTime   time.Time
}

// Provider is the URL-resolution service for static assets. It maps logical asset
// paths to their versioned form and serves the files behind both.
// All methods are concurrent-safe.
type Provider struct {
	logger      *slog.Logger
	config      *Config
	prefix      string
	byLogical   map[string]*asset
	byVersioned map[string]*asset
	mu          sync.RWMutex
}

// NewProvider creates a Provider and performs an initial Refresh. A missing static
// directory is not an error; the provider simply resolves nothing until it exists.
func NewProvider(logger *slog.Logger, config *Config) (*Provider, error) {
	p := &Provider{
		logger:      logger,
		config:      config,
		prefix:      normalizePrefix(config.URLPrefix),
		byLogical:   map[string]*asset{},
		byVersioned: map[string]*asset{},
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if err := p.Refresh(); err != nil {
		return nil, err
	}
	logger.Info("Asset provider initialized", "prefix", p.prefix, "strategy", config.Strategy)
	return p, nil
}

func validateConfig(config *Config) error {
	switch config.Strategy {
	case StrategyContent:
	case StrategyFixed:
		if config.FixedVersion == "" || strings.Contains(config.FixedVersion, "/") {
			return fmt.Errorf("invalid fixed version %q", config.FixedVersion)
		}
	default:
		return fmt.Errorf("unknown version strategy %q", config.Strategy)
	}
	return nil
}

// SetConfig applies a new configuration. The caller is expected to Refresh afterwards
// so the mapping reflects the new settings.
func (p *Provider) SetConfig(config *Config) error {
	if err := validateConfig(config); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = config
	p.prefix = normalizePrefix(config.URLPrefix)
	return nil
}

// GetConfig returns a copy of the current configuration.
func (p *Provider) GetConfig() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.config
}

// Refresh rescans the static directory and rebuilds the mapping. If the scan fails the
// previous mapping is kept.
func (p *Provider) Refresh() error {
	p.mu.RLock()
	config := *p.config
	p.mu.RUnlock()

	byLogical := map[string]*asset{}
	byVersioned := map[string]*asset{}

	root := config.StaticDir
	err := filepath.WalkDir(root, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			if file == root && errors.Is(err, fs.ErrNotExist) {
				p.logger.Warn("Static directory does not exist, no assets will be published", "dir", root)
				return fs.SkipAll
			}
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && file != root {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, file)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hash, err := hashFile(file)
		if err != nil {
			return fmt.Errorf("failed to fingerprint %s: %w", file, err)
		}

		a := &asset{
			logical: filepath.ToSlash(rel),
			file:    file,
			hash:    hash,
			modTime: info.ModTime(),
		}
		a.versioned = versionPath(&config, a.logical, hash)
		byLogical[a.logical] = a
		byVersioned[a.versioned] = a
		return nil
	})
	if err != nil {
		p.logger.Error("Failed to scan static assets", "dir", root, "error", err)
		return err
	}

	p.mu.Lock()
	p.byLogical = byLogical
	p.byVersioned = byVersioned
	p.mu.Unlock()

	p.logger.Info("Loaded static assets", "count", len(byLogical))
	return nil
}

// Resolve returns the versioned URL for a logical asset path such as "/js/app.js".
// Query strings and fragments are carried over to the result. The second return value
// is false when the path is outside the URL prefix or names no scanned file.
func (p *Provider) Resolve(urlPath string) (string, bool) {
	base, suffix := splitSuffix(urlPath)

	p.mu.RLock()
	defer p.mu.RUnlock()

	rel, ok := strings.CutPrefix(base, p.prefix)
	if !ok {
		return "", false
	}
	a, ok := p.byLogical[rel]
	if !ok {
		return "", false
	}
	return p.prefix + a.versioned + suffix, true
}

// Lookup is the reverse of Resolve: it maps a versioned URL back to its logical URL.
func (p *Provider) Lookup(versionedPath string) (string, bool) {
	base, suffix := splitSuffix(versionedPath)

	p.mu.RLock()
	defer p.mu.RUnlock()

	rel, ok := strings.CutPrefix(base, p.prefix)
	if !ok {
		return "", false
	}
	a, ok := p.byVersioned[rel]
	if !ok {
		return "", false
	}
	return p.prefix + a.logical + suffix, true
}

// Owns reports whether the URL path names an asset, in either its logical or
// versioned form.
func (p *Provider) Owns(urlPath string) bool {
	a, _ := p.find(urlPath)
	return a != nil
}

// Mappings returns a snapshot of every logical URL and its versioned URL.
func (p *Provider) Mappings() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.byLogical))
	for logical, a := range p.byLogical {
		out[p.prefix+logical] = p.prefix + a.versioned
	}
	return out
}

// Paths returns the sorted logical URLs of all scanned assets.
func (p *Provider) Paths() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	paths := make([]string, 0, len(p.byLogical))
	for logical := range p.byLogical {
		paths = append(paths, p.prefix+logical)
	}
	sort.Strings(paths)
	return paths
}

// find returns the asset behind urlPath and whether urlPath is the versioned form.
func (p *Provider) find(urlPath string) (*asset, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rel, ok := strings.CutPrefix(urlPath, p.prefix)
	if !ok {
		return nil, false
	}
	if a, ok := p.byVersioned[rel]; ok {
		return a, true
	}
	if a, ok := p.byLogical[rel]; ok {
		return a, false
	}
	return nil, false
}

// ServeHTTP serves the asset named by the request path. Versioned paths are served with
// a long-lived immutable cache policy, logical paths must be revalidated on every use.
func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a, versioned := p.find(r.URL.Path)
	if a == nil {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(a.file)
	if err != nil {
		// The file vanished since the last scan.
		p.logger.Warn("Failed to open static asset", "file", a.file, "error", err)
		http.NotFound(w, r)
		return
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	w.Header().Set("ETag", strconv.Quote(a.hash))
	if versioned {
		p.mu.RLock()
		maxAge := p.config.MaxAgeSec
		p.mu.RUnlock()
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", maxAge))
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	http.ServeContent(w, r, path.Base(a.logical), a.modTime, f)
}

// versionPath builds the published path of logical under the configured strategy.
func versionPath(config *Config, logical, hash string) string {
	if config.Strategy == StrategyFixed {
		return config.FixedVersion + "/" + logical
	}
	dir, file := path.Split(logical)
	ext := path.Ext(file)
	return dir + strings.TrimSuffix(file, ext) + "-" + hash + ext
}

func hashFile(file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	d := xxhash.New()
	if _, err = io.Copy(d, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", d.Sum64()), nil
}

// normalizePrefix makes sure the prefix starts and ends with a slash.
func normalizePrefix(prefix string) string {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// splitSuffix separates a query string or fragment from a URL path.
func splitSuffix(urlPath string) (string, string) {
	if i := strings.IndexAny(urlPath, "?#"); i >= 0 {
		return urlPath[:i], urlPath[i:]
	}
	return urlPath, ""
}
