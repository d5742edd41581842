package properties

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment is a read-mostly view over the merged property layers.
// Lookups never block on a reload: a reload builds a complete new snapshot and swaps it in.
// Keys stay flat across layers, so "info" and "info.version" are independent properties.
// All methods are concurrent-safe.
type Environment struct {
	logger *slog.Logger
	config *Config
	db     *sql.DB
	args   []string
	props  map[string]string
	mu     sync.RWMutex
}

// NewEnvironment builds an Environment from config. db may be nil, in which case the
// database layer is skipped and Set/Delete fail with ErrNoDatabase. args are the process
// arguments; those of the form --key=value become the highest-precedence properties.
func NewEnvironment(logger *slog.Logger, config *Config, db *sql.DB, args []string) (*Environment, error) {
	e := &Environment{
		logger: logger,
		config: config,
		db:     db,
		args:   slices.Clone(args),
	}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	logger.Info("Property environment initialized", "keys", len(e.All()))
	return e, nil
}

// Get returns the property stored under the flattened key.
func (e *Environment) Get(key string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.props[key]
	return v, ok
}

// All returns every property as a flattened key/value snapshot.
func (e *Environment) All() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.props)
}

// GetConfig returns a copy of the current configuration.
func (e *Environment) GetConfig() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return *e.config
}

// SetConfig swaps in a new configuration and reloads. On failure the previous
// configuration and snapshot are kept.
func (e *Environment) SetConfig(config *Config) error {
	e.mu.Lock()
	old := e.config
	e.config = config
	e.mu.Unlock()

	if err := e.Reload(); err != nil {
		e.mu.Lock()
		e.config = old
		e.mu.Unlock()
		return err
	}
	return nil
}

// Reload rebuilds every layer. On error the previous snapshot stays in place.
func (e *Environment) Reload() error {
	e.mu.RLock()
	config := *e.config
	e.mu.RUnlock()

	props, err := e.load(&config)
	if err != nil {
		e.logger.Error("Failed to load properties", "error", err)
		return err
	}

	e.mu.Lock()
	e.props = props
	e.mu.Unlock()
	return nil
}

// load reads each layer on its own and merges the flattened results, lowest
// precedence first. A key only ever replaces the same key from a lower layer.
func (e *Environment) load(config *Config) (map[string]string, error) {
	props := make(map[string]string)
	merge := func(layer map[string]interface{}) {
		for key, v := range layer {
			if s, ok := stringify(v); ok {
				props[key] = s
			}
		}
	}

	defaults := make(map[string]interface{}, len(config.Defaults))
	for key, v := range config.Defaults {
		defaults[key] = v
	}
	layer, _ := confmap.Provider(defaults, "").Read()
	merge(layer)

	for _, path := range config.Files {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if _, err = os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				e.logger.Debug("Property file not found, skipping", "file", path)
				continue
			}
			return nil, fmt.Errorf("failed to stat property file %s: %w", path, err)
		}
		k := koanf.New(".")
		if err = k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load property file %s: %w", path, err)
		}
		merge(k.All())
	}

	if e.db != nil {
		layer, err := (&dbProvider{db: e.db}).Read()
		if err != nil {
			return nil, fmt.Errorf("failed to load database properties: %w", err)
		}
		merge(layer)
	}

	if prefix := config.EnvPrefix; prefix != "" {
		layer, err := env.Provider(prefix, "", func(s string) string {
			return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "_", ".")
		}).Read()
		if err != nil {
			return nil, fmt.Errorf("failed to load environment properties: %w", err)
		}
		merge(layer)
	}

	for key, value := range parseArgs(e.args) {
		props[key] = value
	}
	return props, nil
}

// Watch reloads the environment whenever one of the property files changes. It blocks
// until ctx is done. Files that do not exist when Watch starts are not watched.
func (e *Environment) Watch(ctx context.Context) error {
	files := e.GetConfig().Files

	var watched []*file.File
	unwatch := func() {
		for _, fp := range watched {
			_ = fp.Unwatch()
		}
	}

	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		fp := file.Provider(path)
		err := fp.Watch(func(_ interface{}, err error) {
			if err != nil {
				e.logger.Error("Property file watch failed", "file", path, "error", err)
				return
			}
			e.logger.Info("Property file changed, reloading", "file", path)
			_ = e.Reload()
		})
		if err != nil {
			unwatch()
			return fmt.Errorf("failed to watch property file %s: %w", path, err)
		}
		watched = append(watched, fp)
	}

	<-ctx.Done()
	unwatch()
	return nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return yaml.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported property file format: %s", path)
	}
}

// parseArgs turns --key=value arguments into flat properties. A bare --key sets an
// empty value. Anything else is left for other consumers of the arguments.
func parseArgs(args []string) map[string]string {
	out := make(map[string]string)
	for _, arg := range args {
		rest, ok := strings.CutPrefix(arg, "--")
		if !ok {
			continue
		}
		key, value, _ := strings.Cut(rest, "=")
		if !validKey(key) {
			continue
		}
		out[key] = value
	}
	return out
}

// stringify renders a flattened property value. Lists are joined with commas.
func stringify(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			s, _ := stringify(item)
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), true
	default:
		return fmt.Sprint(t), true
	}
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return false
	}
	return !strings.Contains(key, "..")
}
