package templating

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
)

const (
	pageSuffix    = ".tmpl.html"
	partialSuffix = ".part.html"
)

// TemplateManager is the central controller for the templating engine.
// It manages the template set, configuration and function map, and is responsible
// for loading, parsing, and executing templates in a concurrent-safe manner.
// All methods are concurrent-safe.
type TemplateManager struct {
	logger         *slog.Logger
	config         *TemplateConfig
	templates      *template.Template
	cleanTemplates *template.Template
	templateNames  []string
	funcMap        template.FuncMap
	templateDir    string
	mu             sync.RWMutex
}

// NewTemplateManager creates, initializes, and returns a new TemplateManager reading
// from templateDir. It performs an initial Refresh. Until RegisterHelpers is called the
// "url" and "info" helpers are bound to nothing: url echoes its argument and info
// renders empty.
func NewTemplateManager(logger *slog.Logger, config *TemplateConfig, templateDir string) (*TemplateManager, error) {
	tm := &TemplateManager{
		logger:      logger,
		templateDir: templateDir,
		config:      config,
		funcMap:     Helpers(nil, nil),
	}

	if err := tm.Refresh(); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized", "dir", templateDir)
	return tm, nil
}

// RegisterHelpers adds funcs to the function map shared by every template and reloads
// the template set so the new bindings take effect. Existing helpers with the same
// name are replaced. If the reload fails the previous function map is restored.
func (tm *TemplateManager) RegisterHelpers(funcs template.FuncMap) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	old := tm.funcMap
	merged := make(template.FuncMap, len(old)+len(funcs))
	maps.Copy(merged, old)
	maps.Copy(merged, funcs)
	tm.funcMap = merged

	if err := tm.refreshLocked(); err != nil {
		tm.funcMap = old
		return fmt.Errorf("failed to register template helpers: %w", err)
	}

	names := slices.Sorted(maps.Keys(funcs))
	tm.logger.Info("Registered template helpers", "helpers", strings.Join(names, ","))
	return nil
}

// SetConfig applies a new configuration to the TemplateManager. Delimiter changes
// only take effect on the next Refresh.
func (tm *TemplateManager) SetConfig(config *TemplateConfig) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.config = config
}

// Refresh reloads all templates from the filesystem. This allows for updates to
// templates without restarting the application. On error the current template set
// stays in place.
func (tm *TemplateManager) Refresh() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.refreshLocked()
}

func (tm *TemplateManager) refreshLocked() error {
	tm.logger.Info("Loading template files...", "dir", tm.templateDir)

	root := template.New("").Delims(tm.config.LeftDelim, tm.config.RightDelim).Funcs(tm.funcMap)
	var names []string
	var partials int

	err := filepath.WalkDir(tm.templateDir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			if file == tm.templateDir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(tm.templateDir, file)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		isPage := strings.HasSuffix(name, pageSuffix)
		if !isPage && !strings.HasSuffix(name, partialSuffix) {
			return nil
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if _, err = root.New(name).Parse(string(content)); err != nil {
			return err
		}
		if isPage {
			names = append(names, name)
		} else {
			partials++
		}
		return nil
	})
	if err != nil {
		tm.logger.Error("failed to parse template files", "error", err)
		return err
	}

	if len(names) == 0 {
		tm.logger.Warn("No page templates found", "dir", tm.templateDir, "suffix", pageSuffix)
	}

	// Create a clean clone for string executions before anything is executed.
	clean, err := root.Clone()
	if err != nil {
		tm.logger.Error("failed to create a clean clone of templates", "error", err)
		return err
	}

	sort.Strings(names)
	tm.templates = root
	tm.cleanTemplates = clean
	tm.templateNames = names
	tm.logger.Info("Loaded template and partial files", "pages", len(names), "partials", partials)
	return nil
}

// Execute renders a specific template by name, writing the output to the provided io.Writer.
// The `data` argument is passed to the template and can be used to provide context or
// dynamic values.
func (tm *TemplateManager) Execute(w io.Writer, name string, data interface{}) error {
	if name == "" {
		return nil
	}
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templates.ExecuteTemplate(w, name, data)
}

// Has reports whether a page template with the given name is loaded.
func (tm *TemplateManager) Has(name string) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	_, found := slices.BinarySearch(tm.templateNames, name)
	return found
}

// PageName maps a request path to the page template that renders it.
// "/" and paths ending in a slash map to the index page of that directory.
func (tm *TemplateManager) PageName(urlPath string) string {
	tm.mu.RLock()
	index := tm.config.IndexPage
	tm.mu.RUnlock()

	cleaned := strings.Trim(path.Clean("/"+urlPath), "/")
	if cleaned == "" {
		return index
	}
	if strings.HasSuffix(urlPath, "/") {
		return cleaned + "/" + index
	}
	return cleaned + pageSuffix
}

// GetConfig returns a copy of the current configuration.
// This mainly exists for concurrency-safety reasons.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// GetPageNames returns the names of the loaded page templates, sorted.
func (tm *TemplateManager) GetPageNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return slices.Clone(tm.templateNames)
}

// GetTemplateNames returns a slice of the loaded template names.
// Unlike GetPageNames it also includes partials and any {{define}}d templates.
func (tm *TemplateManager) GetTemplateNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	var names []string
	for _, t := range tm.templates.Templates() {
		// By default, there is a root template with no name. We don't want to return this in the list
		if t.Name() != "" {
			names = append(names, t.Name())
		}
	}
	sort.Strings(names)
	return names
}

// GetTemplateDir returns the template dir that the TemplateManager uses.
// This mainly exists for concurrency-safety reasons as well.
func (tm *TemplateManager) GetTemplateDir() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templateDir
}

// ExecuteTemplateString parses and executes a raw template string using the manager's function map.
// This is ideal for testing or previewing templates without saving them to disk.
func (tm *TemplateManager) ExecuteTemplateString(w io.Writer, content string, data interface{}) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	// Clone the clean, unexecuted template set to avoid race conditions and execution state issues.
	tempSet, err := tm.cleanTemplates.Clone()
	if err != nil {
		return fmt.Errorf("failed to clone clean templates for string execution: %w", err)
	}

	// Parse the user-provided content string into this fresh clone.
	t, err := tempSet.Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse string template: %w", err)
	}

	// Execute the temporary template.
	return t.Execute(w, data)
}
