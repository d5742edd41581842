package resources

const (
	// StrategyContent inserts a hash of the file content before the file extension.
	StrategyContent = "content"

	// StrategyFixed prefixes every path with a fixed version segment.
	StrategyFixed = "fixed"
)

// Config holds all configuration options for the asset provider.
type Config struct {
	// StaticDir is the directory scanned for assets.
	StaticDir string `json:"static_dir"`

	// URLPrefix is the URL path under which assets are published. It always
	// starts and ends with a slash once normalized.
	URLPrefix string `json:"url_prefix"`

	// Strategy selects how published paths are versioned, either "content" or "fixed".
	Strategy string `json:"strategy"`

	// FixedVersion is the version segment used by the "fixed" strategy.
	FixedVersion string `json:"fixed_version"`

	// MaxAgeSec is the cache lifetime sent with versioned assets.
	MaxAgeSec int `json:"max_age_sec"`
}

// DefaultConfig returns a Config that publishes ./data/static at the root of the site
// with content-hashed names.
func DefaultConfig() Config {
	return Config{
		StaticDir:    "./data/static",
		URLPrefix:    "/",
		Strategy:     StrategyContent,
		FixedVersion: "v1",
		MaxAgeSec:    31536000, // one year
	}
}
