package properties

// Config holds the sources an Environment is assembled from.
type Config struct {
	// Files are property files loaded in order; later files win. Missing files are skipped.
	Files []string `json:"files"`

	// EnvPrefix selects the environment variables mapped onto properties.
	// WORKSHOP_INFO_VERSION becomes info.version. Empty disables the layer.
	EnvPrefix string `json:"env_prefix"`

	// Defaults are the lowest-precedence properties.
	Defaults map[string]string `json:"defaults"`
}

// DefaultConfig returns a Config reading ./data/application.yml and WORKSHOP_ variables.
func DefaultConfig() Config {
	return Config{
		Files:     []string{"./data/application.yml"},
		EnvPrefix: "WORKSHOP_",
		Defaults: map[string]string{
			"info.name": "workshop",
		},
	}
}
