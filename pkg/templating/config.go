package templating

// TemplateConfig holds all configuration options for the templating engine.
type TemplateConfig struct {
	// IndexPage is the page rendered for "/" and for paths ending in a slash.
	IndexPage string `json:"index_page"`

	// LeftDelim and RightDelim override the action delimiters. Empty means "{{" and "}}".
	LeftDelim  string `json:"left_delim"`
	RightDelim string `json:"right_delim"`
}

// DefaultConfig returns a TemplateConfig with default values.
func DefaultConfig() TemplateConfig {
	return TemplateConfig{
		IndexPage:  "index" + pageSuffix,
		LeftDelim:  "{{",
		RightDelim: "}}",
	}
}
