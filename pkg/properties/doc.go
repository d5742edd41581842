// Package properties resolves named configuration properties from layered sources.
//
// An Environment merges, from lowest to highest precedence: built-in defaults,
// property files (YAML or TOML), overrides stored in the database, WORKSHOP_*
// environment variables and "--key=value" command-line arguments. Keys are flattened
// with dots, so the YAML document
//
//	info:
//	  version: 1.2.3
//
// is read back as Get("info.version").
package properties
