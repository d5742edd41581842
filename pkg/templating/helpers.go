package templating

import (
	"fmt"
	"html/template"
	"strings"
)

// URLResolver rewrites a static asset path into the path it is published under.
type URLResolver interface {
	Resolve(path string) (string, bool)
}

// PropertySource looks up configuration properties by their flattened key.
type PropertySource interface {
	Get(key string) (string, bool)
}

const infoPrefix = "info."

// Helpers builds the "url" and "info" template helpers.
//
// url emits the resolver's rewrite of its argument, or the argument itself when the
// resolver has no mapping. info emits the value of the "info."-prefixed property, or
// the empty string. A nil collaborator behaves as one that never finds anything.
func Helpers(resolver URLResolver, props PropertySource) template.FuncMap {
	return template.FuncMap{
		"url": func(fragment ...any) string {
			path := evaluate(fragment)
			if resolver != nil {
				if resolved, ok := resolver.Resolve(path); ok && resolved != "" {
					return resolved
				}
			}
			return path
		},
		"info": func(fragment ...any) string {
			if props == nil {
				return ""
			}
			if value, ok := props.Get(infoPrefix + evaluate(fragment)); ok {
				return value
			}
			return ""
		},
	}
}

// evaluate concatenates the text form of every argument; nil contributes nothing.
func evaluate(fragment []any) string {
	var b strings.Builder
	for _, part := range fragment {
		switch v := part.(type) {
		case nil:
		case string:
			b.WriteString(v)
		default:
			_, _ = fmt.Fprint(&b, v)
		}
	}
	return b.String()
}
