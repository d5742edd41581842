package templating

import (
	"bytes"
	"html/template"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[string]string

func (m mapResolver) Resolve(path string) (string, bool) {
	v, ok := m[path]
	return v, ok
}

type mapProperties map[string]string

func (m mapProperties) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func callHelper(t *testing.T, funcs template.FuncMap, name string, args ...any) string {
	t.Helper()
	fn, ok := funcs[name].(func(...any) string)
	require.True(t, ok, "helper %q has an unexpected signature", name)
	return fn(args...)
}

func TestHelpers_Keys(t *testing.T) {
	funcs := Helpers(mapResolver{}, mapProperties{})
	assert.Len(t, funcs, 2)
	assert.Contains(t, funcs, "url")
	assert.Contains(t, funcs, "info")
}

func TestHelpers_URL(t *testing.T) {
	resolver := mapResolver{
		"/js/app.js": "/js/app-0123456789abcdef.js",
		"/empty.js":  "",
	}
	funcs := Helpers(resolver, nil)

	tests := []struct {
		name string
		args []any
		want string
	}{
		{"Mapped", []any{"/js/app.js"}, "/js/app-0123456789abcdef.js"},
		{"Unmapped", []any{"/app.js"}, "/app.js"},
		{"EmptyMappingFallsBack", []any{"/empty.js"}, "/empty.js"},
		{"Concatenated", []any{"/js/", "app", ".js"}, "/js/app-0123456789abcdef.js"},
		{"NonString", []any{42}, "42"},
		{"Nil", []any{nil}, ""},
		{"NoArgs", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, callHelper(t, funcs, "url", tt.args...))
		})
	}
}

func TestHelpers_Info(t *testing.T) {
	props := mapProperties{
		"info.version": "1.2.3",
		"info.empty":   "",
		"version":      "not-info",
	}
	funcs := Helpers(nil, props)

	assert.Equal(t, "1.2.3", callHelper(t, funcs, "info", "version"))
	assert.Equal(t, "", callHelper(t, funcs, "info", "empty"))
	assert.Equal(t, "", callHelper(t, funcs, "info", "missing"))
	assert.Equal(t, "", callHelper(t, funcs, "info", nil))
}

func TestHelpers_NilCollaborators(t *testing.T) {
	funcs := Helpers(nil, nil)
	assert.Equal(t, "/a.js", callHelper(t, funcs, "url", "/a.js"))
	assert.Equal(t, "", callHelper(t, funcs, "info", "version"))
}

func TestRegisterHelpers_Render(t *testing.T) {
	tm := setupTestManager(t, map[string]string{
		"info.tmpl.html":   `{{info "version"}}`,
		"url.tmpl.html":    `{{url "/app.js"}}`,
		"script.tmpl.html": `<script src="{{url "/js/app.js"}}"></script>`,
		"pipe.tmpl.html":   `{{"version" | info}}|{{info .Key}}`,
	})

	render := func(name string, data any) string {
		var buf bytes.Buffer
		require.NoError(t, tm.Execute(&buf, name, data))
		return buf.String()
	}

	// Before registration the helpers exist but resolve nothing.
	assert.Equal(t, "", render("info.tmpl.html", nil))
	assert.Equal(t, "/app.js", render("url.tmpl.html", nil))

	resolver := mapResolver{"/js/app.js": "/js/app-0123456789abcdef.js"}
	props := mapProperties{"info.version": "1.2.3", "info.owner": "ops"}
	require.NoError(t, tm.RegisterHelpers(Helpers(resolver, props)))

	assert.Equal(t, "1.2.3", render("info.tmpl.html", nil))
	assert.Equal(t, "/app.js", render("url.tmpl.html", nil))
	assert.Equal(t, `<script src="/js/app-0123456789abcdef.js"></script>`, render("script.tmpl.html", nil))
	assert.Equal(t, "1.2.3|ops", render("pipe.tmpl.html", map[string]string{"Key": "owner"}))
}

func TestRegisterHelpers_ExtraHelpers(t *testing.T) {
	tm := setupTestManager(t, nil)
	require.NoError(t, tm.RegisterHelpers(template.FuncMap{"upper": strings.ToUpper}))

	writeTemplate(t, tm.GetTemplateDir(), "shout.tmpl.html", `{{upper "hey"}} {{url "/x"}}`)
	require.NoError(t, tm.Refresh())

	var buf bytes.Buffer
	require.NoError(t, tm.Execute(&buf, "shout.tmpl.html", nil))
	assert.Equal(t, "HEY /x", buf.String())
}

func TestRegisterHelpers_RollbackOnFailure(t *testing.T) {
	tm := setupTestManager(t, nil)
	writeTemplate(t, tm.GetTemplateDir(), "broken.tmpl.html", `{{if}}`)

	err := tm.RegisterHelpers(Helpers(mapResolver{}, mapProperties{"info.version": "1"}))
	require.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, tm.ExecuteTemplateString(&buf, `[{{info "version"}}]`, nil))
	assert.Equal(t, "[]", buf.String(), "failed registration must keep the previous helpers")
}
