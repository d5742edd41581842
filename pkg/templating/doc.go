/*
Package templating provides a filesystem-based Go template engine for server-rendered pages.

Page templates (*.tmpl.html) and partials (*.part.html) are loaded from a directory tree
and can be refreshed at runtime, so template edits show up without a restart. Request
paths map onto page names: "/" renders the index page and "/docs/intro" renders
"docs/intro.tmpl.html".

Two helpers connect templates to the rest of the application:

	<script src="{{url "/js/app.js"}}"></script>
	<footer>v{{info "version"}}</footer>

url rewrites a static asset path to its versioned URL and info reads the
"info.<key>" configuration property. Both are built by Helpers and installed with
TemplateManager.RegisterHelpers. Neither one ever fails a render: an unknown asset is
emitted unchanged and an unknown property renders as the empty string.
*/
package templating
