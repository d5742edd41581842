/*
Package resources publishes a directory of static assets under content-versioned URLs.

A Provider scans the static directory, fingerprints every file and keeps a two-way
mapping between logical paths ("/js/app.js") and published paths
("/js/app-3f2a9c01d4e5b678.js"). Templates ask the Provider to rewrite asset paths so
browsers can cache the versioned files forever, and the Provider's HTTP handler serves
both forms of every path. Refresh rescans the directory, so edits to assets are picked
up without restarting the application.
*/
package resources
