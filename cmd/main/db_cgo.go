//go:build cgo_sqlite

package main

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// initDB opens the workshop database with the cgo driver. Writers wait up to five
// seconds for a lock.
func initDB(dataSource string) (*sql.DB, error) {
	return sql.Open("sqlite3", dataSource+"?_busy_timeout=5000&_journal_mode=WAL")
}
