//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver so
	// vec0 virtual tables are available for the anchor/learning embedding
	// column (spec.md §4.C).
	vec.Auto()
}
