package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
)

// SetConfigValue upserts a key/value pair in the config table. This table
// holds runtime-tunable values — retrieval fusion weights, dashboard
// defaults pushed from the API — distinct from the on-disk .tx/config.toml
// file that internal/config manages (spec.md §4.C retrieval weights).
func (db *DB) SetConfigValue(ctx context.Context, key, value string) error {
	now := time.Now().UTC()
	const q = `INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	_, err := db.q(ctx).ExecContext(ctx, q, key, value, now)
	if err != nil {
		return apitypes.Wrap(apitypes.TagDatabase, "set config value", err)
	}
	return nil
}

// GetConfigValue returns the stored value for key, or ("", false) if unset.
func (db *DB) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.q(ctx).QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apitypes.Wrap(apitypes.TagDatabase, "get config value", err)
	}
	return value, true, nil
}

// AllConfigValues returns every stored key/value pair.
func (db *DB) AllConfigValues(ctx context.Context) (map[string]string, error) {
	rows, err := db.q(ctx).QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagDatabase, "query all config values", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apitypes.Wrap(apitypes.TagDatabase, "scan config row", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
