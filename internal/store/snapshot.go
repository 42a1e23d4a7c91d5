package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
)

const (
	upsertSnapshotSQL = `
		INSERT INTO device_snapshots (address, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			state=excluded.state,
			updated_at=excluded.updated_at
	`

	selectSnapshotSQL = `
		SELECT state, updated_at
		FROM device_snapshots WHERE address=?
	`
)

// SnapshotSQLite stores one state snapshot per device address.
type SnapshotSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSnapshotSQLite(db *sql.DB) *SnapshotSQLite {
	return &SnapshotSQLite{db: db, now: time.Now}
}

// Save replaces the snapshot for address. The timestamp is stored in UTC.
func (r *SnapshotSQLite) Save(ctx context.Context, address string, st protocol.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}
	_, err = r.db.ExecContext(ctx, upsertSnapshotSQL, normalizeAddress(address), string(b), r.now().UTC())
	if err != nil {
		return fmt.Errorf("store: save %s: %w", address, err)
	}
	return nil
}

// Load returns the stored snapshot and when it was saved. A device with no
// snapshot yields an empty state, a zero time and no error.
func (r *SnapshotSQLite) Load(ctx context.Context, address string) (protocol.State, time.Time, error) {
	row := r.db.QueryRowContext(ctx, selectSnapshotSQL, normalizeAddress(address))

	var raw string
	var updated time.Time
	if err := row.Scan(&raw, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.State{}, time.Time{}, nil
		}
		return protocol.State{}, time.Time{}, fmt.Errorf("store: load %s: %w", address, err)
	}

	var st protocol.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return protocol.State{}, time.Time{}, fmt.Errorf("store: decode %s: %w", address, err)
	}
	return st, updated.UTC(), nil
}

func normalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}
