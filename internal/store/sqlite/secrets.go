package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/revittco/agentrun/internal/store"
)

func (d *DB) PutSecret(ctx context.Context, key string, ciphertext []byte) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO secrets (key, ciphertext, created_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET ciphertext = excluded.ciphertext`,
		key, ciphertext, formatTime(time.Now()),
	)
	return err
}

func (d *DB) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var ciphertext []byte
	err := d.db.QueryRowContext(ctx, `SELECT ciphertext FROM secrets WHERE key = ?`, key).Scan(&ciphertext)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return ciphertext, err
}
