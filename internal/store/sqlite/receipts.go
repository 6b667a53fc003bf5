package sqlite

import (
	"context"
	"time"

	"github.com/revittco/agentrun/internal/domain"
	"github.com/revittco/agentrun/internal/store"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (d *DB) SaveReceipt(ctx context.Context, turnID string, r domain.Receipt) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO receipts
			(call_id, turn_id, tool_path, decision, status, input_preview,
			 output_digest, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (call_id) DO UPDATE SET
			decision = excluded.decision,
			status = excluded.status,
			output_digest = excluded.output_digest,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		r.CallID, turnID, r.ToolPath, r.Decision, r.Status, r.InputPreview,
		r.OutputDigest, r.Error, formatTime(r.StartedAt), formatTime(r.FinishedAt),
	)
	return err
}

func (d *DB) ListReceipts(ctx context.Context, f store.ReceiptFilter) ([]domain.Receipt, error) {
	query := `SELECT call_id, tool_path, decision, status, input_preview,
		output_digest, error, started_at, finished_at FROM receipts`
	var args []any
	if f.TurnID != "" {
		query += " WHERE turn_id = ?"
		args = append(args, f.TurnID)
	}
	query += " ORDER BY started_at ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Receipt
	for rows.Next() {
		var r domain.Receipt
		var started, finished string
		if err := rows.Scan(&r.CallID, &r.ToolPath, &r.Decision, &r.Status,
			&r.InputPreview, &r.OutputDigest, &r.Error, &started, &finished); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}
