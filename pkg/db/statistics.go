package db

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/imgpipe/imgpipe/pkg/errors"
)

// Statistics returns the total image count, counts grouped by every status
// present, and the processing operation requested by the most tasks. The operation lookup
// is best effort: when it fails the field is left empty.
func (r *Repository) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{ByStatus: map[string]int{}}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&stats.Total); err != nil {
		slog.Error("database_stats_total_failed", "error", err)
		return nil, errors.Wrap(err, "failed to count images")
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM images GROUP BY status`)
	if err != nil {
		slog.Error("database_stats_status_failed", "error", err)
		return nil, errors.Wrap(err, "failed to count images by status")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	op, err := r.mostPopularOperation(ctx)
	if err != nil {
		slog.Warn("database_stats_operation_failed", "error", err)
	}
	stats.MostPopularOperation = op

	return stats, nil
}

// mostPopularOperation counts requests, one per task row, so repeated
// requests against one image all count. Ties are broken by name.
func (r *Repository) mostPopularOperation(ctx context.Context) (string, error) {
	query := `SELECT processing_type, COUNT(*) AS n FROM tasks WHERE processing_type != ''
		GROUP BY processing_type ORDER BY n DESC, processing_type ASC LIMIT 1`

	var (
		op string
		n  int
	)
	err := r.db.QueryRowContext(ctx, query).Scan(&op, &n)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return op, nil
}
