package db

import (
	"context"
	"database/sql"
	"io/fs"
	"log/slog"
	"time"

	"github.com/imgpipe/imgpipe/pkg/db/migrations"
	"github.com/imgpipe/imgpipe/pkg/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const imageColumns = `id, name, description, filename, original_path, processed_path,
	operation, status, error_message, created_at, updated_at`

// Repository provides database operations for images and tasks
type Repository struct {
	db     *sql.DB
	driver Driver
	now    func() time.Time
}

// NewRepository opens the database, applies pending migrations and returns
// a ready repository.
func NewRepository(driver Driver, dsn string) (*Repository, error) {
	slog.Info("database_init", "driver", driver)

	db, err := sql.Open(driver.sqlDriverName(), dsn)
	if err != nil {
		slog.Error("database_open_failed", "driver", driver, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		slog.Error("database_ping_failed", "driver", driver, "error", err)
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	slog.Info("database_migrate", "driver", driver)
	if err := migrate(ctx, db, driver); err != nil {
		db.Close()
		slog.Error("database_migrate_failed", "driver", driver, "error", err)
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	// A single writer avoids SQLITE_BUSY on read-then-write transactions.
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	slog.Info("database_ready", "driver", driver)
	return &Repository{
		db:     db,
		driver: driver,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func migrate(ctx context.Context, db *sql.DB, driver Driver) error {
	fsys, err := fs.Sub(migrations.Files, driver.migrationsDir())
	if err != nil {
		return errors.Wrap(err, "failed to open embedded migrations")
	}

	provider, err := goose.NewProvider(driver.gooseDialect(), db, fsys)
	if err != nil {
		return errors.Wrap(err, "failed to create migration provider")
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}
	for _, res := range results {
		slog.Info("database_migration_applied", "version", res.Source.Version, "duration", res.Duration)
	}
	return nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) q(query string) string {
	return r.driver.rebind(query)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(s rowScanner) (*Image, error) {
	var img Image
	err := s.Scan(
		&img.ID, &img.Name, &img.Description, &img.Filename, &img.OriginalPath, &img.ProcessedPath,
		&img.Operation, &img.Status, &img.ErrorMessage, &img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return nil, err
	}
	img.CreatedAt = img.CreatedAt.UTC()
	img.UpdatedAt = img.UpdatedAt.UTC()
	return &img, nil
}

// CreateImage inserts a new image record and fills in its ID and timestamps
func (r *Repository) CreateImage(ctx context.Context, img *Image) error {
	if img.Status == "" {
		img.Status = StatusPending
	}
	slog.Info("database_create_image", "filename", img.Filename, "status", img.Status)

	now := r.now()
	query := `
		INSERT INTO images (name, description, filename, original_path, processed_path,
		                    operation, status, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, r.q(query),
		img.Name, img.Description, img.Filename, img.OriginalPath, img.ProcessedPath,
		img.Operation, img.Status, img.ErrorMessage, now, now).Scan(&img.ID)
	if err != nil {
		slog.Error("database_insert_failed", "filename", img.Filename, "error", err)
		return errors.Wrap(err, "failed to insert image")
	}
	img.CreatedAt = now
	img.UpdatedAt = now

	slog.Info("database_image_created", "image_id", img.ID, "filename", img.Filename, "status", img.Status)
	return nil
}

// GetImage retrieves an image by ID
func (r *Repository) GetImage(ctx context.Context, id int64) (*Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE id = ?`
	img, err := scanImage(r.db.QueryRowContext(ctx, r.q(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		slog.Info("database_image_not_found", "image_id", id)
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("database_query_failed", "image_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query image")
	}
	return img, nil
}

// ListImages returns every image, newest first
func (r *Repository) ListImages(ctx context.Context) ([]*Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images ORDER BY created_at DESC, id DESC`
	return r.queryImages(ctx, "list_images", query)
}

// ListImagesByStatus returns images in the given status, newest first
func (r *Repository) ListImagesByStatus(ctx context.Context, status string) ([]*Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE status = ? ORDER BY created_at DESC, id DESC`
	return r.queryImages(ctx, "list_images_by_status", query, status)
}

// ListStaleImages returns images in status whose last update is older than before, oldest first.
func (r *Repository) ListStaleImages(ctx context.Context, status string, before time.Time) ([]*Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC, id ASC`
	return r.queryImages(ctx, "list_stale_images", query, status, before.UTC())
}

func (r *Repository) queryImages(ctx context.Context, op, query string, args ...any) ([]*Image, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		slog.Error("database_list_query_failed", "op", op, "error", err)
		return nil, errors.Wrap(err, "failed to list images")
	}
	defer rows.Close()

	images := []*Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "op", op, "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "op", op, "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Debug("database_list_complete", "op", op, "image_count", len(images))
	return images, nil
}

// UpdateImageStatus sets status and error message and bumps updated_at.
// Repeating the same update is harmless.
func (r *Repository) UpdateImageStatus(ctx context.Context, id int64, status, errorMessage string) error {
	slog.Info("database_update_status", "image_id", id, "status", status)

	query := `UPDATE images SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.q(query), status, errorMessage, r.now(), id)
	if err != nil {
		slog.Error("database_status_update_failed", "image_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}
	if err := requireAffected(res); err != nil {
		slog.Info("database_image_not_found_for_update", "image_id", id)
		return err
	}
	return nil
}

// PromoteUpload moves an image out of the transient uploaded status into
// pending and records where its original blob lives.
func (r *Repository) PromoteUpload(ctx context.Context, id int64, originalPath string) error {
	query := `UPDATE images SET status = ?, original_path = ?, error_message = '', updated_at = ?
		WHERE id = ? AND status = ?`
	return r.transitionUpload(ctx, "promote", id, query, StatusPending, originalPath, r.now(), id, StatusUploaded)
}

// FailUpload moves an image out of the transient uploaded status into error.
func (r *Repository) FailUpload(ctx context.Context, id int64, message string) error {
	query := `UPDATE images SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`
	return r.transitionUpload(ctx, "fail", id, query, StatusError, message, r.now(), id, StatusUploaded)
}

func (r *Repository) transitionUpload(ctx context.Context, op string, id int64, query string, args ...any) error {
	slog.Info("database_upload_transition", "op", op, "image_id", id)

	res, err := r.db.ExecContext(ctx, r.q(query), args...)
	if err != nil {
		slog.Error("database_upload_transition_failed", "op", op, "image_id", id, "error", err)
		return errors.Wrap(err, "failed to transition upload")
	}
	if err := requireAffected(res); err == nil {
		return nil
	}

	// Nothing matched: distinguish a missing row from one that already moved on.
	if _, err := r.GetImage(ctx, id); err != nil {
		return err
	}
	slog.Info("database_upload_transition_conflict", "op", op, "image_id", id)
	return ErrStatusConflict
}

// DeleteImage deletes an image by ID. Its tasks are removed by the foreign key cascade.
func (r *Repository) DeleteImage(ctx context.Context, id int64) error {
	slog.Info("database_delete_image", "image_id", id)

	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM images WHERE id = ?`), id)
	if err != nil {
		slog.Error("database_delete_failed", "image_id", id, "error", err)
		return errors.Wrap(err, "failed to delete image")
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	slog.Info("database_image_deleted", "image_id", id)
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
