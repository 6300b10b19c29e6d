package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	"github.com/wadjakorntonsri/qzone-visitors/pkg/core/domain"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/ports"
	_ "modernc.org/sqlite" // Local SQLite driver
)

// JournalRepository is the append-only visit log. Rows are never updated or
// deleted; a repeated identity key is ignored on insert.
type JournalRepository struct {
	db *sql.DB
}

func NewJournalRepository(dbURL string) (*JournalRepository, error) {
	driverName := "sqlite"
	if strings.Contains(dbURL, "libsql://") || strings.Contains(dbURL, "wss://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite" {
		// A single writer keeps local files clear of SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &JournalRepository{db: db}, nil
}

func migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS visit_journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		visit_time INTEGER NOT NULL,
		visitor_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		src INTEGER NOT NULL DEFAULT 0,
		platform_src INTEGER NOT NULL DEFAULT 0,
		service_src INTEGER NOT NULL DEFAULT 0,
		hide_from INTEGER NOT NULL DEFAULT 0,
		is_hide_visit INTEGER NOT NULL DEFAULT 0,
		yellow INTEGER NOT NULL DEFAULT 0,
		supervip INTEGER NOT NULL DEFAULT 0,
		post_id TEXT NOT NULL DEFAULT '',
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(visitor_id, visit_time)
	);
	CREATE INDEX IF NOT EXISTS idx_visit_journal_time ON visit_journal(visit_time);
	`
	_, err := db.Exec(query)
	return err
}

func (r *JournalRepository) Close() error {
	return r.db.Close()
}

// Append writes records in the given order inside one transaction.
func (r *JournalRepository) Append(ctx context.Context, records []domain.VisitorRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO visit_journal
		(visit_time, visitor_id, name, src, platform_src, service_src, hide_from, is_hide_visit, yellow, supervip, post_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.Timestamp, rec.VisitorID, rec.DisplayName,
			rec.Source, rec.PlatformSource, rec.ServiceSource,
			rec.HideFrom, rec.IsHiddenVisit, rec.IsYellowVIP, rec.IsSuperVIP,
			rec.PostID,
		)
		if err != nil {
			return fmt.Errorf("journal insert uin=%d time=%d: %w", rec.VisitorID, rec.Timestamp, err)
		}
	}

	return tx.Commit()
}

// ReadAll returns every journaled record in insertion order.
func (r *JournalRepository) ReadAll(ctx context.Context) ([]domain.VisitorRecord, error) {
	query := `SELECT visit_time, visitor_id, name, src, platform_src, service_src,
			  hide_from, is_hide_visit, yellow, supervip, post_id
			  FROM visit_journal ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.VisitorRecord
	for rows.Next() {
		var rec domain.VisitorRecord
		if err := rows.Scan(
			&rec.Timestamp, &rec.VisitorID, &rec.DisplayName,
			&rec.Source, &rec.PlatformSource, &rec.ServiceSource,
			&rec.HideFrom, &rec.IsHiddenVisit, &rec.IsYellowVIP, &rec.IsSuperVIP,
			&rec.PostID,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *JournalRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visit_journal`).Scan(&count)
	return count, err
}

// Ensure interface compliance
var _ ports.VisitJournal = (*JournalRepository)(nil)
