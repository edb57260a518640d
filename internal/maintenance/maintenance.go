// Package maintenance keeps the SQLite audit store healthy: planner
// statistics, WAL checkpoints, compaction and point-in-time snapshots.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Status describes the store on disk and how much history it holds.
type Status struct {
	DBFileSize      int64            `json:"db_file_size"`
	WALFileSize     int64            `json:"wal_file_size"`
	PageCount       int64            `json:"page_count"`
	PageSize        int64            `json:"page_size"`
	Rows            map[string]int64 `json:"rows"`
	LastOptimizeAt  *time.Time       `json:"last_optimize_at,omitempty"`
	BackupDir       string           `json:"backup_dir,omitempty"`
	BackupRetention int              `json:"backup_retention"`
}

// countedTables are reported in Status.Rows.
var countedTables = []string{
	"identities",
	"identity_platform_ids",
	"workflow_runs",
	"raw_observations",
	"provenance_records",
	"canonical_daily_records",
	"retracted_observations",
	"api_requests",
	"identity_profiles",
}

// Options configures post-run housekeeping. An empty BackupDir disables
// snapshots.
type Options struct {
	OptimizeAfterRun bool
	BackupDir        string
	BackupRetention  int
	BackupMaxAgeDays int
}

// Service provides database maintenance operations.
type Service struct {
	db     *sql.DB
	dbPath string
	opts   Options
	logger *slog.Logger

	mu           sync.Mutex
	lastOptimize time.Time
}

// NewService creates a maintenance service for the database at dbPath.
func NewService(db *sql.DB, dbPath string, opts Options, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dbPath: dbPath,
		opts:   opts,
		logger: logger.With(slog.String("component", "maintenance")),
	}
}

// Status returns current database maintenance status.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Rows:            make(map[string]int64, len(countedTables)),
		BackupDir:       s.opts.BackupDir,
		BackupRetention: s.opts.BackupRetention,
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		return nil, fmt.Errorf("reading page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		return nil, fmt.Errorf("reading page_size: %w", err)
	}

	for _, table := range countedTables {
		var n int64
		//nolint:gosec // table names come from a fixed list
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		st.Rows[table] = n
	}

	s.mu.Lock()
	if !s.lastOptimize.IsZero() {
		t := s.lastOptimize
		st.LastOptimizeAt = &t
	}
	s.mu.Unlock()

	return st, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}

	s.mu.Lock()
	s.lastOptimize = time.Now().UTC()
	s.mu.Unlock()

	s.logger.Debug("optimize complete")
	return nil
}

// Vacuum runs VACUUM to rebuild the database file.
func (s *Service) Vacuum(ctx context.Context) error {
	s.logger.Info("running VACUUM")
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM: %w", err)
	}
	s.logger.Info("vacuum complete")
	return nil
}

// AfterRun is the routine housekeeping done after a workflow run: optimize
// when enabled, then snapshot and prune when backups are enabled. Failures
// are logged and never affect the run.
func (s *Service) AfterRun(ctx context.Context) {
	if s.opts.OptimizeAfterRun {
		if err := s.Optimize(ctx); err != nil {
			s.logger.Warn("post-run optimize failed", slog.String("error", err.Error()))
		}
	}
	if s.opts.BackupDir == "" {
		return
	}
	if _, err := s.Backup(ctx); err != nil {
		s.logger.Error("post-run backup failed", slog.String("error", err.Error()))
		return
	}
	if err := s.Prune(); err != nil {
		s.logger.Error("backup prune failed", slog.String("error", err.Error()))
	}
}
