package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const backupTimeLayout = "20060102-150405"

// backupPattern matches snapshot filenames: artistdata-YYYYMMDD-HHMMSS.db
var backupPattern = regexp.MustCompile(`^artistdata-\d{8}-\d{6}\.db$`)

// ErrBackupsDisabled is returned by Backup when no backup directory is set.
var ErrBackupsDisabled = errors.New("backups disabled: no backup directory configured")

// BackupInfo describes a snapshot file.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Backup writes a consistent snapshot of the database using VACUUM INTO.
// Snapshots carry the full audit trail, so a restore needs no other file.
func (s *Service) Backup(ctx context.Context) (*BackupInfo, error) {
	if s.opts.BackupDir == "" {
		return nil, ErrBackupsDisabled
	}
	if err := os.MkdirAll(s.opts.BackupDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	now := time.Now().UTC()
	filename := "artistdata-" + now.Format(backupTimeLayout) + ".db"
	dest := filepath.Join(s.opts.BackupDir, filename)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}

	s.logger.Info("backup complete",
		slog.String("filename", filename),
		slog.Int64("size", info.Size()))

	return &BackupInfo{Filename: filename, Size: info.Size(), CreatedAt: now}, nil
}

// ListBackups returns all snapshot files, newest first.
func (s *Service) ListBackups() ([]BackupInfo, error) {
	if s.opts.BackupDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.opts.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !backupPattern.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(entry.Name(), "artistdata-"), ".db")
		ts, err := time.Parse(backupTimeLayout, stamp)
		if err != nil {
			ts = info.ModTime()
		}
		backups = append(backups, BackupInfo{Filename: entry.Name(), Size: info.Size(), CreatedAt: ts})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Prune deletes snapshots beyond the retention count and, when a max age is
// set, those older than it. A retention of zero keeps every snapshot.
func (s *Service) Prune() error {
	backups, err := s.ListBackups()
	if err != nil {
		return err
	}

	var cutoff time.Time
	if s.opts.BackupMaxAgeDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -s.opts.BackupMaxAgeDays)
	}

	for i, b := range backups {
		overCount := s.opts.BackupRetention > 0 && i >= s.opts.BackupRetention
		tooOld := !cutoff.IsZero() && b.CreatedAt.Before(cutoff)
		if !overCount && !tooOld {
			continue
		}
		if err := os.Remove(filepath.Join(s.opts.BackupDir, b.Filename)); err != nil {
			s.logger.Warn("failed to remove old backup",
				slog.String("filename", b.Filename),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("pruned old backup", slog.String("filename", b.Filename))
	}
	return nil
}
