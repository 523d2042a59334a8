package sqlite

import (
	"context"
	"fmt"

	apperrors "github.com/julianstephens/habitkeep/internal/errors"
	"github.com/julianstephens/habitkeep/internal/logger"
	"github.com/julianstephens/habitkeep/internal/storage"
)

// VerifyIntegrity runs SQLite's own consistency checks followed by the
// sync-state and uniqueness checks. It never fails; every problem is
// reported in the result.
func (s *Store) VerifyIntegrity(ctx context.Context) storage.IntegrityReport {
	report := storage.IntegrityReport{OK: true}
	fail := func(format string, args ...any) {
		report.OK = false
		report.Problems = append(report.Problems, fmt.Sprintf(format, args...))
	}

	if s.db == nil {
		fail("storage not initialized")
		return report
	}

	rows, err := s.db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		fail("integrity check failed: %v", err)
		return report
	}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			fail("integrity check failed: %v", err)
			break
		}
		if line != "ok" {
			fail("integrity: %s", line)
		}
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		fail("foreign key check failed: %v", err)
	} else {
		for rows.Next() {
			var (
				table, parent string
				rowid         any
				fkid          int
			)
			if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
				fail("foreign key check failed: %v", err)
				break
			}
			fail("foreign key: %s row %v references a missing %s", table, rowid, parent)
		}
		rows.Close()
	}

	checks := []struct {
		desc  string
		query string
	}{
		{"habits with a conflict status and no conflict payload (or the reverse)", `
			SELECT COUNT(*) FROM habits
			WHERE (sync_status = 'conflict') != (conflict_data IS NOT NULL AND conflict_data != '')`},
		{"completions with a conflict status and no conflict payload (or the reverse)", `
			SELECT COUNT(*) FROM habit_completions
			WHERE (sync_status = 'conflict') != (conflict_data IS NOT NULL AND conflict_data != '')`},
		{"unsynced habits not marked dirty", `
			SELECT COUNT(*) FROM habits WHERE sync_status != 'synced' AND is_dirty = 0`},
		{"unsynced completions not marked dirty", `
			SELECT COUNT(*) FROM habit_completions WHERE sync_status != 'synced' AND is_dirty = 0`},
		{"duplicate completions for the same habit and date", `
			SELECT COUNT(*) FROM (
				SELECT 1 FROM habit_completions GROUP BY habit_id, completion_date HAVING COUNT(*) > 1
			)`},
	}
	for _, c := range checks {
		var n int
		if err := s.db.QueryRowContext(ctx, c.query).Scan(&n); err != nil {
			fail("%s: check failed: %v", c.desc, err)
			continue
		}
		if n > 0 {
			fail("%d %s", n, c.desc)
		}
	}

	return report
}

// DedupeCompletions deletes all but one completion per (habit, date). The
// kept row is the most recently updated; ties go to the smallest id. Only
// databases written before the unique index existed can need this.
func (s *Store) DedupeCompletions(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, apperrors.Store("dedupe completions", err)
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM habit_completions
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY habit_id, completion_date
					ORDER BY updated_at DESC, id ASC
				) AS rn
				FROM habit_completions
			)
			WHERE rn > 1
		)`)
	if err != nil {
		return 0, apperrors.Store("dedupe completions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Store("dedupe completions", err)
	}
	if n > 0 {
		logger.Warn("removed duplicate completions", "count", n)
	}
	return int(n), nil
}
