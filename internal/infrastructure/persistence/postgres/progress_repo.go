package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY
// user_progress holds the counters; point_awards, study_history and
// user_achievements hold the collections. Update locks the row with
// SELECT ... FOR UPDATE so concurrent sessions serialise instead of
// overwriting each other's counters.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn   *Connection
	policy retry.Policy
	now    func() time.Time
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{
		conn: conn,
		policy: retry.NewPolicy(
			retry.WithMaxAttempts(3),
			retry.WithInitialDelay(20*time.Millisecond),
			retry.WithMaxDelay(200*time.Millisecond),
			retry.WithShouldRetry(func(err error) bool {
				return errors.Is(err, shared.ErrConcurrentModification)
			}),
		),
		now: time.Now,
	}
}

var (
	_ progress.Repository     = (*ProgressRepository)(nil)
	_ progress.UserLister     = (*ProgressRepository)(nil)
	_ progress.WeeklyResetter = (*ProgressRepository)(nil)
)

const selectProgress = `
	SELECT user_id, study_seconds, sessions, points,
	       current_streak, longest_streak, last_study_date,
	       completed_tasks, total_tasks, in_progress_tasks,
	       subject_seconds, subjects,
	       weekly_goal_hours, weekly_progress_hours, week_start,
	       version, created_at, updated_at
	FROM user_progress
	WHERE user_id = $1`

// Get returns the full record or progress.ErrProgressNotFound.
func (r *ProgressRepository) Get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	p, err := r.load(ctx, r.conn.Pool(), userID, false)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, progress.ErrProgressNotFound
	}
	return p, nil
}

// Update runs fn under a row lock. A concurrent first insert for the same
// user surfaces as ErrConcurrentModification and is retried.
func (r *ProgressRepository) Update(ctx context.Context, userID string, fn progress.UpdateFunc) (*progress.UserProgress, error) {
	var result *progress.UserProgress
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			current, err := r.load(ctx, tx, userID, true)
			if err != nil {
				return err
			}

			next, err := progress.ApplyUpdate(current, userID, r.now(), fn)
			if err != nil {
				return err
			}
			if err := r.save(ctx, tx, current, next); err != nil {
				return err
			}
			result = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Load
// ─────────────────────────────────────────────────────────────────────────────

func (r *ProgressRepository) load(ctx context.Context, q Querier, userID string, lock bool) (*progress.UserProgress, error) {
	query := selectProgress
	if lock {
		query += " FOR UPDATE"
	}

	p, err := scanProgress(q.QueryRow(ctx, query, userID))
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, translate("load progress", err)
	}

	if err := r.loadAwards(ctx, q, p); err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, q, p); err != nil {
		return nil, err
	}
	if err := r.loadAchievements(ctx, q, p); err != nil {
		return nil, err
	}
	p.Normalize()
	return p, nil
}

func scanProgress(row pgx.Row) (*progress.UserProgress, error) {
	var (
		p              progress.UserProgress
		lastStudy      *time.Time
		subjectSeconds []byte
		subjects       []byte
	)
	err := row.Scan(
		&p.UserID, &p.StudySeconds, &p.Sessions, &p.Points,
		&p.Streak.Current, &p.Streak.Longest, &lastStudy,
		&p.CompletedTasks, &p.TotalTasks, &p.InProgressTasks,
		&subjectSeconds, &subjects,
		&p.WeeklyGoalHours, &p.WeeklyProgressHours, &p.WeekStart,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Streak.LastStudyDate = lastStudy
	if err := json.Unmarshal(subjectSeconds, &p.SubjectSeconds); err != nil {
		return nil, fmt.Errorf("decode subject_seconds: %w", err)
	}
	if err := json.Unmarshal(subjects, &p.Subjects); err != nil {
		return nil, fmt.Errorf("decode subjects: %w", err)
	}
	return &p, nil
}

func (r *ProgressRepository) loadAwards(ctx context.Context, q Querier, p *progress.UserProgress) error {
	rows, err := q.Query(ctx,
		`SELECT award_key, reason, points, awarded_at FROM point_awards WHERE user_id = $1`, p.UserID)
	if err != nil {
		return translate("load awards", err)
	}
	defer rows.Close()

	p.Awards = make(map[string]progress.PointAward)
	for rows.Next() {
		var a progress.PointAward
		var reason string
		if err := rows.Scan(&a.Key, &reason, &a.Points, &a.AwardedAt); err != nil {
			return fmt.Errorf("scan award: %w", err)
		}
		a.Reason = progress.AwardReason(reason)
		p.Awards[a.Key] = a
	}
	return rows.Err()
}

func (r *ProgressRepository) loadHistory(ctx context.Context, q Querier, p *progress.UserProgress) error {
	rows, err := q.Query(ctx,
		`SELECT day, seconds, subjects FROM study_history WHERE user_id = $1 ORDER BY day`, p.UserID)
	if err != nil {
		return translate("load history", err)
	}
	defer rows.Close()

	p.History = nil
	for rows.Next() {
		var h progress.HistoryEntry
		var subjects []byte
		if err := rows.Scan(&h.Date, &h.Seconds, &subjects); err != nil {
			return fmt.Errorf("scan history: %w", err)
		}
		if err := json.Unmarshal(subjects, &h.Subjects); err != nil {
			return fmt.Errorf("decode history subjects: %w", err)
		}
		p.History = append(p.History, h)
	}
	return rows.Err()
}

func (r *ProgressRepository) loadAchievements(ctx context.Context, q Querier, p *progress.UserProgress) error {
	rows, err := q.Query(ctx,
		`SELECT achievement_id, earned_at FROM user_achievements WHERE user_id = $1`, p.UserID)
	if err != nil {
		return translate("load achievements", err)
	}
	defer rows.Close()

	p.Achievements = make(map[progress.AchievementID]time.Time)
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return fmt.Errorf("scan achievement: %w", err)
		}
		p.Achievements[progress.AchievementID(id)] = at
	}
	return rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Save
// ─────────────────────────────────────────────────────────────────────────────

func (r *ProgressRepository) save(ctx context.Context, tx pgx.Tx, before, after *progress.UserProgress) error {
	subjectSeconds, err := json.Marshal(after.SubjectSeconds)
	if err != nil {
		return fmt.Errorf("encode subject_seconds: %w", err)
	}
	subjects, err := json.Marshal(after.Subjects)
	if err != nil {
		return fmt.Errorf("encode subjects: %w", err)
	}

	args := []interface{}{
		after.UserID, after.StudySeconds, after.Sessions, after.Points,
		after.Streak.Current, after.Streak.Longest, after.Streak.LastStudyDate,
		after.CompletedTasks, after.TotalTasks, after.InProgressTasks,
		subjectSeconds, subjects,
		after.WeeklyGoalHours, after.WeeklyProgressHours, after.WeekStart,
		after.Version, after.CreatedAt, after.UpdatedAt,
	}

	if before == nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO user_progress (
				user_id, study_seconds, sessions, points,
				current_streak, longest_streak, last_study_date,
				completed_tasks, total_tasks, in_progress_tasks,
				subject_seconds, subjects,
				weekly_goal_hours, weekly_progress_hours, week_start,
				version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			args...)
		if IsUniqueViolation(err) {
			return shared.WrapError("progress", "Update", shared.ErrConcurrentModification, "", err)
		}
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE user_progress SET
				study_seconds = $2, sessions = $3, points = $4,
				current_streak = $5, longest_streak = $6, last_study_date = $7,
				completed_tasks = $8, total_tasks = $9, in_progress_tasks = $10,
				subject_seconds = $11, subjects = $12,
				weekly_goal_hours = $13, weekly_progress_hours = $14, week_start = $15,
				version = $16, created_at = $17, updated_at = $18
			WHERE user_id = $1`,
			args...)
	}
	if err != nil {
		return translate("save progress", err)
	}

	if err := saveAwards(ctx, tx, after.UserID, NewAwards(before, after)); err != nil {
		return err
	}
	if err := saveHistory(ctx, tx, after.UserID, ChangedHistory(before, after)); err != nil {
		return err
	}
	return saveAchievements(ctx, tx, after.UserID, NewAchievements(before, after))
}

func saveAwards(ctx context.Context, tx pgx.Tx, userID string, awards []progress.PointAward) error {
	for _, a := range awards {
		_, err := tx.Exec(ctx, `
			INSERT INTO point_awards (user_id, award_key, reason, points, awarded_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, award_key) DO NOTHING`,
			userID, a.Key, string(a.Reason), a.Points, a.AwardedAt)
		if err != nil {
			return translate("save award", err)
		}
	}
	return nil
}

func saveHistory(ctx context.Context, tx pgx.Tx, userID string, entries []progress.HistoryEntry) error {
	for _, h := range entries {
		subjects, err := json.Marshal(h.Subjects)
		if err != nil {
			return fmt.Errorf("encode history subjects: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO study_history (user_id, day, seconds, subjects)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, day) DO UPDATE SET seconds = EXCLUDED.seconds, subjects = EXCLUDED.subjects`,
			userID, h.Date, h.Seconds, subjects)
		if err != nil {
			return translate("save history", err)
		}
	}
	return nil
}

func saveAchievements(ctx context.Context, tx pgx.Tx, userID string, unlocked map[progress.AchievementID]time.Time) error {
	for id, at := range unlocked {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_achievements (user_id, achievement_id, earned_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, achievement_id) DO NOTHING`,
			userID, string(id), at)
		if err != nil {
			return translate("save achievement", err)
		}
	}
	return nil
}

// NewAwards returns ledger entries present in after but not in before.
func NewAwards(before, after *progress.UserProgress) []progress.PointAward {
	var out []progress.PointAward
	for key, a := range after.Awards {
		if before != nil {
			if _, ok := before.Awards[key]; ok {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// ChangedHistory returns history days that are new or differ from before.
func ChangedHistory(before, after *progress.UserProgress) []progress.HistoryEntry {
	old := make(map[int64]progress.HistoryEntry)
	if before != nil {
		for _, h := range before.History {
			old[h.Date.Unix()] = h
		}
	}

	var out []progress.HistoryEntry
	for _, h := range after.History {
		prev, ok := old[h.Date.Unix()]
		if ok && prev.Seconds == h.Seconds && len(prev.Subjects) == len(h.Subjects) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// NewAchievements returns achievements earned in after but not in before.
func NewAchievements(before, after *progress.UserProgress) map[progress.AchievementID]time.Time {
	out := make(map[progress.AchievementID]time.Time)
	for id, at := range after.Achievements {
		if before != nil {
			if _, ok := before.Achievements[id]; ok {
				continue
			}
		}
		out[id] = at
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Background jobs
// ─────────────────────────────────────────────────────────────────────────────

// ListActiveSince returns users whose progress changed after since.
func (r *ProgressRepository) ListActiveSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT user_id FROM user_progress WHERE updated_at > $1 ORDER BY user_id`, since)
	if err != nil {
		return nil, translate("list active", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResetWeekly zeroes weekly progress for every record that belongs to an
// earlier week and returns the number of records reset.
func (r *ProgressRepository) ResetWeekly(ctx context.Context, weekStart time.Time) (int, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE user_progress
		SET weekly_progress_hours = 0, week_start = $1, version = version + 1, updated_at = NOW()
		WHERE week_start < $1`,
		weekStart)
	if err != nil {
		return 0, translate("reset weekly", err)
	}
	return int(tag.RowsAffected()), nil
}
