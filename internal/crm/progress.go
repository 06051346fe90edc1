package crm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// totalModules is the number of modules in the curriculum, used for the
// completion percentage.
const totalModules = 30

// ModuleProgress is the learning record for one curriculum module.
// Timestamps are unix milliseconds. A quiz score is meaningful only when
// QuizAttempts is non-zero.
type ModuleProgress struct {
	ModuleID     string `json:"moduleId"`
	ModuleName   string `json:"moduleName"`
	Completed    bool   `json:"completed"`
	CompletedAt  int64  `json:"completedAt,omitempty"`
	TimeSpent    int64  `json:"timeSpent"` // seconds
	QuizScore    int    `json:"quizScore,omitempty"`
	QuizAttempts int    `json:"quizAttempts"`
	LastAccessed int64  `json:"lastAccessed"`
}

// Achievement is an unlockable milestone. UnlockedAt is zero while locked.
type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	UnlockedAt  int64  `json:"unlockedAt,omitempty"`
}

// LearningStats is the aggregate view over all module progress. It is
// recomputed from the base rows on every read.
type LearningStats struct {
	TotalModulesCompleted int           `json:"totalModulesCompleted"`
	TotalTimeSpent        int64         `json:"totalTimeSpent"` // seconds
	AverageQuizScore      int           `json:"averageQuizScore"`
	CurrentStreak         int           `json:"currentStreak"`
	LongestStreak         int           `json:"longestStreak"`
	LastActiveDate        string        `json:"lastActiveDate"`
	StartDate             string        `json:"startDate"`
	CompletionPercentage  int           `json:"completionPercentage"`
	Achievements          []Achievement `json:"achievements"`
}

var achievementCatalog = []Achievement{
	{ID: "first_module", Name: "First Steps", Description: "Complete your first module", Icon: "🎯"},
	{ID: "quiz_master", Name: "Quiz Master", Description: "Score 100% on any quiz", Icon: "🏆"},
	{ID: "week_streak", Name: "7-Day Streak", Description: "Learn for 7 days in a row", Icon: "🔥"},
	{ID: "halfway", Name: "Halfway There", Description: "Complete 15 modules", Icon: "⭐"},
	{ID: "graduate", Name: "Graduate", Description: "Complete all 30 modules", Icon: "🎓"},
	{ID: "speed_learner", Name: "Speed Learner", Description: "Complete 5 modules in one day", Icon: "⚡"},
	{ID: "perfect_student", Name: "Perfect Student", Description: "Score 90%+ on 10 quizzes", Icon: "💯"},
}

// Progress returns the record for one module.
func (s *Store) Progress(ctx context.Context, moduleID string) (ModuleProgress, error) {
	var p ModuleProgress
	var completed int
	err := s.db.QueryRowContext(ctx,
		`SELECT module_id, module_name, completed, completed_at, time_spent,
			quiz_score, quiz_attempts, last_accessed
		 FROM module_progress WHERE module_id = ?`, moduleID,
	).Scan(&p.ModuleID, &p.ModuleName, &completed, &p.CompletedAt, &p.TimeSpent,
		&p.QuizScore, &p.QuizAttempts, &p.LastAccessed)
	if errors.Is(err, sql.ErrNoRows) {
		return ModuleProgress{}, ErrNotFound
	}
	if err != nil {
		return ModuleProgress{}, fmt.Errorf("crm: load progress %q: %w", moduleID, err)
	}
	p.Completed = completed != 0
	return p, nil
}

// AllProgress returns every module record, most recently accessed first.
func (s *Store) AllProgress(ctx context.Context) ([]ModuleProgress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module_id, module_name, completed, completed_at, time_spent,
			quiz_score, quiz_attempts, last_accessed
		 FROM module_progress ORDER BY last_accessed DESC`)
	if err != nil {
		return nil, fmt.Errorf("crm: list progress: %w", err)
	}
	defer rows.Close()

	var out []ModuleProgress
	for rows.Next() {
		var p ModuleProgress
		var completed int
		err := rows.Scan(&p.ModuleID, &p.ModuleName, &completed, &p.CompletedAt, &p.TimeSpent,
			&p.QuizScore, &p.QuizAttempts, &p.LastAccessed)
		if err != nil {
			return nil, fmt.Errorf("crm: list progress: scan: %w", err)
		}
		p.Completed = completed != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crm: list progress: %w", err)
	}
	return out, nil
}

// CompleteModule marks a module as finished. Completing an already finished
// module keeps the original completion time.
func (s *Store) CompleteModule(ctx context.Context, moduleID, moduleName string) (ModuleProgress, error) {
	return s.updateProgress(ctx, moduleID, moduleName, func(p *ModuleProgress) {
		if !p.Completed {
			p.Completed = true
			p.CompletedAt = s.now().UnixMilli()
		}
	})
}

// RecordQuizScore stores the latest quiz result as a percentage and counts
// the attempt.
func (s *Store) RecordQuizScore(ctx context.Context, moduleID, moduleName string, score, total int) (ModuleProgress, error) {
	if total <= 0 {
		return ModuleProgress{}, fmt.Errorf("crm: record quiz for %q: total must be positive", moduleID)
	}
	pct := int(math.Round(100 * float64(score) / float64(total)))
	return s.updateProgress(ctx, moduleID, moduleName, func(p *ModuleProgress) {
		p.QuizScore = pct
		p.QuizAttempts++
	})
}

// AddTimeSpent accumulates study time on a module.
func (s *Store) AddTimeSpent(ctx context.Context, moduleID, moduleName string, seconds int64) (ModuleProgress, error) {
	return s.updateProgress(ctx, moduleID, moduleName, func(p *ModuleProgress) {
		p.TimeSpent += seconds
	})
}

// updateProgress upserts one module record through mutate, stamps
// LastAccessed and today's activity, then re-evaluates achievements.
func (s *Store) updateProgress(ctx context.Context, moduleID, moduleName string, mutate func(*ModuleProgress)) (ModuleProgress, error) {
	p, err := s.Progress(ctx, moduleID)
	if errors.Is(err, ErrNotFound) {
		p = ModuleProgress{ModuleID: moduleID, ModuleName: moduleName}
	} else if err != nil {
		return ModuleProgress{}, err
	}
	mutate(&p)
	p.LastAccessed = s.now().UnixMilli()

	completed := 0
	if p.Completed {
		completed = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO module_progress
			(module_id, module_name, completed, completed_at, time_spent, quiz_score, quiz_attempts, last_accessed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(module_id) DO UPDATE SET
			module_name = excluded.module_name,
			completed = excluded.completed,
			completed_at = excluded.completed_at,
			time_spent = excluded.time_spent,
			quiz_score = excluded.quiz_score,
			quiz_attempts = excluded.quiz_attempts,
			last_accessed = excluded.last_accessed`,
		p.ModuleID, p.ModuleName, completed, p.CompletedAt, p.TimeSpent,
		p.QuizScore, p.QuizAttempts, p.LastAccessed)
	if err != nil {
		return ModuleProgress{}, fmt.Errorf("crm: store progress %q: %w", moduleID, err)
	}

	if err := s.touchActivity(ctx); err != nil {
		return ModuleProgress{}, err
	}
	if err := s.checkAchievements(ctx); err != nil {
		return ModuleProgress{}, err
	}
	return p, nil
}

// LearningStats recomputes the learning aggregates from the stored records.
func (s *Store) LearningStats(ctx context.Context) (LearningStats, error) {
	all, err := s.AllProgress(ctx)
	if err != nil {
		return LearningStats{}, err
	}

	var st LearningStats
	var quizSum, quizCount int
	for _, p := range all {
		if p.Completed {
			st.TotalModulesCompleted++
		}
		st.TotalTimeSpent += p.TimeSpent
		if p.QuizAttempts > 0 {
			quizSum += p.QuizScore
			quizCount++
		}
	}
	if quizCount > 0 {
		st.AverageQuizScore = int(math.Round(float64(quizSum) / float64(quizCount)))
	}
	st.CompletionPercentage = int(math.Round(100 * float64(st.TotalModulesCompleted) / totalModules))

	days, err := s.activityDays(ctx)
	if err != nil {
		return LearningStats{}, err
	}
	today := s.now().Format(time.DateOnly)
	st.CurrentStreak, st.LongestStreak = streaks(days, s.now())
	st.LastActiveDate = today
	st.StartDate = today
	if len(days) > 0 {
		st.LastActiveDate = days[len(days)-1]
		st.StartDate = days[0]
	}

	st.Achievements, err = s.unlockedAchievements(ctx)
	if err != nil {
		return LearningStats{}, err
	}
	return st, nil
}

// activityDays returns distinct active days in ascending order.
func (s *Store) activityDays(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT day FROM activity_days ORDER BY day`)
	if err != nil {
		return nil, fmt.Errorf("crm: list activity: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("crm: list activity: scan: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crm: list activity: %w", err)
	}
	return days, nil
}

// streaks computes the run of consecutive days ending at the most recent
// active day (current) and the longest run overall. Days must be sorted
// ascending in time.DateOnly format. A streak only counts as current while
// the most recent active day is today or yesterday; after that it has
// lapsed and restarts at zero.
func streaks(days []string, today time.Time) (current, longest int) {
	if len(days) == 0 {
		return 0, 0
	}
	run := 1
	longest = 1
	prev, _ := time.Parse(time.DateOnly, days[0])
	for _, d := range days[1:] {
		t, err := time.Parse(time.DateOnly, d)
		if err != nil {
			continue
		}
		if t.Sub(prev) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = t
	}

	last := days[len(days)-1]
	if last != today.Format(time.DateOnly) && last != today.AddDate(0, 0, -1).Format(time.DateOnly) {
		return 0, longest
	}
	return run, longest
}

// checkAchievements evaluates the catalog against current progress and
// persists any newly unlocked milestone with its unlock time. Already
// unlocked achievements are never re-stamped.
func (s *Store) checkAchievements(ctx context.Context) error {
	all, err := s.AllProgress(ctx)
	if err != nil {
		return err
	}
	days, err := s.activityDays(ctx)
	if err != nil {
		return err
	}
	currentStreak, _ := streaks(days, s.now())

	var completedCount, highScores int
	perfectQuiz := false
	completionsToday := 0
	today := s.now().Format(time.DateOnly)
	for _, p := range all {
		if p.Completed {
			completedCount++
			if time.UnixMilli(p.CompletedAt).Format(time.DateOnly) == today {
				completionsToday++
			}
		}
		if p.QuizAttempts > 0 {
			if p.QuizScore == 100 {
				perfectQuiz = true
			}
			if p.QuizScore >= 90 {
				highScores++
			}
		}
	}

	for _, a := range achievementCatalog {
		unlocked := false
		switch a.ID {
		case "first_module":
			unlocked = completedCount >= 1
		case "quiz_master":
			unlocked = perfectQuiz
		case "week_streak":
			unlocked = currentStreak >= 7
		case "halfway":
			unlocked = completedCount >= 15
		case "graduate":
			unlocked = completedCount >= totalModules
		case "speed_learner":
			unlocked = completionsToday >= 5
		case "perfect_student":
			unlocked = highScores >= 10
		}
		if !unlocked {
			continue
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO achievements (id, unlocked_at) VALUES (?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			a.ID, s.now().UnixMilli())
		if err != nil {
			return fmt.Errorf("crm: unlock achievement %q: %w", a.ID, err)
		}
	}
	return nil
}

// unlockedAchievements joins the catalog with persisted unlock times.
func (s *Store) unlockedAchievements(ctx context.Context) ([]Achievement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, unlocked_at FROM achievements`)
	if err != nil {
		return nil, fmt.Errorf("crm: list achievements: %w", err)
	}
	defer rows.Close()

	unlockedAt := make(map[string]int64)
	for rows.Next() {
		var id string
		var at int64
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("crm: list achievements: scan: %w", err)
		}
		unlockedAt[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crm: list achievements: %w", err)
	}

	var out []Achievement
	for _, a := range achievementCatalog {
		at, ok := unlockedAt[a.ID]
		if !ok {
			continue
		}
		a.UnlockedAt = at
		out = append(out, a)
	}
	return out, nil
}
