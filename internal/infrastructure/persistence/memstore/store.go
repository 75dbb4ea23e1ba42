// Package memstore is an in-process activity store. It backs the server when
// no DATABASE_URL is configured and the application-layer tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/unilingo/progress-engine/internal/domain/achievement"
	"github.com/unilingo/progress-engine/internal/domain/activity"
	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/session"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/internal/domain/topic"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

type streakKey struct {
	userID string
	typ    streak.Type
}

type goalKey struct {
	userID string
	typ    goal.Type
	date   timeutil.Date
}

// Store keeps every table in maps guarded by one RWMutex.
// Values are copied on the way in and out so callers never share state.
type Store struct {
	mu sync.RWMutex

	activities   map[string][]*activity.Record
	stats        map[string]*activity.LearningStats
	streaks      map[streakKey]*streak.State
	goals        map[goalKey]*goal.DailyGoal
	achievements map[string][]*achievement.Achievement
	flashcards   []flashcard
	progress     map[string]map[string]topic.ItemProgress
	sessions     map[string]*session.Session

	// failWith is returned by every operation while set.
	failWith error
	now      timeutil.Clock
}

type flashcard struct {
	ownerID string // empty for the shared deck
	item    topic.Item
}

var (
	_ activity.Repository      = (*Store)(nil)
	_ activity.StatsRepository = (*Store)(nil)
	_ streak.Repository        = (*Store)(nil)
	_ goal.Repository          = (*Store)(nil)
	_ achievement.Repository   = (*Store)(nil)
	_ topic.Repository         = (*Store)(nil)
	_ session.Repository       = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{
		activities:   make(map[string][]*activity.Record),
		stats:        make(map[string]*activity.LearningStats),
		streaks:      make(map[streakKey]*streak.State),
		goals:        make(map[goalKey]*goal.DailyGoal),
		achievements: make(map[string][]*achievement.Achievement),
		progress:     make(map[string]map[string]topic.ItemProgress),
		sessions:     make(map[string]*session.Session),
		now:          timeutil.SystemClock,
	}
}

// SetClock replaces the clock used for generated timestamps.
func (s *Store) SetClock(clock timeutil.Clock) {
	s.mu.Lock()
	s.now = clock
	s.mu.Unlock()
}

// SetFailure makes every operation return err until called with nil.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

func (s *Store) failure() error {
	if s.failWith == nil {
		return nil
	}
	return shared.WrapError("store", "Request", shared.ErrServiceUnavailable, "activity store is unavailable", s.failWith)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITIES AND STATS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) AppendActivity(ctx context.Context, r *activity.Record) (*activity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return nil, err
	}

	out := *r
	out.ID = uuid.NewString()
	if out.CompletedAt.IsZero() {
		out.CompletedAt = s.now().UTC()
	}
	stored := out
	s.activities[out.UserID] = append(s.activities[out.UserID], &stored)
	return &out, nil
}

func (s *Store) QueryActivities(ctx context.Context, userID string, f activity.Filter) ([]*activity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return nil, err
	}

	out := make([]*activity.Record, 0)
	for _, r := range s.activities[userID] {
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		if !f.Since.IsZero() && r.CompletedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !r.CompletedAt.Before(f.Until) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) GetLearningStats(ctx context.Context, userID string) (*activity.LearningStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return nil, err
	}
	st, ok := s.stats[userID]
	if !ok {
		return nil, shared.ErrStatsNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *Store) SaveLearningStats(ctx context.Context, st *activity.LearningStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return err
	}
	cp := *st
	s.stats[st.UserID] = &cp
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAKS AND GOALS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetStreak(ctx context.Context, userID string, typ streak.Type) (*streak.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return nil, err
	}
	st, ok := s.streaks[streakKey{userID, typ}]
	if !ok {
		return nil, shared.ErrStreakNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *Store) UpsertStreak(ctx context.Context, st *streak.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return err
	}
	key := streakKey{st.UserID, st.StreakType}
	cp := *st
	if prev, ok := s.streaks[key]; ok && prev.LongestStreak > cp.LongestStreak {
		cp.LongestStreak = prev.LongestStreak
	}
	s.streaks[key] = &cp
	return nil
}

func (s *Store) GetDailyGoals(ctx context.Context, userID string, date timeutil.Date) ([]*goal.DailyGoal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return nil, err
	}
	out := make([]*goal.DailyGoal, 0, len(goal.Types))
	for k, g := range s.goals {
		if k.userID == userID && k.date.Equal(date) {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GoalType < out[j].GoalType })
	return out, nil
}

func (s *Store) UpsertGoalProgress(ctx context.Context, g *goal.DailyGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return err
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = s.now().UTC()
	}
	key := goalKey{g.UserID, g.GoalType, g.GoalDate}
	cp := *g
	if prev, ok := s.goals[key]; ok {
		cp.ID = prev.ID
		cp.Completed = cp.Completed || prev.Completed
	}
	s.goals[key] = &cp
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) GetAchievements(ctx context.Context, userID string) ([]*achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return nil, err
	}
	list := s.achievements[userID]
	out := make([]*achievement.Achievement, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EarnedAt.After(out[j].EarnedAt) })
	return out, nil
}

func (s *Store) InsertAchievementIfAbsent(ctx context.Context, a *achievement.Achievement) (*achievement.Achievement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return nil, false, err
	}
	for _, existing := range s.achievements[a.UserID] {
		if existing.Name == a.Name {
			return nil, false, nil
		}
	}
	out := *a
	out.ID = uuid.NewString()
	if out.EarnedAt.IsZero() {
		out.EarnedAt = s.now().UTC()
	}
	stored := out
	s.achievements[a.UserID] = append(s.achievements[a.UserID], &stored)
	return &out, true, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDY SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return nil, err
	}
	out := *sess
	out.ID = uuid.NewString()
	if out.StartTime.IsZero() {
		out.StartTime = s.now().UTC()
	}
	stored := out
	s.sessions[out.ID] = &stored
	return &out, nil
}

func (s *Store) GetSession(ctx context.Context, userID, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return nil, shared.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) EndSession(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return err
	}
	prev, ok := s.sessions[sess.ID]
	if !ok || prev.UserID != sess.UserID {
		return shared.ErrSessionNotFound
	}
	if !prev.IsOpen() {
		return shared.ErrSessionEnded
	}
	cp := *sess
	cp.StartTime = prev.StartTime
	s.sessions[sess.ID] = &cp
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FLASHCARDS
// ══════════════════════════════════════════════════════════════════════════════

// AddFlashcard adds a card to ownerID's deck, or to the shared deck when
// ownerID is empty.
func (s *Store) AddFlashcard(ownerID string, item topic.Item) {
	s.mu.Lock()
	s.flashcards = append(s.flashcards, flashcard{ownerID: ownerID, item: item})
	s.mu.Unlock()
}

// SetFlashcardProgress records the user's progress on one card.
func (s *Store) SetFlashcardProgress(userID string, p topic.ItemProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.progress[userID]
	if !ok {
		m = make(map[string]topic.ItemProgress)
		s.progress[userID] = m
	}
	m[p.ItemID] = p
}

func (s *Store) ListFlashcards(ctx context.Context, userID string) ([]topic.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return nil, err
	}
	var own, common []topic.Item
	for _, fc := range s.flashcards {
		switch fc.ownerID {
		case userID:
			own = append(own, fc.item)
		case "":
			common = append(common, fc.item)
		}
	}
	return append(own, common...), nil
}

func (s *Store) GetFlashcardProgress(ctx context.Context, userID string) ([]topic.ItemProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return nil, err
	}
	out := make([]topic.ItemProgress, 0, len(s.progress[userID]))
	for _, p := range s.progress[userID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// ActivityCount returns how many records userID has.
func (s *Store) ActivityCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activities[userID])
}

// Seed stores an activity verbatim, bypassing ID and clock assignment.
func (s *Store) Seed(r activity.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CompletedAt = r.CompletedAt.UTC()
	s.activities[r.UserID] = append(s.activities[r.UserID], &r)
}
