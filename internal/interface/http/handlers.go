package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unilingo/progress-engine/internal/application/command"
	"github.com/unilingo/progress-engine/internal/application/query"
	"github.com/unilingo/progress-engine/internal/domain/activity"
	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/session"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/pkg/logger"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if !status.Healthy {
		writeJSON(c, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(c, http.StatusOK, status)
}

// handleLive handles GET /live
func (s *Server) handleLive(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// INSIGHTS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetInsights handles GET /api/v1/users/:id/insights
func (s *Server) handleGetInsights(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	force := queryBool(c, "force")
	insights := s.deps.Progress.GetInsights(c.Request.Context(), userID, force)
	if insights == nil {
		writeError(c, http.StatusServiceUnavailable, "insights_unavailable", "Insights could not be computed")
		return
	}
	writeJSON(c, http.StatusOK, insights)
}

// handleRefreshInsights handles POST /api/v1/users/:id/insights/refresh
func (s *Server) handleRefreshInsights(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	insights := s.deps.Progress.ForceRefresh(c.Request.Context(), userID)
	if insights == nil {
		writeError(c, http.StatusServiceUnavailable, "insights_unavailable", "Insights could not be computed")
		return
	}
	writeJSON(c, http.StatusOK, insights)
}

// studyDatesResponse wraps the dates so an empty history is [] rather than null.
type studyDatesResponse struct {
	UserID string          `json:"user_id"`
	Dates  []timeutil.Date `json:"dates"`
}

// handleGetStudyDates handles GET /api/v1/users/:id/study-dates
func (s *Server) handleGetStudyDates(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	dates := s.deps.Progress.GetStudyDates(c.Request.Context(), userID)
	if dates == nil {
		dates = []timeutil.Date{}
	}
	writeJSON(c, http.StatusOK, studyDatesResponse{UserID: userID, Dates: dates})
}

// handleClearCache handles DELETE /api/v1/users/:id/cache
func (s *Server) handleClearCache(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	s.deps.Progress.ClearUserCache(c.Request.Context(), userID)
	c.Status(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// handleGetStreak handles GET /api/v1/users/:id/streak
func (s *Server) handleGetStreak(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	typ := streak.Type(c.DefaultQuery("type", string(streak.TypeDailyStudy)))
	if typ != streak.TypeDailyStudy && typ != streak.TypeDailyFlashcards {
		writeError(c, http.StatusBadRequest, "invalid_request", "Unknown streak type")
		return
	}

	dto, err := s.deps.GetStreak.Handle(c.Request.Context(), query.GetStreakQuery{UserID: userID, StreakType: typ})
	if err != nil {
		s.writeDomainError(c, err, "get streak")
		return
	}
	if dto == nil {
		writeError(c, http.StatusNotFound, "not_found", "No streak recorded")
		return
	}
	writeJSON(c, http.StatusOK, dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// recordActivityRequest is the body of POST /api/v1/users/:id/activities.
type recordActivityRequest struct {
	ActivityType    string     `json:"activity_type" binding:"required"`
	ActivityName    string     `json:"activity_name"`
	DurationSeconds int        `json:"duration_seconds"`
	Score           int        `json:"score"`
	MaxScore        int        `json:"max_score"`
	Accuracy        *float64   `json:"accuracy"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// recordActivityResponse is the summary returned after recording.
type recordActivityResponse struct {
	ActivityID      string               `json:"activity_id"`
	XP              activity.XPBreakdown `json:"xp"`
	Level           string               `json:"level"`
	LeveledUp       bool                 `json:"leveled_up"`
	CurrentStreak   int                  `json:"current_streak"`
	GoalsCompleted  []string             `json:"goals_completed"`
	NewAchievements []string             `json:"new_achievements"`
}

// handleRecordActivity handles POST /api/v1/users/:id/activities
func (s *Server) handleRecordActivity(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	var req recordActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorWithDetails(c, http.StatusBadRequest, "invalid_request", "Malformed activity", err.Error())
		return
	}

	cmd := command.RecordActivityCommand{
		UserID:          userID,
		Type:            activity.Type(req.ActivityType),
		Name:            req.ActivityName,
		DurationSeconds: req.DurationSeconds,
		Score:           req.Score,
		MaxScore:        req.MaxScore,
		Accuracy:        req.Accuracy,
	}
	if req.CompletedAt != nil {
		cmd.CompletedAt = *req.CompletedAt
	}

	res, err := s.deps.RecordActivity.Handle(c.Request.Context(), cmd)
	if err != nil {
		s.writeDomainError(c, err, "record activity")
		return
	}

	out := recordActivityResponse{
		ActivityID:      res.Activity.ID,
		XP:              res.XP,
		Level:           string(res.Level.CurrentLevel),
		LeveledUp:       res.LeveledUp,
		GoalsCompleted:  make([]string, 0, len(res.GoalsCompleted)),
		NewAchievements: res.NewAchievements,
	}
	if res.Streak != nil {
		out.CurrentStreak = res.Streak.CurrentStreak
	}
	for _, g := range res.GoalsCompleted {
		out.GoalsCompleted = append(out.GoalsCompleted, string(g))
	}
	if out.NewAchievements == nil {
		out.NewAchievements = []string{}
	}
	writeJSON(c, http.StatusCreated, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// GOAL AND SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// setDailyGoalRequest is the body of PUT /api/v1/users/:id/goals/:type.
type setDailyGoalRequest struct {
	TargetValue  int    `json:"target_value" binding:"required"`
	CurrentValue *int   `json:"current_value"`
	Proficiency  string `json:"proficiency"`
}

// handleSetDailyGoal handles PUT /api/v1/users/:id/goals/:type
func (s *Server) handleSetDailyGoal(c *gin.Context) {
	if s.deps.SetDailyGoal == nil {
		writeError(c, http.StatusNotFound, "not_found", "Route not found")
		return
	}
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	var req setDailyGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorWithDetails(c, http.StatusBadRequest, "invalid_request", "Malformed goal", err.Error())
		return
	}

	res, err := s.deps.SetDailyGoal.Handle(c.Request.Context(), command.SetDailyGoalCommand{
		UserID:       userID,
		GoalType:     goal.Type(c.Param("type")),
		TargetValue:  req.TargetValue,
		CurrentValue: req.CurrentValue,
		Proficiency:  req.Proficiency,
	})
	if err != nil {
		s.writeDomainError(c, err, "set daily goal")
		return
	}
	writeJSON(c, http.StatusOK, res.Goal)
}

// startSessionRequest is the body of POST /api/v1/users/:id/sessions.
type startSessionRequest struct {
	SessionType      string `json:"session_type" binding:"required"`
	StudyEnvironment string `json:"study_environment"`
	EnergyLevel      *int   `json:"energy_level"`
}

// handleStartSession handles POST /api/v1/users/:id/sessions
func (s *Server) handleStartSession(c *gin.Context) {
	if s.deps.Sessions == nil {
		writeError(c, http.StatusNotFound, "not_found", "Route not found")
		return
	}
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorWithDetails(c, http.StatusBadRequest, "invalid_request", "Malformed session", err.Error())
		return
	}

	started, err := s.deps.Sessions.Start(c.Request.Context(), command.StartSessionCommand{
		UserID:      userID,
		Type:        session.Type(req.SessionType),
		Environment: req.StudyEnvironment,
		EnergyLevel: req.EnergyLevel,
	})
	if err != nil {
		s.writeDomainError(c, err, "start session")
		return
	}
	writeJSON(c, http.StatusCreated, started)
}

// endSessionRequest is the body of POST /api/v1/users/:id/sessions/:sid/end.
type endSessionRequest struct {
	ActivitiesCompleted int      `json:"activities_completed"`
	TotalScore          int      `json:"total_score"`
	AverageAccuracy     *float64 `json:"average_accuracy"`
	EnergyLevel         *int     `json:"energy_level"`
	FocusLevel          *int     `json:"focus_level"`
}

// handleEndSession handles POST /api/v1/users/:id/sessions/:sid/end
func (s *Server) handleEndSession(c *gin.Context) {
	if s.deps.Sessions == nil {
		writeError(c, http.StatusNotFound, "not_found", "Route not found")
		return
	}
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	var req endSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErrorWithDetails(c, http.StatusBadRequest, "invalid_request", "Malformed session summary", err.Error())
			return
		}
	}

	ended, err := s.deps.Sessions.End(c.Request.Context(), command.EndSessionCommand{
		UserID:    userID,
		SessionID: c.Param("sid"),
		Summary: session.Summary{
			ActivitiesCompleted: req.ActivitiesCompleted,
			TotalScore:          req.TotalScore,
			AverageAccuracy:     req.AverageAccuracy,
			EnergyLevel:         req.EnergyLevel,
			FocusLevel:          req.FocusLevel,
		},
	})
	if err != nil {
		s.writeDomainError(c, err, "end session")
		return
	}
	writeJSON(c, http.StatusOK, ended)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps a command or query error to a status code.
func (s *Server) writeDomainError(c *gin.Context, err error, op string) {
	log := logger.FromContext(c.Request.Context())
	switch {
	case shared.IsValidation(err):
		writeErrorWithDetails(c, http.StatusBadRequest, "invalid_request", "Request rejected", err.Error())
	case shared.IsNotFound(err):
		writeError(c, http.StatusNotFound, "not_found", "Not found")
	case shared.IsAlreadyExists(err):
		writeErrorWithDetails(c, http.StatusConflict, "conflict", "Request conflicts with stored state", err.Error())
	case errors.Is(err, shared.ErrServiceUnavailable), errors.Is(err, shared.ErrTimeout):
		log.Warn(op+" unavailable", logger.Err(err))
		writeError(c, http.StatusServiceUnavailable, "service_unavailable", "Store is temporarily unavailable")
	default:
		log.Error(op+" failed", logger.Err(err))
		writeError(c, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}

// userIDParam reads the :id path parameter, writing 400 when it is blank.
func userIDParam(c *gin.Context) (string, bool) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		writeError(c, http.StatusBadRequest, "invalid_request", "User ID is required")
		return "", false
	}
	return userID, true
}

// queryBool reads a boolean query parameter. Unparseable values read as false.
func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}
