package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/alerting"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/redis"
)

// AlertRepository defines the persistence operations the API needs.
type AlertRepository interface {
	CreateAlert(ctx context.Context, alert *db.Alert) error
	GetAlert(ctx context.Context, id uuid.UUID) (*db.Alert, error)
	UpdateAlert(ctx context.Context, alert *db.Alert) error
	SetAlertStatus(ctx context.Context, id uuid.UUID, status string) error
	ListAlerts(ctx context.Context, filter db.AlertFilter) ([]*db.Alert, error)
	CountRemindableAlerts(ctx context.Context) (int, error)

	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)

	GetPreference(ctx context.Context, userID, alertID uuid.UUID) (*db.Preference, error)
	UpdatePreference(ctx context.Context, pref *db.Preference) error
	ListPreferencesByAlert(ctx context.Context, alertID uuid.UUID) ([]*db.Preference, error)
	ListUserAlerts(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*db.UserAlert, error)
	CountPreferencesByState(ctx context.Context, state string) (int, error)

	CountDeliveriesSince(ctx context.Context, since time.Time) (int, error)
}

// AlertDispatcher triggers deliveries in response to API actions.
type AlertDispatcher interface {
	OnAlertCreated(ctx context.Context, alert *db.Alert) (*dispatch.Result, error)
	OnAlertUpdated(ctx context.Context, alert *db.Alert)
	Remind(ctx context.Context, alert *db.Alert) (*dispatch.Result, error)
}

// SchedulerStatus exposes the reminder scheduler's state for the stats
// endpoint.
type SchedulerStatus interface {
	Running() bool
	Interval() time.Duration
}

// AlertRequest is the admin-facing create/update body. Pointer fields
// distinguish "absent" from zero on update.
type AlertRequest struct {
	Title                 string      `json:"title"`
	Message               string      `json:"message"`
	Severity              string      `json:"severity"`
	DeliveryType          string      `json:"delivery_type"`
	VisibilityType        string      `json:"visibility_type"`
	VisibilityTargets     []uuid.UUID `json:"visibility_targets"`
	StartTime             *time.Time  `json:"start_time"`
	ExpiryTime            *time.Time  `json:"expiry_time"`
	ReminderIntervalHours *int        `json:"reminder_interval_hours"`
	RemindersEnabled      *bool       `json:"reminders_enabled"`
}

// SnoozeResponse is returned from the user snooze action.
type SnoozeResponse struct {
	Preference   *db.Preference `json:"preference"`
	SnoozedUntil time.Time      `json:"snoozed_until"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        AlertRepository
	dispatcher  AlertDispatcher
	sched       SchedulerStatus
	idempotency *redis.IdempotencyService // nil if Redis not configured

	defaultReminderHours int

	// now is swappable in tests
	now func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(logger *zap.Logger, repo AlertRepository, dispatcher AlertDispatcher, sched SchedulerStatus) *Handler {
	return &Handler{
		logger:               logger,
		repo:                 repo,
		dispatcher:           dispatcher,
		sched:                sched,
		idempotency:          nil, // Idempotency disabled by default
		defaultReminderHours: db.DefaultReminderIntervalHours,
		now:                  func() time.Time { return time.Now().UTC() },
	}
}

// NewHandlerWithIdempotency creates a handler with idempotent alert
// creation backed by Redis.
func NewHandlerWithIdempotency(logger *zap.Logger, repo AlertRepository, dispatcher AlertDispatcher, sched SchedulerStatus, idempotency *redis.IdempotencyService) *Handler {
	h := NewHandler(logger, repo, dispatcher, sched)
	h.idempotency = idempotency
	return h
}

// SetDefaultReminderInterval overrides the interval applied to alerts
// created without one.
func (h *Handler) SetDefaultReminderInterval(hours int) {
	if hours > 0 {
		h.defaultReminderHours = hours
	}
}

// requireAdmin resolves the caller from the X-Admin-ID header and
// verifies the admin flag. Writes the error response itself; callers
// bail out when the second return is false.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (*db.User, bool) {
	adminIDStr := r.Header.Get("X-Admin-ID")
	if adminIDStr == "" {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing admin identity", "X-Admin-ID header is required")
		return nil, false
	}

	adminID, err := uuid.Parse(adminIDStr)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid admin identity", "X-Admin-ID must be a valid UUID")
		return nil, false
	}

	admin, err := h.repo.GetUser(r.Context(), adminID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "Unknown admin", "")
			return nil, false
		}
		h.logger.Error("failed to resolve admin", zap.Error(err), zap.String("admin_id", adminIDStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to resolve admin", "")
		return nil, false
	}

	if !admin.IsAdmin {
		h.writeError(w, http.StatusForbidden, "forbidden", "Admin privileges required", "")
		return nil, false
	}

	return admin, true
}

// CreateAlert handles POST /v1/admin/alerts.
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.Check(ctx, admin.ID.String(), idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request", "Request already in progress", "A request with this Idempotency-Key is still being processed")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding without", zap.Error(err))
		}
		if cached != nil {
			metrics.RecordIdempotencyHit()
			h.replayCachedAlert(w, r, cached)
			return
		}

		locked, err := h.idempotency.Lock(ctx, admin.ID.String(), idempotencyKey)
		if err != nil {
			h.logger.Warn("idempotency lock failed, proceeding without", zap.Error(err))
		} else if !locked {
			h.writeError(w, http.StatusConflict, "duplicate_request", "Request already in progress", "A request with this Idempotency-Key is still being processed")
			return
		}
	}

	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.releaseIdempotency(ctx, admin.ID.String(), idempotencyKey)
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	alert := h.alertFromRequest(&req, admin.ID)
	if detail := validateAlert(alert); detail != "" {
		h.releaseIdempotency(ctx, admin.ID.String(), idempotencyKey)
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert", detail)
		return
	}

	if err := h.repo.CreateAlert(ctx, alert); err != nil {
		h.releaseIdempotency(ctx, admin.ID.String(), idempotencyKey)
		h.logger.Error("failed to create alert", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create alert", "")
		return
	}

	// First delivery is synchronous with creation; delivery failures are
	// recorded per user and never fail the request.
	result, err := h.dispatcher.OnAlertCreated(ctx, alert)
	if err != nil {
		h.logger.Error("initial dispatch failed",
			zap.Error(err),
			zap.String("alert_id", alert.ID.String()),
		)
	}

	if idempotencyKey != "" && h.idempotency != nil {
		dispatchJSON, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			h.logger.Warn("failed to marshal dispatch result for idempotency cache", zap.Error(marshalErr))
		}
		storeErr := h.idempotency.Store(ctx, admin.ID.String(), idempotencyKey, &redis.IdempotencyResult{
			AlertID:    alert.ID.String(),
			StatusCode: http.StatusCreated,
			Dispatch:   dispatchJSON,
		})
		if storeErr != nil {
			h.logger.Warn("failed to store idempotency result", zap.Error(storeErr))
		}
	}

	h.logger.Info("alert created",
		zap.String("alert_id", alert.ID.String()),
		zap.String("severity", alert.Severity),
		zap.String("visibility", alert.VisibilityType),
		zap.String("created_by", admin.ID.String()),
	)

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"alert":    alert,
		"dispatch": result,
	})
}

// replayCachedAlert serves a repeated idempotent request from the cached
// result without re-creating or re-delivering. The body mirrors the
// original 201 response: the alert plus the original dispatch summary.
func (h *Handler) replayCachedAlert(w http.ResponseWriter, r *http.Request, cached *redis.IdempotencyResult) {
	w.Header().Set("X-Idempotency-Replay", "true")

	var dispatch interface{}
	if len(cached.Dispatch) > 0 {
		dispatch = json.RawMessage(cached.Dispatch)
	}

	var alertBody interface{} = map[string]string{"id": cached.AlertID}
	if alertID, err := uuid.Parse(cached.AlertID); err == nil {
		if alert, getErr := h.repo.GetAlert(r.Context(), alertID); getErr == nil {
			alertBody = alert
		}
	}

	h.writeJSON(w, cached.StatusCode, map[string]interface{}{
		"alert":    alertBody,
		"dispatch": dispatch,
	})
}

func (h *Handler) releaseIdempotency(ctx context.Context, adminID, key string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Release(ctx, adminID, key); err != nil {
		h.logger.Warn("failed to release idempotency key", zap.Error(err))
	}
}

// alertFromRequest builds a new alert applying creation defaults.
func (h *Handler) alertFromRequest(req *AlertRequest, createdBy uuid.UUID) *db.Alert {
	now := h.now()

	alert := &db.Alert{
		ID:                    uuid.New(),
		Title:                 req.Title,
		Message:               req.Message,
		Severity:              req.Severity,
		DeliveryType:          req.DeliveryType,
		VisibilityType:        req.VisibilityType,
		VisibilityTargets:     req.VisibilityTargets,
		StartTime:             now,
		ReminderIntervalHours: h.defaultReminderHours,
		RemindersEnabled:      true,
		Status:                db.AlertStatusActive,
		CreatedBy:             createdBy,
	}

	if alert.Severity == "" {
		alert.Severity = db.SeverityInfo
	}
	if alert.DeliveryType == "" {
		alert.DeliveryType = db.ChannelInApp
	}
	if req.StartTime != nil {
		alert.StartTime = req.StartTime.UTC()
	}
	if req.ExpiryTime != nil {
		t := req.ExpiryTime.UTC()
		alert.ExpiryTime = &t
	}
	if req.ReminderIntervalHours != nil {
		alert.ReminderIntervalHours = *req.ReminderIntervalHours
	}
	if req.RemindersEnabled != nil {
		alert.RemindersEnabled = *req.RemindersEnabled
	}

	return alert
}

// validateAlert returns an empty string when the alert is well formed,
// otherwise a human-readable detail.
func validateAlert(alert *db.Alert) string {
	if alert.Title == "" || alert.Message == "" {
		return "title and message are required"
	}

	switch alert.Severity {
	case db.SeverityInfo, db.SeverityWarning, db.SeverityCritical:
	default:
		return "severity must be info, warning, or critical"
	}

	switch alert.DeliveryType {
	case db.ChannelInApp, db.ChannelEmail, db.ChannelSMS, db.ChannelWebhook:
	default:
		return "delivery_type must be in_app, email, sms, or webhook"
	}

	switch alert.VisibilityType {
	case db.VisibilityOrganization:
		if len(alert.VisibilityTargets) > 0 {
			return "organization visibility must not carry targets"
		}
	case db.VisibilityTeam, db.VisibilityUser:
		if len(alert.VisibilityTargets) == 0 {
			return "team and user visibility require at least one target"
		}
	default:
		return "visibility_type must be organization, team, or user"
	}

	if alert.ExpiryTime != nil && !alert.ExpiryTime.After(alert.StartTime) {
		return "expiry_time must be after start_time"
	}

	if alert.ReminderIntervalHours <= 0 {
		return "reminder_interval_hours must be positive"
	}

	return ""
}

// UpdateAlert handles PUT /v1/admin/alerts/{alertID}. Only fields
// present in the body are changed.
func (h *Handler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	alert, ok := h.alertFromPath(w, r)
	if !ok {
		return
	}

	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Title != "" {
		alert.Title = req.Title
	}
	if req.Message != "" {
		alert.Message = req.Message
	}
	if req.Severity != "" {
		alert.Severity = req.Severity
	}
	if req.DeliveryType != "" {
		alert.DeliveryType = req.DeliveryType
	}
	if req.VisibilityType != "" {
		alert.VisibilityType = req.VisibilityType
		alert.VisibilityTargets = req.VisibilityTargets
	} else if req.VisibilityTargets != nil {
		alert.VisibilityTargets = req.VisibilityTargets
	}
	if req.StartTime != nil {
		alert.StartTime = req.StartTime.UTC()
	}
	if req.ExpiryTime != nil {
		t := req.ExpiryTime.UTC()
		alert.ExpiryTime = &t
	}
	if req.ReminderIntervalHours != nil {
		alert.ReminderIntervalHours = *req.ReminderIntervalHours
	}
	if req.RemindersEnabled != nil {
		alert.RemindersEnabled = *req.RemindersEnabled
	}

	if detail := validateAlert(alert); detail != "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert", detail)
		return
	}

	if err := h.repo.UpdateAlert(ctx, alert); err != nil {
		h.logger.Error("failed to update alert", zap.Error(err), zap.String("alert_id", alert.ID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update alert", "")
		return
	}

	h.dispatcher.OnAlertUpdated(ctx, alert)

	h.writeJSON(w, http.StatusOK, alert)
}

// ListAlerts handles GET /v1/admin/alerts with optional severity,
// status, visibility_type, and created_by filters plus pagination.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	filter := db.AlertFilter{
		Severity:       r.URL.Query().Get("severity"),
		Status:         r.URL.Query().Get("status"),
		VisibilityType: r.URL.Query().Get("visibility_type"),
	}

	if createdBy := r.URL.Query().Get("created_by"); createdBy != "" {
		id, err := uuid.Parse(createdBy)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid created_by", "created_by must be a valid UUID")
			return
		}
		filter.CreatedBy = id
	}

	filter.Limit = 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			filter.Limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	alerts, err := h.repo.ListAlerts(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list alerts", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list alerts", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   alerts,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"count":  len(alerts),
	})
}

// GetAlert handles GET /v1/admin/alerts/{alertID}
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	alert, ok := h.alertFromPath(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, alert)
}

// ArchiveAlert handles POST /v1/admin/alerts/{alertID}/archive.
// Archived alerts stop being delivered or reminded but keep their
// history.
func (h *Handler) ArchiveAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	alert, ok := h.alertFromPath(w, r)
	if !ok {
		return
	}

	if err := h.repo.SetAlertStatus(ctx, alert.ID, db.AlertStatusArchived); err != nil {
		h.logger.Error("failed to archive alert", zap.Error(err), zap.String("alert_id", alert.ID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to archive alert", "")
		return
	}

	h.logger.Info("alert archived", zap.String("alert_id", alert.ID.String()))

	h.writeJSON(w, http.StatusOK, map[string]string{
		"id":     alert.ID.String(),
		"status": db.AlertStatusArchived,
	})
}

// TriggerReminder handles POST /v1/admin/alerts/{alertID}/remind,
// running one reminder pass for the alert outside the scheduler.
func (h *Handler) TriggerReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	alert, ok := h.alertFromPath(w, r)
	if !ok {
		return
	}

	result, err := h.dispatcher.Remind(ctx, alert)
	if err != nil {
		h.logger.Error("manual reminder failed", zap.Error(err), zap.String("alert_id", alert.ID.String()))
		h.writeError(w, http.StatusInternalServerError, "dispatch_error", "Failed to send reminders", "")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// GetAlertStats handles GET /v1/admin/alerts/{alertID}/stats, tallying
// recipient states for one alert.
func (h *Handler) GetAlertStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	alert, ok := h.alertFromPath(w, r)
	if !ok {
		return
	}

	prefs, err := h.repo.ListPreferencesByAlert(ctx, alert.ID)
	if err != nil {
		h.logger.Error("failed to list preferences", zap.Error(err), zap.String("alert_id", alert.ID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load alert stats", "")
		return
	}

	now := h.now()
	counts := map[string]int{
		db.StateUnread:  0,
		db.StateRead:    0,
		db.StateSnoozed: 0,
	}
	delivered := 0
	for _, pref := range prefs {
		// Expired snoozes count as unread even before the lazy
		// transition is persisted.
		state := pref.State
		if state == db.StateSnoozed && !alerting.IsSnoozed(pref, now) {
			state = db.StateUnread
		}
		counts[state]++
		if pref.FirstDeliveredAt != nil {
			delivered++
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alert_id":   alert.ID.String(),
		"recipients": len(prefs),
		"delivered":  delivered,
		"unread":     counts[db.StateUnread],
		"read":       counts[db.StateRead],
		"snoozed":    counts[db.StateSnoozed],
	})
}

// GetSystemStats handles GET /v1/admin/stats: a cross-alert snapshot
// plus scheduler state.
func (h *Handler) GetSystemStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	now := h.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	stats := map[string]interface{}{}

	if remindable, err := h.repo.CountRemindableAlerts(ctx); err == nil {
		stats["remindable_alerts"] = remindable
	} else {
		h.logger.Warn("failed to count remindable alerts", zap.Error(err))
	}

	states := map[string]int{}
	for _, state := range []string{db.StateUnread, db.StateRead, db.StateSnoozed} {
		count, err := h.repo.CountPreferencesByState(ctx, state)
		if err != nil {
			h.logger.Warn("failed to count preferences", zap.Error(err), zap.String("state", state))
			continue
		}
		states[state] = count
	}
	stats["preferences_by_state"] = states

	if deliveries, err := h.repo.CountDeliveriesSince(ctx, midnight); err == nil {
		stats["deliveries_today"] = deliveries
	} else {
		h.logger.Warn("failed to count deliveries", zap.Error(err))
	}

	stats["scheduler"] = map[string]interface{}{
		"running":          h.sched.Running(),
		"interval_seconds": int(h.sched.Interval().Seconds()),
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// ListUserAlerts handles GET /v1/users/{userID}/alerts: the dashboard
// view of alerts visible to the user with their current state. Expired
// snoozes flip back to unread here and the transition is persisted.
func (h *Handler) ListUserAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.userFromPath(w, r)
	if !ok {
		return
	}

	activeOnly := r.URL.Query().Get("include_inactive") != "true"

	stateFilter := r.URL.Query().Get("state")
	switch stateFilter {
	case "", db.StateUnread, db.StateRead, db.StateSnoozed:
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid state filter", "state must be unread, read, or snoozed")
		return
	}

	items, err := h.repo.ListUserAlerts(ctx, userID, activeOnly)
	if err != nil {
		h.logger.Error("failed to list user alerts", zap.Error(err), zap.String("user_id", userID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list alerts", "")
		return
	}

	now := h.now()
	counts := map[string]int{
		db.StateUnread:  0,
		db.StateRead:    0,
		db.StateSnoozed: 0,
	}
	filtered := make([]*db.UserAlert, 0, len(items))
	for _, item := range items {
		if alerting.ExpireSnooze(&item.Preference, now) {
			if err := h.repo.UpdatePreference(ctx, &item.Preference); err != nil {
				h.logger.Warn("failed to persist snooze expiry",
					zap.Error(err),
					zap.String("preference_id", item.Preference.ID.String()),
				)
			}
		}
		counts[item.Preference.State]++
		if stateFilter == "" || item.Preference.State == stateFilter {
			filtered = append(filtered, item)
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":          filtered,
		"count":         len(filtered),
		"unread_count":  counts[db.StateUnread],
		"read_count":    counts[db.StateRead],
		"snoozed_count": counts[db.StateSnoozed],
	})
}

// MarkRead handles POST /v1/users/{userID}/alerts/{alertID}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.updateState(w, r, func(pref *db.Preference, now time.Time) {
		alerting.MarkRead(pref, now)
	})
}

// MarkUnread handles POST /v1/users/{userID}/alerts/{alertID}/unread
func (h *Handler) MarkUnread(w http.ResponseWriter, r *http.Request) {
	h.updateState(w, r, func(pref *db.Preference, now time.Time) {
		alerting.MarkUnread(pref)
	})
}

// SnoozeAlert handles POST /v1/users/{userID}/alerts/{alertID}/snooze.
// The snooze always runs to the end of the current UTC day.
func (h *Handler) SnoozeAlert(w http.ResponseWriter, r *http.Request) {
	h.updateState(w, r, alerting.Snooze)
}

// updateState is the shared body of the three user state actions: load
// the preference (404 when the alert was never delivered to this user),
// apply the transition, persist, return the row.
func (h *Handler) updateState(w http.ResponseWriter, r *http.Request, transition func(*db.Preference, time.Time)) {
	ctx := r.Context()

	userID, ok := h.userFromPath(w, r)
	if !ok {
		return
	}

	alertIDStr := chi.URLParam(r, "alertID")
	alertID, err := uuid.Parse(alertIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert ID", "alert ID must be a valid UUID")
		return
	}

	pref, err := h.repo.GetPreference(ctx, userID, alertID)
	if err != nil {
		if errors.Is(err, db.ErrPreferenceNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Alert not found for user", "the alert has not been delivered to this user")
			return
		}
		h.logger.Error("failed to load preference", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load alert state", "")
		return
	}

	now := h.now()
	alerting.ExpireSnooze(pref, now)
	transition(pref, now)

	if err := h.repo.UpdatePreference(ctx, pref); err != nil {
		h.logger.Error("failed to update preference", zap.Error(err), zap.String("preference_id", pref.ID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update alert state", "")
		return
	}

	h.logger.Debug("preference state changed",
		zap.String("user_id", userID.String()),
		zap.String("alert_id", alertID.String()),
		zap.String("state", pref.State),
	)

	if pref.State == db.StateSnoozed && pref.SnoozedUntil != nil {
		h.writeJSON(w, http.StatusOK, SnoozeResponse{Preference: pref, SnoozedUntil: *pref.SnoozedUntil})
		return
	}
	h.writeJSON(w, http.StatusOK, pref)
}

// alertFromPath loads the alert named by the {alertID} URL param,
// writing the error response on failure.
func (h *Handler) alertFromPath(w http.ResponseWriter, r *http.Request) (*db.Alert, bool) {
	idStr := chi.URLParam(r, "alertID")
	alertID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert ID", "alert ID must be a valid UUID")
		return nil, false
	}

	alert, err := h.repo.GetAlert(r.Context(), alertID)
	if err != nil {
		if errors.Is(err, db.ErrAlertNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Alert not found", "")
			return nil, false
		}
		h.logger.Error("failed to get alert", zap.Error(err), zap.String("alert_id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get alert", "")
		return nil, false
	}

	return alert, true
}

func (h *Handler) userFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "userID")
	userID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "user ID must be a valid UUID")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
