package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	beaconredis "github.com/lalithlochan/beacon/internal/redis"
)

var (
	baseTime        = time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)
	errDatabaseDown = errors.New("database error")
)

// MockRepository is a fake database for testing
type MockRepository struct {
	users  map[uuid.UUID]*db.User
	alerts map[uuid.UUID]*db.Alert
	prefs  map[string]*db.Preference

	prefUpdates int
	shouldFail  bool
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		users:  make(map[uuid.UUID]*db.User),
		alerts: make(map[uuid.UUID]*db.Alert),
		prefs:  make(map[string]*db.Preference),
	}
}

func prefKey(userID, alertID uuid.UUID) string {
	return userID.String() + "/" + alertID.String()
}

func (m *MockRepository) addAdmin() *db.User {
	admin := &db.User{ID: uuid.New(), Name: "admin", Email: "admin@example.com", IsAdmin: true}
	m.users[admin.ID] = admin
	return admin
}

func (m *MockRepository) addUser() *db.User {
	user := &db.User{ID: uuid.New(), Name: "user", Email: "user@example.com"}
	m.users[user.ID] = user
	return user
}

func (m *MockRepository) CreateAlert(ctx context.Context, alert *db.Alert) error {
	if m.shouldFail {
		return errDatabaseDown
	}
	alert.CreatedAt = baseTime
	alert.UpdatedAt = baseTime
	m.alerts[alert.ID] = alert
	return nil
}

func (m *MockRepository) GetAlert(ctx context.Context, id uuid.UUID) (*db.Alert, error) {
	if m.shouldFail {
		return nil, errDatabaseDown
	}
	alert, ok := m.alerts[id]
	if !ok {
		return nil, db.ErrAlertNotFound
	}
	return alert, nil
}

func (m *MockRepository) UpdateAlert(ctx context.Context, alert *db.Alert) error {
	if m.shouldFail {
		return errDatabaseDown
	}
	m.alerts[alert.ID] = alert
	return nil
}

func (m *MockRepository) SetAlertStatus(ctx context.Context, id uuid.UUID, status string) error {
	if m.shouldFail {
		return errDatabaseDown
	}
	alert, ok := m.alerts[id]
	if !ok {
		return db.ErrAlertNotFound
	}
	alert.Status = status
	return nil
}

func (m *MockRepository) ListAlerts(ctx context.Context, filter db.AlertFilter) ([]*db.Alert, error) {
	if m.shouldFail {
		return nil, errDatabaseDown
	}
	var out []*db.Alert
	for _, alert := range m.alerts {
		if filter.Severity != "" && alert.Severity != filter.Severity {
			continue
		}
		if filter.Status != "" && alert.Status != filter.Status {
			continue
		}
		out = append(out, alert)
	}
	return out, nil
}

func (m *MockRepository) CountRemindableAlerts(ctx context.Context) (int, error) {
	return len(m.alerts), nil
}

func (m *MockRepository) GetUser(ctx context.Context, id uuid.UUID) (*db.User, error) {
	if m.shouldFail {
		return nil, errDatabaseDown
	}
	user, ok := m.users[id]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	return user, nil
}

func (m *MockRepository) GetPreference(ctx context.Context, userID, alertID uuid.UUID) (*db.Preference, error) {
	if m.shouldFail {
		return nil, errDatabaseDown
	}
	pref, ok := m.prefs[prefKey(userID, alertID)]
	if !ok {
		return nil, db.ErrPreferenceNotFound
	}
	return pref, nil
}

func (m *MockRepository) UpdatePreference(ctx context.Context, pref *db.Preference) error {
	if m.shouldFail {
		return errDatabaseDown
	}
	m.prefUpdates++
	m.prefs[prefKey(pref.UserID, pref.AlertID)] = pref
	return nil
}

func (m *MockRepository) ListPreferencesByAlert(ctx context.Context, alertID uuid.UUID) ([]*db.Preference, error) {
	if m.shouldFail {
		return nil, errDatabaseDown
	}
	var out []*db.Preference
	for _, pref := range m.prefs {
		if pref.AlertID == alertID {
			out = append(out, pref)
		}
	}
	return out, nil
}

func (m *MockRepository) ListUserAlerts(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*db.UserAlert, error) {
	if m.shouldFail {
		return nil, errDatabaseDown
	}
	var out []*db.UserAlert
	for _, pref := range m.prefs {
		if pref.UserID != userID {
			continue
		}
		alert, ok := m.alerts[pref.AlertID]
		if !ok {
			continue
		}
		if activeOnly && !alert.IsActive(baseTime) {
			continue
		}
		out = append(out, &db.UserAlert{Alert: *alert, Preference: *pref})
	}
	return out, nil
}

func (m *MockRepository) CountPreferencesByState(ctx context.Context, state string) (int, error) {
	count := 0
	for _, pref := range m.prefs {
		if pref.State == state {
			count++
		}
	}
	return count, nil
}

func (m *MockRepository) CountDeliveriesSince(ctx context.Context, since time.Time) (int, error) {
	return 0, nil
}

// MockDispatcher records lifecycle calls.
type MockDispatcher struct {
	createdCalled bool
	updatedCalled bool
	remindCalled  bool
	remindResult  *dispatch.Result
}

func (m *MockDispatcher) OnAlertCreated(ctx context.Context, alert *db.Alert) (*dispatch.Result, error) {
	m.createdCalled = true
	return &dispatch.Result{Status: dispatch.StatusCompleted, Targeted: 1, Successful: 1}, nil
}

func (m *MockDispatcher) OnAlertUpdated(ctx context.Context, alert *db.Alert) {
	m.updatedCalled = true
}

func (m *MockDispatcher) Remind(ctx context.Context, alert *db.Alert) (*dispatch.Result, error) {
	m.remindCalled = true
	if m.remindResult != nil {
		return m.remindResult, nil
	}
	return &dispatch.Result{Status: dispatch.StatusSkipped, Reason: dispatch.ReasonNoEligibleUsers}, nil
}

type MockScheduler struct{ running bool }

func (m *MockScheduler) Running() bool           { return m.running }
func (m *MockScheduler) Interval() time.Duration { return 300 * time.Second }

func newTestHandler(repo *MockRepository, dispatcher *MockDispatcher) *Handler {
	h := NewHandler(zap.NewNop(), repo, dispatcher, &MockScheduler{running: true})
	h.now = func() time.Time { return baseTime }
	return h
}

// testRouter mounts the handler the same way the gateway does.
func testRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Route("/admin", func(r chi.Router) {
			r.Post("/alerts", h.CreateAlert)
			r.Get("/alerts", h.ListAlerts)
			r.Get("/alerts/{alertID}", h.GetAlert)
			r.Put("/alerts/{alertID}", h.UpdateAlert)
			r.Post("/alerts/{alertID}/archive", h.ArchiveAlert)
			r.Post("/alerts/{alertID}/remind", h.TriggerReminder)
			r.Get("/alerts/{alertID}/stats", h.GetAlertStats)
			r.Get("/stats", h.GetSystemStats)
		})
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/alerts", h.ListUserAlerts)
			r.Post("/alerts/{alertID}/read", h.MarkRead)
			r.Post("/alerts/{alertID}/unread", h.MarkUnread)
			r.Post("/alerts/{alertID}/snooze", h.SnoozeAlert)
		})
	})
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if str, ok := body.(string); ok {
			buf.WriteString(str)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAlert(t *testing.T) {
	targetID := uuid.New()

	tests := []struct {
		name           string
		requestBody    interface{}
		expectedStatus int
	}{
		{
			name: "valid organization alert",
			requestBody: AlertRequest{
				Title:          "Planned downtime",
				Message:        "Saturday 02:00 UTC",
				Severity:       "warning",
				DeliveryType:   "in_app",
				VisibilityType: "organization",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "defaults applied",
			requestBody: AlertRequest{
				Title:          "Heads up",
				Message:        "Minor notice",
				VisibilityType: "organization",
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "valid user alert",
			requestBody: AlertRequest{
				Title:             "Your quota",
				Message:           "You are at 90%",
				VisibilityType:    "user",
				VisibilityTargets: []uuid.UUID{targetID},
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "organization with targets rejected",
			requestBody: AlertRequest{
				Title:             "Bad scope",
				Message:           "x",
				VisibilityType:    "organization",
				VisibilityTargets: []uuid.UUID{targetID},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "team without targets rejected",
			requestBody: AlertRequest{
				Title:          "Bad scope",
				Message:        "x",
				VisibilityType: "team",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid severity",
			requestBody: AlertRequest{
				Title:          "t",
				Message:        "m",
				Severity:       "catastrophic",
				VisibilityType: "organization",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid delivery type",
			requestBody: AlertRequest{
				Title:          "t",
				Message:        "m",
				DeliveryType:   "pigeon",
				VisibilityType: "organization",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing title",
			requestBody: AlertRequest{
				Message:        "m",
				VisibilityType: "organization",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON body",
			requestBody:    "not valid json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockRepository()
			admin := repo.addAdmin()
			dispatcher := &MockDispatcher{}
			router := testRouter(newTestHandler(repo, dispatcher))

			rec := doJSON(t, router, http.MethodPost, "/v1/admin/alerts", tt.requestBody,
				map[string]string{"X-Admin-ID": admin.ID.String()})

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
				t.Logf("Response body: %s", rec.Body.String())
			}

			if tt.expectedStatus == http.StatusCreated {
				if !dispatcher.createdCalled {
					t.Error("expected OnAlertCreated to fire")
				}
				if len(repo.alerts) != 1 {
					t.Errorf("expected 1 stored alert, got %d", len(repo.alerts))
				}
			} else if len(repo.alerts) != 0 {
				t.Error("rejected request must not persist an alert")
			}
		})
	}
}

func TestCreateAlert_ExpiryBeforeStart(t *testing.T) {
	repo := NewMockRepository()
	admin := repo.addAdmin()
	router := testRouter(newTestHandler(repo, &MockDispatcher{}))

	start := baseTime.Add(time.Hour)
	expiry := baseTime // before start

	rec := doJSON(t, router, http.MethodPost, "/v1/admin/alerts", AlertRequest{
		Title:          "t",
		Message:        "m",
		VisibilityType: "organization",
		StartTime:      &start,
		ExpiryTime:     &expiry,
	}, map[string]string{"X-Admin-ID": admin.ID.String()})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCreateAlert_IdempotentReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := beaconredis.NewFromAddr(mr.Addr(), zap.NewNop())
	defer client.Close()

	repo := NewMockRepository()
	admin := repo.addAdmin()
	dispatcher := &MockDispatcher{}
	h := NewHandlerWithIdempotency(zap.NewNop(), repo, dispatcher, &MockScheduler{running: true},
		beaconredis.NewIdempotencyService(client, zap.NewNop()))
	h.now = func() time.Time { return baseTime }
	router := testRouter(h)

	body := AlertRequest{Title: "t", Message: "m", VisibilityType: "organization"}
	headers := map[string]string{
		"X-Admin-ID":      admin.ID.String(),
		"Idempotency-Key": "key-1",
	}

	type createResponse struct {
		Alert    db.Alert         `json:"alert"`
		Dispatch *dispatch.Result `json:"dispatch"`
	}

	first := doJSON(t, router, http.MethodPost, "/v1/admin/alerts", body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	var firstResp createResponse
	if err := json.NewDecoder(first.Body).Decode(&firstResp); err != nil {
		t.Fatalf("failed to decode first response: %v", err)
	}
	if firstResp.Dispatch == nil {
		t.Fatal("expected dispatch summary in first response")
	}

	second := doJSON(t, router, http.MethodPost, "/v1/admin/alerts", body, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("expected 201 on replay, got %d: %s", second.Code, second.Body.String())
	}
	if second.Header().Get("X-Idempotency-Replay") != "true" {
		t.Error("expected replay header on repeated request")
	}

	// Replay serves the same body shape as the original response.
	var secondResp createResponse
	if err := json.NewDecoder(second.Body).Decode(&secondResp); err != nil {
		t.Fatalf("failed to decode replayed response: %v", err)
	}
	if secondResp.Alert.ID != firstResp.Alert.ID {
		t.Errorf("replay returned alert %s, original was %s", secondResp.Alert.ID, firstResp.Alert.ID)
	}
	if secondResp.Dispatch == nil {
		t.Fatal("expected dispatch summary preserved in replay")
	}
	if secondResp.Dispatch.Successful != firstResp.Dispatch.Successful ||
		secondResp.Dispatch.Status != firstResp.Dispatch.Status {
		t.Errorf("replayed dispatch %+v differs from original %+v", secondResp.Dispatch, firstResp.Dispatch)
	}

	if len(repo.alerts) != 1 {
		t.Errorf("expected a single stored alert, got %d", len(repo.alerts))
	}
}

func TestAdminAuth(t *testing.T) {
	repo := NewMockRepository()
	nonAdmin := repo.addUser()
	router := testRouter(newTestHandler(repo, &MockDispatcher{}))

	body := AlertRequest{Title: "t", Message: "m", VisibilityType: "organization"}

	tests := []struct {
		name           string
		adminHeader    string
		expectedStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not a uuid", "abc", http.StatusUnauthorized},
		{"unknown user", uuid.New().String(), http.StatusUnauthorized},
		{"not an admin", nonAdmin.ID.String(), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.adminHeader != "" {
				headers["X-Admin-ID"] = tt.adminHeader
			}
			rec := doJSON(t, router, http.MethodPost, "/v1/admin/alerts", body, headers)
			if rec.Code != tt.expectedStatus {
				t.Errorf("expected %d, got %d", tt.expectedStatus, rec.Code)
			}
		})
	}
}

func TestUpdateAlert(t *testing.T) {
	repo := NewMockRepository()
	admin := repo.addAdmin()
	dispatcher := &MockDispatcher{}
	h := newTestHandler(repo, dispatcher)
	router := testRouter(h)

	alert := &db.Alert{
		ID:                    uuid.New(),
		Title:                 "Old title",
		Message:               "Old message",
		Severity:              db.SeverityInfo,
		DeliveryType:          db.ChannelInApp,
		VisibilityType:        db.VisibilityOrganization,
		StartTime:             baseTime.Add(-time.Hour),
		ReminderIntervalHours: 2,
		RemindersEnabled:      true,
		Status:                db.AlertStatusActive,
	}
	repo.alerts[alert.ID] = alert

	disabled := false
	rec := doJSON(t, router, http.MethodPut, "/v1/admin/alerts/"+alert.ID.String(), AlertRequest{
		Title:            "New title",
		Severity:         "critical",
		RemindersEnabled: &disabled,
	}, map[string]string{"X-Admin-ID": admin.ID.String()})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored := repo.alerts[alert.ID]
	if stored.Title != "New title" {
		t.Errorf("title not updated: %s", stored.Title)
	}
	if stored.Severity != db.SeverityCritical {
		t.Errorf("severity not updated: %s", stored.Severity)
	}
	if stored.RemindersEnabled {
		t.Error("reminders_enabled not updated")
	}
	if stored.Message != "Old message" {
		t.Error("absent fields must not change")
	}
	if !dispatcher.updatedCalled {
		t.Error("expected OnAlertUpdated to fire")
	}
}

func TestUpdateAlert_NotFound(t *testing.T) {
	repo := NewMockRepository()
	admin := repo.addAdmin()
	router := testRouter(newTestHandler(repo, &MockDispatcher{}))

	rec := doJSON(t, router, http.MethodPut, "/v1/admin/alerts/"+uuid.New().String(),
		AlertRequest{Title: "t"}, map[string]string{"X-Admin-ID": admin.ID.String()})

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestArchiveAlert(t *testing.T) {
	repo := NewMockRepository()
	admin := repo.addAdmin()
	router := testRouter(newTestHandler(repo, &MockDispatcher{}))

	alert := &db.Alert{ID: uuid.New(), Status: db.AlertStatusActive}
	repo.alerts[alert.ID] = alert

	rec := doJSON(t, router, http.MethodPost, "/v1/admin/alerts/"+alert.ID.String()+"/archive",
		nil, map[string]string{"X-Admin-ID": admin.ID.String()})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if repo.alerts[alert.ID].Status != db.AlertStatusArchived {
		t.Errorf("expected archived, got %s", repo.alerts[alert.ID].Status)
	}
}

func TestTriggerReminder(t *testing.T) {
	repo := NewMockRepository()
	admin := repo.addAdmin()
	dispatcher := &MockDispatcher{
		remindResult: &dispatch.Result{Status: dispatch.StatusCompleted, Targeted: 3, Successful: 2, Failed: 1},
	}
	router := testRouter(newTestHandler(repo, dispatcher))

	alert := &db.Alert{ID: uuid.New(), Status: db.AlertStatusActive}
	repo.alerts[alert.ID] = alert

	rec := doJSON(t, router, http.MethodPost, "/v1/admin/alerts/"+alert.ID.String()+"/remind",
		nil, map[string]string{"X-Admin-ID": admin.ID.String()})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !dispatcher.remindCalled {
		t.Fatal("expected Remind to be called")
	}

	var result dispatch.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.Successful != 2 || result.Failed != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestGetAlertStats(t *testing.T) {
	repo := NewMockRepository()
	admin := repo.addAdmin()
	router := testRouter(newTestHandler(repo, &MockDispatcher{}))

	alert := &db.Alert{ID: uuid.New(), Status: db.AlertStatusActive}
	repo.alerts[alert.ID] = alert

	deliveredAt := baseTime.Add(-time.Hour)
	lapsedSnooze := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	for _, pref := range []*db.Preference{
		{ID: uuid.New(), UserID: uuid.New(), AlertID: alert.ID, State: db.StateUnread, FirstDeliveredAt: &deliveredAt},
		{ID: uuid.New(), UserID: uuid.New(), AlertID: alert.ID, State: db.StateRead, FirstDeliveredAt: &deliveredAt},
		// Snooze lapsed at midnight; counts as unread
		{ID: uuid.New(), UserID: uuid.New(), AlertID: alert.ID, State: db.StateSnoozed, SnoozedUntil: &lapsedSnooze},
	} {
		repo.prefs[prefKey(pref.UserID, pref.AlertID)] = pref
	}

	rec := doJSON(t, router, http.MethodGet, "/v1/admin/alerts/"+alert.ID.String()+"/stats",
		nil, map[string]string{"X-Admin-ID": admin.ID.String()})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats struct {
		Recipients int `json:"recipients"`
		Delivered  int `json:"delivered"`
		Unread     int `json:"unread"`
		Read       int `json:"read"`
		Snoozed    int `json:"snoozed"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.Recipients != 3 || stats.Delivered != 2 {
		t.Errorf("unexpected totals: %+v", stats)
	}
	if stats.Unread != 2 || stats.Read != 1 || stats.Snoozed != 0 {
		t.Errorf("unexpected state counts: %+v", stats)
	}
}

func TestUserStateActions(t *testing.T) {
	setup := func() (*MockRepository, *chi.Mux, *db.User, *db.Alert) {
		repo := NewMockRepository()
		user := repo.addUser()
		alert := &db.Alert{ID: uuid.New(), Status: db.AlertStatusActive, StartTime: baseTime.Add(-time.Hour)}
		repo.alerts[alert.ID] = alert
		repo.prefs[prefKey(user.ID, alert.ID)] = &db.Preference{
			ID:      uuid.New(),
			UserID:  user.ID,
			AlertID: alert.ID,
			State:   db.StateUnread,
		}
		return repo, testRouter(newTestHandler(repo, &MockDispatcher{})), user, alert
	}

	t.Run("read", func(t *testing.T) {
		repo, router, user, alert := setup()

		rec := doJSON(t, router, http.MethodPost,
			"/v1/users/"+user.ID.String()+"/alerts/"+alert.ID.String()+"/read", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		pref := repo.prefs[prefKey(user.ID, alert.ID)]
		if pref.State != db.StateRead {
			t.Errorf("expected read, got %s", pref.State)
		}
		if pref.ReadAt == nil || !pref.ReadAt.Equal(baseTime) {
			t.Errorf("expected read_at %v, got %v", baseTime, pref.ReadAt)
		}
	})

	t.Run("unread after read", func(t *testing.T) {
		repo, router, user, alert := setup()

		doJSON(t, router, http.MethodPost,
			"/v1/users/"+user.ID.String()+"/alerts/"+alert.ID.String()+"/read", nil, nil)
		rec := doJSON(t, router, http.MethodPost,
			"/v1/users/"+user.ID.String()+"/alerts/"+alert.ID.String()+"/unread", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		pref := repo.prefs[prefKey(user.ID, alert.ID)]
		if pref.State != db.StateUnread {
			t.Errorf("expected unread, got %s", pref.State)
		}
		if pref.ReadAt != nil {
			t.Error("expected read_at cleared")
		}
	})

	t.Run("snooze until end of day", func(t *testing.T) {
		repo, router, user, alert := setup()

		rec := doJSON(t, router, http.MethodPost,
			"/v1/users/"+user.ID.String()+"/alerts/"+alert.ID.String()+"/snooze", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var resp SnoozeResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		wantUntil := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
		if !resp.SnoozedUntil.Equal(wantUntil) {
			t.Errorf("expected snoozed until %v, got %v", wantUntil, resp.SnoozedUntil)
		}

		pref := repo.prefs[prefKey(user.ID, alert.ID)]
		if pref.State != db.StateSnoozed {
			t.Errorf("expected snoozed, got %s", pref.State)
		}
	})

	t.Run("404 when never delivered", func(t *testing.T) {
		_, router, user, _ := setup()

		rec := doJSON(t, router, http.MethodPost,
			"/v1/users/"+user.ID.String()+"/alerts/"+uuid.New().String()+"/read", nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestListUserAlerts_ExpiresLapsedSnooze(t *testing.T) {
	repo := NewMockRepository()
	user := repo.addUser()
	router := testRouter(newTestHandler(repo, &MockDispatcher{}))

	alert := &db.Alert{ID: uuid.New(), Status: db.AlertStatusActive, StartTime: baseTime.Add(-time.Hour)}
	repo.alerts[alert.ID] = alert

	snoozedAt := baseTime.Add(-20 * time.Hour)
	lapsed := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	repo.prefs[prefKey(user.ID, alert.ID)] = &db.Preference{
		ID:           uuid.New(),
		UserID:       user.ID,
		AlertID:      alert.ID,
		State:        db.StateSnoozed,
		SnoozedAt:    &snoozedAt,
		SnoozedUntil: &lapsed,
	}

	rec := doJSON(t, router, http.MethodGet, "/v1/users/"+user.ID.String()+"/alerts", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	pref := repo.prefs[prefKey(user.ID, alert.ID)]
	if pref.State != db.StateUnread {
		t.Errorf("expected lapsed snooze flipped to unread, got %s", pref.State)
	}
	if repo.prefUpdates != 1 {
		t.Errorf("expected the transition persisted once, got %d updates", repo.prefUpdates)
	}
}

func TestListUserAlerts_StateCountsAndFilter(t *testing.T) {
	repo := NewMockRepository()
	user := repo.addUser()
	router := testRouter(newTestHandler(repo, &MockDispatcher{}))

	addPref := func(state string, snoozedUntil *time.Time) {
		alert := &db.Alert{ID: uuid.New(), Status: db.AlertStatusActive, StartTime: baseTime.Add(-time.Hour)}
		repo.alerts[alert.ID] = alert
		repo.prefs[prefKey(user.ID, alert.ID)] = &db.Preference{
			ID:           uuid.New(),
			UserID:       user.ID,
			AlertID:      alert.ID,
			State:        state,
			SnoozedUntil: snoozedUntil,
		}
	}

	activeSnooze := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	lapsedSnooze := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	addPref(db.StateUnread, nil)
	addPref(db.StateRead, nil)
	addPref(db.StateSnoozed, &activeSnooze)
	// Lapsed snooze flips to unread before counting
	addPref(db.StateSnoozed, &lapsedSnooze)

	rec := doJSON(t, router, http.MethodGet, "/v1/users/"+user.ID.String()+"/alerts", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data         []db.UserAlert `json:"data"`
		Count        int            `json:"count"`
		UnreadCount  int            `json:"unread_count"`
		ReadCount    int            `json:"read_count"`
		SnoozedCount int            `json:"snoozed_count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 4 || len(resp.Data) != 4 {
		t.Errorf("expected 4 alerts, got count=%d len=%d", resp.Count, len(resp.Data))
	}
	if resp.UnreadCount != 2 || resp.ReadCount != 1 || resp.SnoozedCount != 1 {
		t.Errorf("unexpected state counts: unread=%d read=%d snoozed=%d",
			resp.UnreadCount, resp.ReadCount, resp.SnoozedCount)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/users/"+user.ID.String()+"/alerts?state=snoozed", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 || len(resp.Data) != 1 {
		t.Errorf("expected 1 snoozed alert, got count=%d len=%d", resp.Count, len(resp.Data))
	}
	if resp.Data[0].Preference.State != db.StateSnoozed {
		t.Errorf("expected snoozed row, got %s", resp.Data[0].Preference.State)
	}
	// Counts stay global under a filter
	if resp.UnreadCount != 2 || resp.ReadCount != 1 || resp.SnoozedCount != 1 {
		t.Errorf("unexpected state counts under filter: unread=%d read=%d snoozed=%d",
			resp.UnreadCount, resp.ReadCount, resp.SnoozedCount)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/users/"+user.ID.String()+"/alerts?state=bogus", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown state filter, got %d", rec.Code)
	}
}

func TestGetSystemStats(t *testing.T) {
	repo := NewMockRepository()
	admin := repo.addAdmin()
	router := testRouter(newTestHandler(repo, &MockDispatcher{}))

	rec := doJSON(t, router, http.MethodGet, "/v1/admin/stats",
		nil, map[string]string{"X-Admin-ID": admin.ID.String()})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats struct {
		Scheduler struct {
			Running         bool `json:"running"`
			IntervalSeconds int  `json:"interval_seconds"`
		} `json:"scheduler"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if !stats.Scheduler.Running {
		t.Error("expected scheduler running")
	}
	if stats.Scheduler.IntervalSeconds != 300 {
		t.Errorf("expected interval 300, got %d", stats.Scheduler.IntervalSeconds)
	}
}
