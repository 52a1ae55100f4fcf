package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/test", 200, 100*time.Millisecond)
	RecordRequest("POST", "/test", 201, 50*time.Millisecond)
	RecordRequest("GET", "/test", 404, 10*time.Millisecond)
}

func TestRecordDelivery(t *testing.T) {
	RecordDelivery("in_app", "delivered")
	RecordDelivery("email", "failed")
}

func TestRecordDispatchSkip(t *testing.T) {
	RecordDispatchSkip("read")
	RecordDispatchSkip("snoozed")
	RecordDispatchSkip("user_not_found")
}

func TestRecordReminderSweep(t *testing.T) {
	RecordReminderSweep(50 * time.Millisecond)
	RecordReminderSweep(200 * time.Millisecond)
}

func TestRecordAlertExpired(t *testing.T) {
	RecordAlertExpired()
	RecordAlertExpired()
}

func TestRecordIdempotencyHit(t *testing.T) {
	RecordIdempotencyHit()
	RecordIdempotencyHit()
}

func TestRecordRateLimitRejection(t *testing.T) {
	RecordRateLimitRejection("admin:a1")
	RecordRateLimitRejection("user:u1")
}

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Error("Handler should not return nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if len(body) == 0 {
		t.Error("metrics response should not be empty")
	}
}

func TestMiddleware(t *testing.T) {
	innerCalled := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
		w.WriteHeader(http.StatusNoContent)
	})

	wrapped := Middleware(inner)

	req := httptest.NewRequest("GET", "/v1/admin/alerts", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if !innerCalled {
		t.Error("middleware should call the wrapped handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}
}
