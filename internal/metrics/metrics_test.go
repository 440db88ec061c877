package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInitIsIdempotentAndExposesCollectors(t *testing.T) {
	Init()
	Init()

	DroppedEvents.Inc()
	MessagesPersisted.WithLabelValues("send").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"chatline_hub_dropped_events_total", `chatline_messages_total{op="send"}`} {
		if !strings.Contains(body, name) {
			t.Fatalf("metric %s not exported", name)
		}
	}
}
