package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler(t *testing.T) {
	freshRegistry(t)

	m := InitMetrics("test-device", "1.0.0")
	m.RecordDeletion("internal")
	m.RecordCapacity("internal", true, 0.05, 100)

	handler := Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	bodyStr := string(body)

	expectedMetrics := []string{
		"logkeeper_deletions_total",
		"logkeeper_free_ratio",
		"logkeeper_info",
		`device="test-device"`,
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("Expected %q in metrics output", metric)
		}
	}
}
