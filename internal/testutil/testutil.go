// Package testutil holds fixtures and HTTP helpers shared by tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/radarcloud/internal/radar"
)

// Stamp is a fixed batch time used across tests.
var Stamp = time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)

// Batch returns a batch in frame with the given targets, numbered in order.
func Batch(frame string, targets ...radar.Target) radar.Batch {
	for i := range targets {
		targets[i].TargetID = i
	}
	if targets == nil {
		targets = []radar.Target{}
	}
	return radar.Batch{FrameID: frame, Timestamp: Stamp, Targets: targets}
}

// PassThroughOptions keeps every in-range target regardless of speed.
func PassThroughOptions() radar.Options {
	opts := radar.DefaultOptions()
	opts.Speed.PassThroughUnfiltered = true
	return opts
}

// Do serves one request against h. A non-empty body is sent as JSON.
func Do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// DecodeJSON decodes the recorded body into v or fails the test.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
}

// AssertStatus fails the test when rec has an unexpected status.
func AssertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Errorf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}
