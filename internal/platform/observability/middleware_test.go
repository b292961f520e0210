package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anonymous-cmd-os/palmistry/internal/platform/requestctx"
)

func TestTraceMiddlewarePropagatesRemoteTraceID(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var seen string
	handler := TraceMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestctx.TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != traceID {
		t.Fatalf("expected trace id %s, got %q", traceID, seen)
	}
}

func TestRequestLoggerLevelsByStatus(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	chain := InjectLoggerMiddleware(logger)(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("nope"))
	})))

	chain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/reading", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zap.WarnLevel {
		t.Fatalf("expected warn level, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["status"] != int64(http.StatusUnprocessableEntity) {
		t.Fatalf("unexpected status field %v", fields["status"])
	}
	if fields["bytes"] != int64(4) {
		t.Fatalf("unexpected bytes field %v", fields["bytes"])
	}
}

func TestRequestLoggerAddsAnnotatedFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	chain := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestctx.Annotate(r.Context(), "visitor_id", "01HV")
		requestctx.Annotate(r.Context(), "locale", "en")
		requestctx.Annotate(r.Context(), "locale", "hi")
		w.WriteHeader(http.StatusOK)
	})))

	chain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["visitor_id"] != "01HV" || fields["locale"] != "hi" {
		t.Fatalf("unexpected annotated fields %v", fields)
	}
}

func TestAnnotateWithoutCollectorIsNoop(t *testing.T) {
	requestctx.Annotate(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "visitor_id", "x")
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestSanitizeRouteDropsControlCharacters(t *testing.T) {
	if got := SanitizeRoute("/hands/\x00left"); got != "/hands/left" {
		t.Fatalf("unexpected sanitized route %q", got)
	}
	if got := SanitizeRoute(""); got != "/" {
		t.Fatalf("expected root for empty route, got %q", got)
	}
}
