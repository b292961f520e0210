package handlers_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/anonymous-cmd-os/palmistry/internal/handlers"
	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
)

func newAPIRouter(revealer handlers.EncodedRevealer, opts ...handlers.APIOption) http.Handler {
	api := handlers.NewAPIHandlers(revealer, opts...)
	return handlers.NewRouter(handlers.WithAPIRoutes(func(r chi.Router) { api.Routes(r) }))
}

func pngDataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

func postJSON(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/readings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func marshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestAPICreateReading(t *testing.T) {
	revealer := &recordingRevealer{result: reportResult()}
	router := newAPIRouter(revealer)

	rec := postJSON(t, router, marshal(t, map[string]string{
		"dateOfBirth": "1990-08-15",
		"leftHand":    pngDataURL(leftPNG),
		"rightHand":   pngDataURL(rightPNG),
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		ID          string        `json:"id"`
		Result      oracle.Result `json:"result"`
		CompletedAt string        `json:"completedAt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "rdg_test", payload.ID)
	require.Equal(t, "Leo", payload.Result.ZodiacSign.Primary())
	require.Equal(t, "सिंह", payload.Result.ZodiacSign.Secondary())
	require.NotEmpty(t, payload.CompletedAt)

	revealer.mu.Lock()
	defer revealer.mu.Unlock()
	require.Equal(t, []string{"1990-08-15", "image/png", "image/png"}, revealer.encoded)
}

func TestAPIValidation(t *testing.T) {
	testCases := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
		check      func(t *testing.T, payload map[string]any)
	}{
		{
			name:       "not json",
			body:       "dob=1990",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "unknown field",
			body:       `{"dateOfBirth":"1990-08-15","palm":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "missing inputs",
			body:       `{"dateOfBirth":"  "}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "incomplete_input",
			check: func(t *testing.T, payload map[string]any) {
				require.Equal(t, []any{"dateOfBirth", "leftHand", "rightHand"}, payload["missing"])
			},
		},
		{
			name:       "undecodable image",
			body:       `{"dateOfBirth":"1990-08-15","leftHand":"data:image/png;base64,@@@","rightHand":"aGVsbG8="}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_image",
			check: func(t *testing.T, payload map[string]any) {
				require.Equal(t, "leftHand", payload["field"])
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			revealer := &recordingRevealer{result: reportResult()}
			rec := postJSON(t, newAPIRouter(revealer), tc.body)

			require.Equal(t, tc.wantStatus, rec.Code)
			payload := decodeJSON(t, rec)
			require.Equal(t, tc.wantCode, payload["error"])
			if tc.check != nil {
				tc.check(t, payload)
			}
			require.Empty(t, revealer.encoded)
		})
	}
}

func TestAPIBodyTooLarge(t *testing.T) {
	router := newAPIRouter(&recordingRevealer{}, handlers.WithMaxImageBytes(4))

	big := bytes.Repeat([]byte("A"), 4<<20)
	rec := postJSON(t, router, `{"dateOfBirth":"1990-08-15","leftHand":"`+string(big)+`"}`)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, "payload_too_large", decodeJSON(t, rec)["error"])
}

func TestAPIReadingFailureUsesGenericMessage(t *testing.T) {
	revealer := &recordingRevealer{err: &oracle.Error{Kind: oracle.KindSchema, Detail: "missing fields", Fields: []string{"career"}, Err: errors.New("schema")}}
	router := newAPIRouter(revealer)

	rec := postJSON(t, router, marshal(t, map[string]string{
		"dateOfBirth": "1990-08-15",
		"leftHand":    pngDataURL(leftPNG),
		"rightHand":   pngDataURL(rightPNG),
	}))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	payload := decodeJSON(t, rec)
	require.Equal(t, "oracle_unavailable", payload["error"])
	require.Equal(t, oracle.GenericFailureMessage, payload["message"])
	require.NotContains(t, rec.Body.String(), "career")
}
