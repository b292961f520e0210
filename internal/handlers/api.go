package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/httpx"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/requestctx"
)

// EncodedRevealer runs a reading for images that arrive already base64 encoded.
type EncodedRevealer interface {
	RevealEncoded(ctx context.Context, dateOfBirth string, left, right oracle.EncodedImage) (oracle.Reading, error)
}

// APIHandlers serves the JSON reading endpoint.
type APIHandlers struct {
	revealer     EncodedRevealer
	maxBodyBytes int64
}

// APIOption customises APIHandlers.
type APIOption func(*APIHandlers)

// WithMaxImageBytes sizes the request body limit from the per-image limit.
func WithMaxImageBytes(n int64) APIOption {
	return func(h *APIHandlers) {
		if n > 0 {
			// two base64 images plus JSON framing
			h.maxBodyBytes = 2*(n*4/3+4) + formOverheadBytes
		}
	}
}

// NewAPIHandlers constructs the JSON handlers.
func NewAPIHandlers(revealer EncodedRevealer, opts ...APIOption) *APIHandlers {
	h := &APIHandlers{revealer: revealer}
	WithMaxImageBytes(defaultMaxImageBytes)(h)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the API routes.
func (h *APIHandlers) Routes(r chi.Router) {
	r.Post("/readings", h.createReading)
}

type readingRequest struct {
	DateOfBirth string `json:"dateOfBirth"`
	LeftHand    string `json:"leftHand"`
	RightHand   string `json:"rightHand"`
}

type readingResponse struct {
	ID          string        `json:"id"`
	Result      oracle.Result `json:"result"`
	CompletedAt string        `json:"completedAt"`
}

func (h *APIHandlers) createReading(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var req readingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds the size limit", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be a JSON object", http.StatusBadRequest))
		return
	}

	var missing []string
	if strings.TrimSpace(req.DateOfBirth) == "" {
		missing = append(missing, "dateOfBirth")
	}
	if strings.TrimSpace(req.LeftHand) == "" {
		missing = append(missing, "leftHand")
	}
	if strings.TrimSpace(req.RightHand) == "" {
		missing = append(missing, "rightHand")
	}
	if len(missing) > 0 {
		httpx.WriteError(ctx, w, httpx.NewError("incomplete_input", "date of birth and both hand images are required", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"missing": missing}))
		return
	}

	left, err := oracle.ParseDataURL(req.LeftHand)
	if err != nil {
		writeInvalidImage(ctx, w, "leftHand", err)
		return
	}
	right, err := oracle.ParseDataURL(req.RightHand)
	if err != nil {
		writeInvalidImage(ctx, w, "rightHand", err)
		return
	}

	reading, err := h.revealer.RevealEncoded(context.WithoutCancel(ctx), req.DateOfBirth, left, right)
	if err != nil {
		logger.Warn("api reading failed", zap.String("kind", string(oracle.KindOf(err))), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("oracle_unavailable", oracle.GenericFailureMessage, http.StatusBadGateway))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, readingResponse{
		ID:          reading.ID,
		Result:      reading.Result,
		CompletedAt: reading.CompletedAt.UTC().Format(time.RFC3339),
	})
}

func writeInvalidImage(ctx context.Context, w http.ResponseWriter, field string, err error) {
	requestctx.Logger(ctx).Info("api image rejected", zap.String("field", field), zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("invalid_image", field+" must be a base64 data URL", http.StatusUnprocessableEntity).
		WithDetails(map[string]any{"field": field}))
}
