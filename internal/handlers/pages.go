package handlers

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/anonymous-cmd-os/palmistry/internal/i18n"
	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/httpx"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/requestctx"
	"github.com/anonymous-cmd-os/palmistry/internal/session"
	"github.com/anonymous-cmd-os/palmistry/internal/view"
)

const (
	defaultMaxImageBytes = 10 << 20
	formOverheadBytes    = 1 << 20
	multipartMemory      = 8 << 20
)

var (
	errImageTooLarge = errors.New("handlers: image exceeds size limit")
	errUnknownSide   = errors.New("handlers: unknown hand")
)

// PageDeps bundles collaborators for the HTML pages.
type PageDeps struct {
	Store         *session.Store
	Cookies       *session.CookieManager
	Revealer      oracle.Revealer
	Renderer      *view.Renderer
	Bundle        *i18n.Bundle
	MaxImageBytes int64
}

// PageHandlers serves the form, loading, report and error views for each visitor.
type PageHandlers struct {
	store         *session.Store
	cookies       *session.CookieManager
	revealer      oracle.Revealer
	renderer      *view.Renderer
	bundle        *i18n.Bundle
	maxImageBytes int64
}

// NewPageHandlers validates deps and constructs the page handlers.
func NewPageHandlers(deps PageDeps) (*PageHandlers, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("page handlers: store is required")
	case deps.Cookies == nil:
		return nil, errors.New("page handlers: cookie manager is required")
	case deps.Revealer == nil:
		return nil, errors.New("page handlers: revealer is required")
	case deps.Renderer == nil:
		return nil, errors.New("page handlers: renderer is required")
	case deps.Bundle == nil:
		return nil, errors.New("page handlers: i18n bundle is required")
	}
	maxBytes := deps.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageBytes
	}
	return &PageHandlers{
		store:         deps.Store,
		cookies:       deps.Cookies,
		revealer:      deps.Revealer,
		renderer:      deps.Renderer,
		bundle:        deps.Bundle,
		maxImageBytes: maxBytes,
	}, nil
}

// Routes registers the page routes and their middleware chain.
func (h *PageHandlers) Routes(r chi.Router) {
	r.Group(func(pages chi.Router) {
		pages.Use(HTMX, Visitor(h.cookies), Locale(h.bundle), h.csrf)
		pages.Get("/", h.home)
		pages.Post("/reading", h.submitReading)
		pages.Post("/reset", h.reset)
		pages.Post("/retry", h.retry)
		pages.Get("/hands/{side}", h.handImage)
	})
}

func (h *PageHandlers) machine(r *http.Request) *session.Machine {
	return h.store.Machine(requestctx.VisitorID(r.Context()))
}

func (h *PageHandlers) page(r *http.Request, snap session.Snapshot) view.Page {
	page := view.Page{
		Lang:     requestctx.Locale(r.Context()),
		Snapshot: snap,
	}
	if v := visitorFrom(r.Context()); v != nil {
		page.CSRFToken = v.CSRFToken()
	}
	return page
}

func (h *PageHandlers) render(w http.ResponseWriter, r *http.Request, status int, page view.Page) {
	if isHTMX(r.Context()) && status >= 400 && status < 500 {
		// htmx only swaps successful responses
		status = http.StatusOK
	}
	if err := h.renderer.Render(w, status, page); err != nil {
		requestctx.Logger(r.Context()).Error("page render failed", zap.Error(err))
		httpx.WriteError(r.Context(), w, httpx.NewError("render_failed", "page could not be rendered", http.StatusInternalServerError))
	}
}

func (h *PageHandlers) home(w http.ResponseWriter, r *http.Request) {
	snap := h.machine(r).Snapshot()
	h.render(w, r, http.StatusOK, h.page(r, snap))
}

// submitReading merges the posted fields into the visitor's input and submits once it is
// complete. Fields left empty keep their previous value.
func (h *PageHandlers) submitReading(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)
	m := h.machine(r)

	if err := h.applyForm(r, m); err != nil {
		switch {
		case errors.Is(err, session.ErrNotIdle):
			h.redirectHome(w, r)
		case errors.Is(err, errImageTooLarge):
			page := h.page(r, m.Snapshot())
			page.Notice = "form.too_large"
			h.render(w, r, http.StatusRequestEntityTooLarge, page)
		default:
			logger.Warn("reading form rejected", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_form", "form could not be read", http.StatusBadRequest))
		}
		return
	}

	err := m.Submit(ctx, h.revealer)
	switch {
	case errors.Is(err, session.ErrIncompleteInput):
		snap := m.Snapshot()
		page := h.page(r, snap)
		page.Missing = snap.Input.Missing()
		page.Notice = "form.missing"
		h.render(w, r, http.StatusUnprocessableEntity, page)
		return
	case errors.Is(err, session.ErrNotIdle):
		logger.Info("submission ignored", zap.String("phase", string(m.Phase())))
	case err != nil:
		logger.Error("submission failed", zap.Error(err))
	default:
		snap := m.Snapshot()
		logger.Info("reading settled",
			zap.String("phase", string(snap.State.Phase)),
			zap.String("reading_id", snap.ReadingID))
	}
	h.redirectHome(w, r)
}

func (h *PageHandlers) applyForm(r *http.Request, m *session.Machine) error {
	if r.MultipartForm == nil {
		if err := h.parseForm(r); err != nil {
			return err
		}
	}
	if values, ok := r.PostForm["dob"]; ok && len(values) > 0 {
		if dob := strings.TrimSpace(values[0]); dob != "" {
			if err := m.SetDateOfBirth(dob); err != nil {
				return err
			}
		}
	}
	for _, field := range []struct {
		name string
		set  func(*oracle.Blob) error
	}{
		{name: "leftHand", set: m.SetLeftHand},
		{name: "rightHand", set: m.SetRightHand},
	} {
		blob, err := h.readUpload(r, field.name)
		if err != nil {
			return err
		}
		if blob == nil {
			continue
		}
		if err := field.set(blob); err != nil {
			return err
		}
	}
	return nil
}

func (h *PageHandlers) parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
				return errImageTooLarge
			}
			return fmt.Errorf("parse multipart form: %w", err)
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("parse form: %w", err)
	}
	return nil
}

// readUpload returns nil when no file was chosen for the field.
func (h *PageHandlers) readUpload(r *http.Request, field string) (*oracle.Blob, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	defer file.Close()
	return h.readBlob(file, header)
}

func (h *PageHandlers) readBlob(file multipart.File, header *multipart.FileHeader) (*oracle.Blob, error) {
	if header.Size > h.maxImageBytes {
		return nil, errImageTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > h.maxImageBytes {
		return nil, errImageTooLarge
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &oracle.Blob{
		Name:      header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Data:      data,
	}, nil
}

// reset drops the visitor's machine once it is back to Idle; the next page view starts a fresh one.
func (h *PageHandlers) reset(w http.ResponseWriter, r *http.Request) {
	visitorID := requestctx.VisitorID(r.Context())
	if m, ok := h.store.Lookup(visitorID); ok {
		if err := m.Reset(); err != nil {
			requestctx.Logger(r.Context()).Info("reset ignored", zap.Error(err))
			h.redirectHome(w, r)
			return
		}
		h.store.Forget(visitorID)
	}
	h.redirectHome(w, r)
}

func (h *PageHandlers) retry(w http.ResponseWriter, r *http.Request) {
	if err := h.machine(r).Retry(); err != nil {
		requestctx.Logger(r.Context()).Info("retry ignored", zap.Error(err))
	}
	h.redirectHome(w, r)
}

// handImage serves the stored upload for the form preview.
func (h *PageHandlers) handImage(w http.ResponseWriter, r *http.Request) {
	m, ok := h.store.Lookup(requestctx.VisitorID(r.Context()))
	if !ok {
		writeNoImage(w, r)
		return
	}
	blob, err := handFor(m.Snapshot().Input, chi.URLParam(r, "side"))
	if err != nil || blob.Empty() {
		writeNoImage(w, r)
		return
	}
	img, err := oracle.Encode(blob)
	if err != nil {
		writeNoImage(w, r)
		return
	}
	raw, err := img.Bytes()
	if err != nil {
		writeNoImage(w, r)
		return
	}
	contentType := img.MediaType
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func handFor(in session.Input, side string) (*oracle.Blob, error) {
	switch side {
	case "left":
		return in.LeftHand, nil
	case "right":
		return in.RightHand, nil
	default:
		return nil, errUnknownSide
	}
}

func writeNoImage(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("image_not_found", "no image uploaded for this hand", http.StatusNotFound))
}

func (h *PageHandlers) redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// csrf rejects unsafe requests whose token does not match the visitor's. The token is read from
// the X-CSRF-Token header or the csrf_token form field.
func (h *PageHandlers) csrf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		visitor := visitorFrom(r.Context())
		expected := ""
		if visitor != nil {
			expected = visitor.CSRFToken()
		}

		r.Body = http.MaxBytesReader(w, r.Body, 2*h.maxImageBytes+formOverheadBytes)
		token := r.Header.Get(csrfHeaderName)
		if token == "" {
			if err := h.parseForm(r); err != nil {
				if errors.Is(err, errImageTooLarge) {
					page := h.page(r, h.machine(r).Snapshot())
					page.Notice = "form.too_large"
					h.render(w, r, http.StatusRequestEntityTooLarge, page)
					return
				}
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_form", "form could not be read", http.StatusBadRequest))
				return
			}
			token = r.FormValue(csrfFormField)
		}

		if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			requestctx.Logger(r.Context()).Warn("csrf token mismatch")
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_csrf_token", "invalid CSRF token", http.StatusForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}
