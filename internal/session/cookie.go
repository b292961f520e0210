package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/oklog/ulid/v2"
)

const (
	defaultCookieName = "oracle_session"
	defaultCookiePath = "/"
	defaultLifetime   = 30 * 24 * time.Hour
)

// ErrInvalidConfig indicates the manager was initialised with missing or invalid options.
var ErrInvalidConfig = errors.New("session: invalid config")

// Data is the payload persisted in the visitor cookie. Reading state stays on the server.
type Data struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
	CSRFToken  string    `json:"csrfToken,omitempty"`
	Locale     string    `json:"locale,omitempty"`
}

// Visitor is the decoded cookie for the current request.
type Visitor struct {
	data  Data
	dirty bool
}

// CookieConfig controls cookie encoding for the visitor manager.
type CookieConfig struct {
	CookieName   string
	HashKey      []byte
	BlockKey     []byte
	CookiePath   string
	CookieSecure bool
	Lifetime     time.Duration
	Now          func() time.Time
	NewID        func() string
}

// CookieManager decodes and persists visitor identity via signed (and optionally encrypted)
// cookies.
type CookieManager struct {
	cfg   CookieConfig
	codec *securecookie.SecureCookie
}

// NewCookieManager constructs a CookieManager using the provided configuration.
func NewCookieManager(cfg CookieConfig) (*CookieManager, error) {
	if len(cfg.HashKey) == 0 {
		return nil, fmt.Errorf("%w: hash key is required", ErrInvalidConfig)
	}
	switch len(cfg.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidConfig)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaultCookiePath
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return ulid.Make().String() }
	}

	codec := securecookie.New(cfg.HashKey, cfg.BlockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.Lifetime / time.Second))

	return &CookieManager{cfg: cfg, codec: codec}, nil
}

// Load retrieves the visitor from the request or starts a new one. Tampered or expired cookies
// start a new visitor.
func (m *CookieManager) Load(r *http.Request) *Visitor {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return m.newVisitor()
	}
	var stored Data
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &stored); err != nil || stored.ID == "" {
		return m.newVisitor()
	}
	return &Visitor{data: stored}
}

// Save writes the visitor cookie when it changed during the request.
func (m *CookieManager) Save(w http.ResponseWriter, v *Visitor) error {
	if v == nil {
		return errors.New("session: nil visitor")
	}
	if !v.dirty {
		return nil
	}
	encoded, err := m.codec.Encode(m.cfg.CookieName, v.data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    encoded,
		Path:     m.cfg.CookiePath,
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.cfg.Lifetime / time.Second),
	})
	v.dirty = false
	return nil
}

// Touch records activity, rewriting the cookie at most once a minute.
func (m *CookieManager) Touch(v *Visitor) {
	now := m.cfg.Now().UTC()
	if now.Sub(v.data.LastActive) >= time.Minute {
		v.data.LastActive = now
		v.dirty = true
	}
}

func (m *CookieManager) newVisitor() *Visitor {
	now := m.cfg.Now().UTC()
	return &Visitor{
		data: Data{
			ID:         m.cfg.NewID(),
			CreatedAt:  now,
			LastActive: now,
		},
		dirty: true,
	}
}

// ID returns the stable visitor identifier.
func (v *Visitor) ID() string { return v.data.ID }

// Locale returns the stored language preference.
func (v *Visitor) Locale() string { return v.data.Locale }

// SetLocale stores the language preference.
func (v *Visitor) SetLocale(lang string) {
	if v.data.Locale == lang {
		return
	}
	v.data.Locale = lang
	v.dirty = true
}

// CSRFToken returns the stored CSRF token value.
func (v *Visitor) CSRFToken() string { return v.data.CSRFToken }

// EnsureCSRFToken returns the existing CSRF token or generates a new one on demand.
func (v *Visitor) EnsureCSRFToken() (string, error) {
	if v.data.CSRFToken != "" {
		return v.data.CSRFToken, nil
	}
	token, err := generateToken(32)
	if err != nil {
		return "", err
	}
	v.data.CSRFToken = token
	v.dirty = true
	return token, nil
}

// Dirty indicates whether the cookie must be rewritten.
func (v *Visitor) Dirty() bool { return v.dirty }

func generateToken(length int) (string, error) {
	if length <= 0 {
		length = 32
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
