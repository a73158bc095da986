package security

import (
	"encoding/base32"
	"encoding/gob"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"

	"github.com/aljoscha/shot-o-matic/internal/models"
)

const (
	DefaultCookieName = "shotomatic"

	currentUserKey = "current_user"
)

func init() {
	gob.Register(models.Flash{})
}

type SessionOptions struct {
	// Dir holds one file per session. Empty means sessions live in a signed
	// cookie instead.
	Dir        string
	Secret     []byte
	MaxAge     int // seconds
	Secure     bool
	CookieName string
}

// SessionStore maps the session cookie to a bag of attributes persisted in a
// gorilla/sessions store.
type SessionStore struct {
	store sessions.Store
	name  string
}

func NewSessionStore(opts SessionOptions) (*SessionStore, error) {
	if len(opts.Secret) == 0 {
		return nil, fmt.Errorf("session secret is required")
	}
	name := opts.CookieName
	if name == "" {
		name = DefaultCookieName
	}
	cookie := sessions.Options{
		Path:     "/",
		MaxAge:   opts.MaxAge,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	var store sessions.Store
	if opts.Dir == "" {
		cs := sessions.NewCookieStore(opts.Secret)
		cs.Options = &cookie
		cs.MaxAge(opts.MaxAge)
		store = cs
	} else {
		if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating sessions directory: %w", err)
		}
		fs := sessions.NewFilesystemStore(opts.Dir, opts.Secret)
		fs.Options = &cookie
		fs.MaxAge(opts.MaxAge)
		store = fs
	}

	return &SessionStore{store: store, name: name}, nil
}

// Load returns the session named by the request cookie. A missing, forged or
// expired cookie yields a fresh anonymous session with a new id; nothing is
// persisted until Save runs on a dirty session.
func (s *SessionStore) Load(r *http.Request) *Session {
	raw, err := s.store.New(r, s.name)
	if err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("discarding unusable session cookie")
	}
	if err != nil || raw.IsNew {
		raw.Values = make(map[interface{}]interface{})
		raw.IsNew = true
		raw.ID = newSessionID()
	}
	return &Session{raw: raw}
}

func newSessionID() string {
	return strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
}

type Session struct {
	raw   *sessions.Session
	dirty bool
}

// ID is the opaque session identifier. Cookie-backed sessions have no
// server-side record but still carry one.
func (s *Session) ID() string { return s.raw.ID }

// IsNew reports that the request presented no usable session.
func (s *Session) IsNew() bool { return s.raw.IsNew }

func (s *Session) Dirty() bool { return s.dirty }

// UserName returns the name stored by SetUser. The caller must still resolve
// it, since the user may have been deleted since.
func (s *Session) UserName() (string, bool) {
	name, ok := s.raw.Values[currentUserKey].(string)
	return name, ok && name != ""
}

func (s *Session) SetUser(name string) {
	s.raw.Values[currentUserKey] = name
	s.dirty = true
}

// Renew moves the session's values to a fresh id. Called on login so an id
// planted before authentication is worthless afterwards.
func (s *Session) Renew() {
	s.raw.ID = newSessionID()
	s.dirty = true
}

func (s *Session) ClearUser() {
	delete(s.raw.Values, currentUserKey)
	s.dirty = true
}

func (s *Session) AddFlash(text string, category models.FlashCategory) {
	s.raw.AddFlash(models.Flash{Text: text, Category: category})
	s.dirty = true
}

// Flashes pops every pending flash message.
func (s *Session) Flashes() []models.Flash {
	raw := s.raw.Flashes()
	if len(raw) == 0 {
		return nil
	}
	s.dirty = true

	flashes := make([]models.Flash, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(models.Flash); ok {
			flashes = append(flashes, f)
		}
	}
	return flashes
}

// Save persists a dirty session and sets the cookie on w. It must run before
// the response header is written. Clean sessions leave w untouched.
func (s *Session) Save(r *http.Request, w http.ResponseWriter) error {
	if !s.dirty {
		return nil
	}
	if err := s.raw.Save(r, w); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	s.dirty = false
	return nil
}
