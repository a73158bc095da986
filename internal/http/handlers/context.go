// Package handlers implements the HTTP endpoints of shot-o-matic.
//
// Every endpoint is a HandlerFunc that receives an explicit per-request
// Context. Env.Handle builds that Context once at request entry: it checks
// out a database connection, loads the session, resolves the current user
// and releases everything again on every exit path.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/aljoscha/shot-o-matic/internal/accounts"
	"github.com/aljoscha/shot-o-matic/internal/db"
	"github.com/aljoscha/shot-o-matic/internal/metrics"
	"github.com/aljoscha/shot-o-matic/internal/models"
	"github.com/aljoscha/shot-o-matic/internal/security"
)

// HandlerFunc is the uniform handler type. Returned errors are turned into a
// flash message and a redirect when user-facing, and into a 500 otherwise.
type HandlerFunc func(c *Context) error

// Context carries everything a handler needs for one request.
type Context struct {
	W       http.ResponseWriter
	R       *http.Request
	Session *security.Session
	// User is nil for anonymous requests.
	User *models.User
	// Users runs on the connection checked out for this request.
	Users *accounts.Store
	Log   *zerolog.Logger

	sw *sessionWriter
}

func (c *Context) Vars() map[string]string { return mux.Vars(c.R) }

func (c *Context) Flash(text string, category models.FlashCategory) {
	c.Session.AddFlash(text, category)
}

// Redirect sends a 302 to a local path.
func (c *Context) Redirect(to string) error {
	http.Redirect(c.W, c.R, to, http.StatusFound)
	return nil
}

type page struct {
	User    *models.User   `json:"user"`
	Flashes []models.Flash `json:"flashes"`
	Data    any            `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Render writes a JSON page with the current user, the pending flash
// messages and data. Rendering consumes the flashes.
func (c *Context) Render(status int, data any) error {
	return c.write(status, page{User: c.User, Flashes: c.Session.Flashes(), Data: data})
}

func (c *Context) RenderError(status int, msg string) error {
	return c.write(status, page{User: c.User, Flashes: c.Session.Flashes(), Error: msg})
}

func (c *Context) write(status int, p page) error {
	c.W.Header().Set("Content-Type", "application/json; charset=utf-8")
	c.W.WriteHeader(status)
	enc := json.NewEncoder(c.W)
	enc.SetEscapeHTML(false)
	return enc.Encode(p)
}

// setUser makes u the user of this request and tags the request logger.
func (c *Context) setUser(u *models.User) {
	c.User = u
	c.Log.UpdateContext(func(l zerolog.Context) zerolog.Context {
		return l.Str("user", u.Name)
	})
}

// resolveUser maps the session's user name to a record. A name whose user
// has been deleted since is dropped from the session.
func (c *Context) resolveUser() error {
	name, ok := c.Session.UserName()
	if !ok {
		return nil
	}
	u, err := c.Users.Lookup(c.R.Context(), name)
	if err != nil {
		return err
	}
	if u == nil {
		c.Log.Info().Str("session_user", name).Msg("session refers to a deleted user")
		c.Session.ClearUser()
		return nil
	}
	c.setUser(u)
	return nil
}

// sessionWriter saves the session right before the response header goes
// out, which is the last moment a Set-Cookie can still be added.
type sessionWriter struct {
	http.ResponseWriter
	r         *http.Request
	session   *security.Session
	log       *zerolog.Logger
	committed bool
}

func (w *sessionWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true
	if err := w.session.Save(w.r, w.ResponseWriter); err != nil {
		w.log.Error().Err(err).Msg("could not save session")
	}
}

func (w *sessionWriter) WriteHeader(code int) {
	w.commit()
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Env holds the shared dependencies of the request wrapper and the gates.
type Env struct {
	DB             *db.DB
	Sessions       *security.SessionStore
	Accounts       *accounts.Store
	Metrics        *metrics.Metrics
	MaxUploadBytes int64
}

// Handle adapts h to http.Handler.
func (e *Env) Handle(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		conn, err := e.DB.Conn(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("could not acquire database connection")
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		defer conn.Close()

		sess := e.Sessions.Load(r)
		sw := &sessionWriter{ResponseWriter: w, r: r, session: sess, log: logger}
		c := &Context{
			W:       sw,
			R:       r,
			Session: sess,
			Users:   e.Accounts.WithConn(conn),
			Log:     logger,
			sw:      sw,
		}

		defer func() {
			if p := recover(); p != nil {
				logger.Error().Interface("panic", p).Bytes("stack", debug.Stack()).Msg("handler panicked")
				if !sw.committed {
					_ = c.RenderError(http.StatusInternalServerError, "internal server error")
				}
			}
			sw.commit()
		}()

		if err := c.resolveUser(); err != nil {
			e.fail(c, err)
			return
		}
		if err := h(c); err != nil {
			e.fail(c, err)
		}
	})
}

// userError is an error with the flash text and safe page to show for it.
type userError struct {
	msg string
	to  string
	err error
}

func (e *userError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

func (e *userError) Unwrap() error { return e.err }

// flashRedirect reports err to the user as msg and sends them to to.
func flashRedirect(to, msg string, err error) error {
	return &userError{msg: msg, to: to, err: err}
}

// Messages for sentinel errors no handler translated itself.
func userMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		return "Invalid username or password."
	case errors.Is(err, models.ErrInvalidPassword):
		return "Passwords must be between 3 and 72 characters long."
	case errors.Is(err, models.ErrInvalidName):
		return "Invalid name."
	case errors.Is(err, models.ErrExtensionNotAllowed):
		return "Uploads of this filetype not allowed."
	case errors.Is(err, models.ErrDuplicateUser):
		return "User already exists."
	case errors.Is(err, models.ErrNotFound):
		return "Does not exist."
	}
	return "Something went wrong."
}

func (e *Env) fail(c *Context, err error) {
	var (
		ue       *userError
		tooLarge *http.MaxBytesError
	)
	msg, to := "", "/"
	switch {
	case errors.As(err, &ue):
		msg, to = ue.msg, ue.to
	case errors.As(err, &tooLarge):
		msg = fmt.Sprintf("Upload exceeds the limit of %d bytes.", tooLarge.Limit)
	case models.IsUserFacing(err):
		msg = userMessage(err)
	default:
		c.Log.Error().Err(err).Msg("request failed")
		if !c.sw.committed {
			_ = c.RenderError(http.StatusInternalServerError, "internal server error")
		}
		return
	}

	c.Log.Info().Err(err).Msg(msg)
	if c.sw.committed {
		return
	}
	c.Flash(msg, models.FlashError)
	_ = c.Redirect(to)
}
