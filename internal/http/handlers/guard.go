package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/aljoscha/shot-o-matic/internal/metrics"
	"github.com/aljoscha/shot-o-matic/internal/models"
)

const (
	loginRequiredMsg = "You must be logged in to access this section."
	adminRequiredMsg = "Admin status required to access this section."

	// multipartMemory is how much of a multipart body is kept in memory
	// before spilling file parts to disk.
	multipartMemory = 8 << 20
)

// RequireLogin runs next only for a logged in user. An anonymous POST may
// carry username and password form fields instead of a session; valid
// credentials authenticate this one request without touching the session.
// Everyone else is sent to the login page with msg as a notice.
func (e *Env) RequireLogin(msg string, next HandlerFunc) HandlerFunc {
	if msg == "" {
		msg = loginRequiredMsg
	}
	return func(c *Context) error {
		if c.User != nil {
			return next(c)
		}
		if c.R.Method == http.MethodPost {
			u, err := e.formCredentials(c)
			if err != nil {
				return err
			}
			if u != nil {
				c.setUser(u)
				return next(c)
			}
		}
		c.Flash(msg, models.FlashNotice)
		return c.Redirect("/login?next=" + escapeNext(c.R.URL.RequestURI()))
	}
}

// RequireAdmin runs next only for admins. It must be wrapped by
// RequireLogin.
func (e *Env) RequireAdmin(msg string, next HandlerFunc) HandlerFunc {
	if msg == "" {
		msg = adminRequiredMsg
	}
	return func(c *Context) error {
		if c.User == nil || !c.User.IsAdmin {
			c.Flash(msg, models.FlashError)
			return c.Redirect("/")
		}
		return next(c)
	}
}

// formCredentials checks the username and password fields of a POST body.
// It returns nil when the fields are absent or wrong.
func (e *Env) formCredentials(c *Context) (*models.User, error) {
	if err := e.parseForm(c); err != nil {
		return nil, err
	}
	name := c.R.PostFormValue("username")
	password := c.R.PostFormValue("password")
	if name == "" || password == "" {
		return nil, nil
	}

	u, err := c.Users.VerifyCredentials(c.R.Context(), name, password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			e.Metrics.Logins.WithLabelValues(metrics.LoginFailure).Inc()
			c.Log.Info().Str("username", name).Msg("form credentials rejected")
			return nil, nil
		}
		return nil, err
	}
	e.Metrics.Logins.WithLabelValues(metrics.LoginUpload).Inc()
	return u, nil
}

// parseForm bounds the request body and parses url-encoded and multipart
// forms alike. Parsing twice is a no-op.
func (e *Env) parseForm(c *Context) error {
	if c.R.MultipartForm != nil || c.R.PostForm != nil {
		return nil
	}
	if e.MaxUploadBytes > 0 {
		c.R.Body = http.MaxBytesReader(c.W, c.R.Body, e.MaxUploadBytes)
	}
	err := c.R.ParseMultipartForm(multipartMemory)
	if err == nil || errors.Is(err, http.ErrNotMultipart) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return flashRedirect("/", "Malformed form submission.", err)
}

// escapeNext query-escapes a local URL but keeps its slashes readable.
func escapeNext(uri string) string {
	return strings.ReplaceAll(url.QueryEscape(uri), "%2F", "/")
}

// safeNext returns next if it is a local path and "/" otherwise.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}
	return next
}
