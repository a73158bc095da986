package handlers

import (
	"errors"
	"net/http"

	"github.com/aljoscha/shot-o-matic/internal/metrics"
	"github.com/aljoscha/shot-o-matic/internal/models"
)

type AuthHandler struct {
	env *Env
}

func NewAuthHandler(env *Env) *AuthHandler {
	return &AuthHandler{env: env}
}

type loginForm struct {
	Next string `json:"next"`
}

// next is taken from the query string, as in the redirect issued by
// RequireLogin, or from a form field of the same name.
func nextTarget(c *Context) string {
	if next := c.R.URL.Query().Get("next"); next != "" {
		return safeNext(next)
	}
	return safeNext(c.R.PostFormValue("next"))
}

// Login renders the login form on GET and authenticates on POST. Failed
// attempts re-render the form with one generic message, whatever the reason.
func (h *AuthHandler) Login(c *Context) error {
	if c.R.Method != http.MethodPost {
		return c.Render(http.StatusOK, loginForm{Next: nextTarget(c)})
	}

	if err := h.env.parseForm(c); err != nil {
		return err
	}
	username := c.R.PostFormValue("username")
	password := c.R.PostFormValue("password")

	user, err := c.Users.VerifyCredentials(c.R.Context(), username, password)
	if err != nil {
		if !errors.Is(err, models.ErrInvalidCredentials) {
			return err
		}
		h.env.Metrics.Logins.WithLabelValues(metrics.LoginFailure).Inc()
		c.Log.Info().Str("username", username).Msg("login failed")
		return c.RenderError(http.StatusUnauthorized, userMessage(err))
	}

	h.env.Metrics.Logins.WithLabelValues(metrics.LoginSuccess).Inc()
	c.Session.Renew()
	c.Session.SetUser(user.Name)
	c.setUser(user)
	c.Flash("You were logged in.", models.FlashSuccess)
	return c.Redirect(nextTarget(c))
}

func (h *AuthHandler) Logout(c *Context) error {
	c.Session.ClearUser()
	c.Flash("You were logged out.", models.FlashSuccess)
	return c.Redirect("/")
}
