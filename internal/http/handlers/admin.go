package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aljoscha/shot-o-matic/internal/models"
)

const usersPage = "/users"

type AdminHandler struct {
	env *Env
}

func NewAdminHandler(env *Env) *AdminHandler {
	return &AdminHandler{env: env}
}

type userList struct {
	Users []models.User `json:"users"`
}

func (h *AdminHandler) ListUsers(c *Context) error {
	users, err := c.Users.List(c.R.Context())
	if err != nil {
		return err
	}
	if users == nil {
		users = []models.User{}
	}
	return c.Render(http.StatusOK, userList{Users: users})
}

// checkbox accepts the values browsers and scripts commonly send for a
// ticked box.
func checkbox(v string) bool {
	if v == "on" {
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

func (h *AdminHandler) AddUser(c *Context) error {
	if err := h.env.parseForm(c); err != nil {
		return err
	}
	name := c.R.PostFormValue("name")
	password := c.R.PostFormValue("password")
	isAdmin := checkbox(c.R.PostFormValue("admin"))

	user, err := c.Users.Create(c.R.Context(), name, password, isAdmin)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrDuplicateUser):
		return flashRedirect(usersPage, fmt.Sprintf("User '%s' already exists.", name), err)
	case errors.Is(err, models.ErrInvalidName):
		return flashRedirect(usersPage, fmt.Sprintf("'%s' cannot be used as a user name.", name), err)
	case errors.Is(err, models.ErrInvalidPassword):
		return flashRedirect(usersPage, userMessage(err), err)
	case errors.Is(err, models.ErrNamespaceExists):
		return flashRedirect(usersPage, fmt.Sprintf("Files of an earlier user '%s' are still on disk; remove them before reusing the name.", name), err)
	default:
		return err
	}

	h.env.Metrics.UsersCreated.Inc()
	c.Log.Info().Str("created", user.Name).Bool("admin", user.IsAdmin).Msg("user added")
	c.Flash("User added.", models.FlashSuccess)
	return c.Redirect(usersPage)
}

// DeleteUser removes the account and every screenshot it owns. If the
// screenshots cannot all be removed the account is gone anyway and the
// admin gets a notice instead of an error.
func (h *AdminHandler) DeleteUser(c *Context) error {
	name := c.Vars()["name"]
	if name == c.User.Name {
		return flashRedirect(usersPage, "You cannot delete your own account.", nil)
	}

	err := c.Users.Delete(c.R.Context(), name)
	var storageErr *models.StorageError
	switch {
	case err == nil:
		c.Flash("User deleted.", models.FlashSuccess)
	case errors.Is(err, models.ErrNotFound):
		return flashRedirect(usersPage, "User does not exist.", err)
	case errors.As(err, &storageErr):
		c.Log.Error().Err(err).Str("deleted", name).Msg("user deleted but screenshots remain")
		c.Flash("User deleted, but some of their screenshots could not be removed.", models.FlashNotice)
	default:
		return err
	}

	h.env.Metrics.UsersDeleted.Inc()
	return c.Redirect(usersPage)
}
