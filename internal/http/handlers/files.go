package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aljoscha/shot-o-matic/internal/models"
	"github.com/aljoscha/shot-o-matic/internal/namespace"
	"github.com/aljoscha/shot-o-matic/internal/thumb"
)

// FormField is the multipart field an upload is read from.
const FormField = "screenshot"

type FileHandler struct {
	env            *Env
	spaces         *namespace.Manager
	thumbSize      int
	thumbMaxPixels int
}

// NewFileHandler serves thumbnails whose longer side is thumbSize. Sources
// above thumbMaxPixels pixels are refused; zero means thumb.DefaultMaxPixels.
func NewFileHandler(env *Env, spaces *namespace.Manager, thumbSize, thumbMaxPixels int) *FileHandler {
	return &FileHandler{
		env:            env,
		spaces:         spaces,
		thumbSize:      thumbSize,
		thumbMaxPixels: thumbMaxPixels,
	}
}

type uploadForm struct {
	Field          string   `json:"field"`
	Extensions     []string `json:"extensions"`
	MaxUploadBytes int64    `json:"max_upload_bytes"`
}

// Upload renders the upload form on GET and stores the submitted file in
// the current user's namespace on POST. A second upload under the same
// filename replaces the first.
func (h *FileHandler) Upload(c *Context) error {
	form := uploadForm{
		Field:          FormField,
		Extensions:     h.spaces.Extensions(),
		MaxUploadBytes: h.env.MaxUploadBytes,
	}
	if c.R.Method != http.MethodPost {
		return c.Render(http.StatusOK, form)
	}

	if err := h.env.parseForm(c); err != nil {
		return err
	}
	file, header, err := c.R.FormFile(FormField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return flashRedirect("/upload", "No screenshot selected.", err)
		}
		return err
	}
	defer file.Close()

	if !h.spaces.AllowedExtension(header.Filename) {
		return flashRedirect("/upload", "Uploads of this filetype not allowed.", models.ErrExtensionNotAllowed)
	}

	name, n, err := h.spaces.Store(c.User.Namespace, header.Filename, file)
	if err != nil {
		var storageErr *models.StorageError
		switch {
		case errors.Is(err, models.ErrInvalidName):
			return flashRedirect("/upload", fmt.Sprintf("'%s' is not a valid filename.", header.Filename), err)
		case errors.As(err, &storageErr):
			c.Log.Error().Err(err).Msg("cannot store screenshot")
			return flashRedirect("/upload", "Screenshot could not be stored right now. Please try again.", err)
		}
		return err
	}

	h.env.Metrics.Uploads.Inc()
	h.env.Metrics.UploadBytes.Add(float64(n))
	c.Log.Info().Str("screenshot", name).Int64("bytes", n).Msg("screenshot stored")
	c.Flash("Screenshot uploaded.", models.FlashSuccess)
	return c.Redirect("/")
}

// owner resolves the {user} path variable to a record.
func owner(c *Context) (*models.User, error) {
	name := c.Vars()["user"]
	u, err := c.Users.Lookup(c.R.Context(), name)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %q: %w", name, models.ErrNotFound)
	}
	return u, nil
}

func missingShot(user, shot string, err error) error {
	return flashRedirect("/", fmt.Sprintf("Screenshot '%s/%s' does not exist.", user, shot), err)
}

// Shot serves the raw bytes of a screenshot. Range and conditional requests
// are handled by http.ServeContent.
func (h *FileHandler) Shot(c *Context) error {
	vars := c.Vars()
	u, err := owner(c)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return missingShot(vars["user"], vars["shot"], err)
		}
		return err
	}

	f, st, err := h.spaces.Open(u.Namespace, vars["shot"])
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidName) {
			return missingShot(u.Name, vars["shot"], err)
		}
		return err
	}
	defer f.Close()

	http.ServeContent(c.W, c.R, st.Name(), st.ModTime(), f)
	return nil
}

// Thumb serves a JPEG preview no larger than the configured thumbnail size.
func (h *FileHandler) Thumb(c *Context) error {
	vars := c.Vars()
	u, err := owner(c)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return missingShot(vars["user"], vars["shot"], err)
		}
		return err
	}

	f, _, err := h.spaces.Open(u.Namespace, vars["shot"])
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidName) {
			return missingShot(u.Name, vars["shot"], err)
		}
		return err
	}
	defer f.Close()

	b, err := thumb.Render(f, h.thumbSize, h.thumbMaxPixels)
	if err != nil {
		c.Log.Warn().Err(err).Str("screenshot", vars["shot"]).Msg("cannot render thumbnail")
		if errors.Is(err, thumb.ErrImageTooLarge) {
			return c.RenderError(http.StatusUnsupportedMediaType, "image is too large for a thumbnail")
		}
		return c.RenderError(http.StatusUnsupportedMediaType, "cannot render a thumbnail for this file")
	}

	c.W.Header().Set("Content-Type", thumb.ContentType)
	c.W.Header().Set("Cache-Control", "public, max-age=3600")
	_, err = c.W.Write(b)
	return err
}

// Delete removes a screenshot. Users may only delete their own; admins may
// delete anyone's.
func (h *FileHandler) Delete(c *Context) error {
	vars := c.Vars()
	u, err := owner(c)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return missingShot(vars["user"], vars["shot"], err)
		}
		return err
	}
	if u.Name != c.User.Name && !c.User.IsAdmin {
		return flashRedirect("/", "You can only delete your own screenshots.", nil)
	}

	if err := h.spaces.Remove(u.Namespace, vars["shot"]); err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidName) {
			return missingShot(u.Name, vars["shot"], err)
		}
		return err
	}

	c.Log.Info().Str("owner", u.Name).Str("screenshot", vars["shot"]).Msg("screenshot removed")
	c.Flash("Screenshot removed.", models.FlashSuccess)
	return c.Redirect("/")
}
