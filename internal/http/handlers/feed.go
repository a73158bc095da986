package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aljoscha/shot-o-matic/internal/feed"
	"github.com/aljoscha/shot-o-matic/internal/models"
	"github.com/aljoscha/shot-o-matic/internal/namespace"
)

type FeedHandler struct {
	spaces *namespace.Manager
	limit  int
}

func NewFeedHandler(spaces *namespace.Manager, limit int) *FeedHandler {
	if limit <= 0 {
		limit = feed.DefaultLimit
	}
	return &FeedHandler{spaces: spaces, limit: limit}
}

type shotView struct {
	Owner    string `json:"owner"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Thumb    string `json:"thumb"`
}

func newShotView(s models.Screenshot) shotView {
	base := "/" + url.PathEscape(s.Owner)
	file := url.PathEscape(s.Filename)
	return shotView{
		Owner:    s.Owner,
		Filename: s.Filename,
		URL:      base + "/shot/" + file,
		Thumb:    base + "/thumb/" + file,
	}
}

type feedPage struct {
	Owner       string     `json:"owner,omitempty"`
	All         bool       `json:"all"`
	Screenshots []shotView `json:"screenshots"`
}

// showAll reports whether the query asks for the untruncated feed. Any
// "all" parameter counts except an explicit false value.
func showAll(r *http.Request) bool {
	v, ok := r.URL.Query()["all"]
	if !ok {
		return false
	}
	if len(v) == 0 || v[0] == "" {
		return true
	}
	b, err := strconv.ParseBool(v[0])
	return err != nil || b
}

func (h *FeedHandler) limitFor(r *http.Request) int {
	if showAll(r) {
		return feed.Unlimited
	}
	return h.limit
}

func render(c *Context, p feedPage, shots []models.Screenshot) error {
	p.Screenshots = make([]shotView, 0, len(shots))
	for _, s := range shots {
		p.Screenshots = append(p.Screenshots, newShotView(s))
	}
	return c.Render(http.StatusOK, p)
}

// Index lists the newest screenshots of every user.
func (h *FeedHandler) Index(c *Context) error {
	b := feed.NewBuilder(c.Users, h.spaces)
	shots, err := b.ListAll(c.R.Context(), h.limitFor(c.R))
	if err != nil {
		return err
	}
	return render(c, feedPage{All: showAll(c.R)}, shots)
}

// User lists the newest screenshots of the user named in the path.
func (h *FeedHandler) User(c *Context) error {
	name := c.Vars()["user"]
	b := feed.NewBuilder(c.Users, h.spaces)
	shots, err := b.ListOwner(c.R.Context(), name, h.limitFor(c.R))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return flashRedirect("/", fmt.Sprintf("User '%s' does not exist.", name), err)
		}
		return err
	}
	return render(c, feedPage{Owner: name, All: showAll(c.R)}, shots)
}
