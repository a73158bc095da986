package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/aljoscha/shot-o-matic/internal/accounts"
	"github.com/aljoscha/shot-o-matic/internal/metrics"
	"github.com/aljoscha/shot-o-matic/internal/models"
	"github.com/aljoscha/shot-o-matic/internal/namespace"
	"github.com/aljoscha/shot-o-matic/internal/security"
	"github.com/aljoscha/shot-o-matic/internal/testutil"
)

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	database := testutil.NewTestDatabase(t)
	spaces, err := namespace.New(t.TempDir(), []string{"png"})
	if err != nil {
		t.Fatalf("namespace.New() error = %v", err)
	}
	sessions, err := security.NewSessionStore(security.SessionOptions{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		MaxAge: 3600,
	})
	if err != nil {
		t.Fatalf("NewSessionStore() error = %v", err)
	}
	return &Env{
		DB:             database,
		Sessions:       sessions,
		Accounts:       accounts.New(database, spaces, security.NewHasher(bcrypt.MinCost)),
		Metrics:        metrics.New(),
		MaxUploadBytes: 1 << 20,
	}
}

func createUser(t *testing.T, env *Env, name, password string, admin bool) {
	t.Helper()
	if _, err := env.Accounts.Create(context.Background(), name, password, admin); err != nil {
		t.Fatalf("Create(%s) error = %v", name, err)
	}
}

// loggedIn returns cookies for a session whose user is name.
func loggedIn(t *testing.T, env *Env, name string) []*http.Cookie {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	sess := env.Sessions.Load(r)
	sess.SetUser(name)
	rec := httptest.NewRecorder()
	if err := sess.Save(r, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return rec.Result().Cookies()
}

// flashesFrom loads the session carried by the response cookies and pops its
// flash messages.
func flashesFrom(t *testing.T, env *Env, rec *httptest.ResponseRecorder) []models.Flash {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return env.Sessions.Load(r).Flashes()
}

func multipartBody(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

// whoami reports the user each request ran as.
func whoami(c *Context) error {
	name := ""
	if c.User != nil {
		name = c.User.Name
	}
	return c.Render(http.StatusOK, map[string]string{"whoami": name})
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var p map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return p
}

func TestRequireLogin_RedirectsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	h := env.Handle(env.RequireLogin("Log in first.", whoami))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upload", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/login?next=/upload" {
		t.Errorf("Location = %q, want /login?next=/upload", got)
	}
	flashes := flashesFrom(t, env, rec)
	if len(flashes) != 1 || flashes[0].Text != "Log in first." || flashes[0].Category != models.FlashNotice {
		t.Errorf("flashes = %v", flashes)
	}
}

func TestRequireLogin_SessionUser(t *testing.T) {
	env := newTestEnv(t)
	createUser(t, env, "alice", "secret", false)
	h := env.Handle(env.RequireLogin("", whoami))

	r := httptest.NewRequest(http.MethodGet, "/upload", nil)
	for _, c := range loggedIn(t, env, "alice") {
		r.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	p := decodePage(t, rec)
	if p["data"].(map[string]any)["whoami"] != "alice" {
		t.Errorf("handler ran as %v, want alice", p["data"])
	}
}

func TestRequireLogin_FormCredentials(t *testing.T) {
	env := newTestEnv(t)
	createUser(t, env, "alice", "secret", false)
	h := env.Handle(env.RequireLogin("", whoami))

	t.Run("valid credentials authenticate the request only", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"username": "alice", "password": "secret"})
		r := httptest.NewRequest(http.MethodPost, "/upload", body)
		r.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if p := decodePage(t, rec); p["data"].(map[string]any)["whoami"] != "alice" {
			t.Errorf("handler ran as %v, want alice", p["data"])
		}
		if cookies := rec.Result().Cookies(); len(cookies) != 0 {
			t.Errorf("credentials shortcut set cookies %v, want none", cookies)
		}
	})

	t.Run("url-encoded form works too", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("username=alice&password=secret"))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("wrong password falls through to the redirect", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"username": "alice", "password": "nope"})
		r := httptest.NewRequest(http.MethodPost, "/upload", body)
		r.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)

		if rec.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302", rec.Code)
		}
		if got := rec.Header().Get("Location"); got != "/login?next=/upload" {
			t.Errorf("Location = %q", got)
		}
	})

	t.Run("GET ignores query credentials", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upload?username=alice&password=secret", nil))
		if rec.Code != http.StatusFound {
			t.Errorf("status = %d, want 302", rec.Code)
		}
	})
}

func TestRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	createUser(t, env, "root", "secret", true)
	createUser(t, env, "bob", "secret", false)
	h := env.Handle(env.RequireLogin("", env.RequireAdmin("Admins only.", whoami)))

	tests := []struct {
		name       string
		user       string
		wantStatus int
		wantLoc    string
	}{
		{"anonymous goes to login first", "", http.StatusFound, "/login?next=/users"},
		{"non-admin goes home", "bob", http.StatusFound, "/"},
		{"admin passes", "root", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/users", nil)
			if tt.user != "" {
				for _, c := range loggedIn(t, env, tt.user) {
					r.AddCookie(c)
				}
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Location"); got != tt.wantLoc {
				t.Errorf("Location = %q, want %q", got, tt.wantLoc)
			}
			if tt.user == "bob" {
				flashes := flashesFrom(t, env, rec)
				if len(flashes) != 1 || flashes[0].Text != "Admins only." {
					t.Errorf("flashes = %v", flashes)
				}
			}
		})
	}
}

func TestHandle_DeletedUserIsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	h := env.Handle(whoami)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range loggedIn(t, env, "ghost") {
		r.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if p := decodePage(t, rec); p["user"] != nil {
		t.Errorf("user = %v, want null", p["user"])
	}
}

func TestHandle_UserFacingErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		err     error
		wantLoc string
		want    string
	}{
		{"explicit message", flashRedirect("/users", "User does not exist.", models.ErrNotFound), "/users", "User does not exist."},
		{"bare sentinel", fmt.Errorf("lookup: %w", models.ErrNotFound), "/", "Does not exist."},
		{"too large", &http.MaxBytesError{Limit: 10}, "/", "Upload exceeds the limit of 10 bytes."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := env.Handle(func(*Context) error { return tt.err })
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

			if rec.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", rec.Code)
			}
			if got := rec.Header().Get("Location"); got != tt.wantLoc {
				t.Errorf("Location = %q, want %q", got, tt.wantLoc)
			}
			flashes := flashesFrom(t, env, rec)
			if len(flashes) != 1 || flashes[0].Text != tt.want || flashes[0].Category != models.FlashError {
				t.Errorf("flashes = %v, want %q", flashes, tt.want)
			}
		})
	}
}

func TestHandle_InternalErrors(t *testing.T) {
	env := newTestEnv(t)

	for name, h := range map[string]HandlerFunc{
		"error": func(*Context) error { return errors.New("disk on fire") },
		"panic": func(*Context) error { panic("boom") },
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.Handle(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			p := decodePage(t, rec)
			if p["error"] != "internal server error" {
				t.Errorf("error = %v", p["error"])
			}
			if strings.Contains(rec.Body.String(), "disk on fire") {
				t.Error("internal error leaked to the client")
			}
		})
	}
}

func TestHandle_ReleasesConnection(t *testing.T) {
	env := newTestEnv(t)
	env.DB.SetMaxOpenConns(1)
	h := env.Handle(func(*Context) error { panic("boom") })

	// With a single connection a leak would block the second request forever.
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if stats := env.DB.Stats(); stats.InUse != 0 {
		t.Errorf("connections in use = %d, want 0", stats.InUse)
	}
}

func TestHandle_SessionSavedBeforeBody(t *testing.T) {
	env := newTestEnv(t)
	h := env.Handle(func(c *Context) error {
		c.Flash("queued", models.FlashNotice)
		_, err := c.W.Write([]byte("streamed"))
		return err
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(rec.Result().Cookies()) == 0 {
		t.Fatal("session cookie missing although the handler wrote a body")
	}
	if flashes := flashesFrom(t, env, rec); len(flashes) != 1 {
		t.Errorf("flashes = %v, want the queued one", flashes)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.MaxUploadBytes = 512
	createUser(t, env, "alice", "secret", false)
	spaces, err := namespace.New(t.TempDir(), []string{"png"})
	if err != nil {
		t.Fatal(err)
	}
	files := NewFileHandler(env, spaces, 64, 0)
	h := env.Handle(env.RequireLogin("", files.Upload))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(FormField, "big.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(bytes.Repeat([]byte("a"), 4096)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	for _, c := range loggedIn(t, env, "alice") {
		r.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	flashes := flashesFrom(t, env, rec)
	if len(flashes) != 1 || flashes[0].Text != "Upload exceeds the limit of 512 bytes." {
		t.Errorf("flashes = %v", flashes)
	}
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                     "/",
		"/upload":              "/upload",
		"/alice?all=1":         "/alice?all=1",
		"//evil.example":       "/",
		"/\\evil.example":      "/",
		"https://evil.example": "/",
		"upload":               "/",
	}
	for in, want := range tests {
		if got := safeNext(in); got != want {
			t.Errorf("safeNext(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEscapeNext(t *testing.T) {
	if got := escapeNext("/upload"); got != "/upload" {
		t.Errorf("escapeNext(/upload) = %q", got)
	}
	if got := escapeNext("/alice?all=1"); got != "/alice%3Fall%3D1" {
		t.Errorf("escapeNext(/alice?all=1) = %q", got)
	}
}

func TestShowAll(t *testing.T) {
	tests := map[string]bool{
		"/":          false,
		"/?all=1":    true,
		"/?all":      true,
		"/?all=true": true,
		"/?all=0":    false,
		"/?all=yes":  true,
	}
	for target, want := range tests {
		if got := showAll(httptest.NewRequest(http.MethodGet, target, nil)); got != want {
			t.Errorf("showAll(%q) = %v, want %v", target, got, want)
		}
	}
}

func TestCheckbox(t *testing.T) {
	for v, want := range map[string]bool{"on": true, "1": true, "true": true, "": false, "off": false} {
		if got := checkbox(v); got != want {
			t.Errorf("checkbox(%q) = %v, want %v", v, got, want)
		}
	}
}
