package router

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aljoscha/shot-o-matic/internal/http/handlers"
	"github.com/aljoscha/shot-o-matic/internal/http/middleware"
	"github.com/aljoscha/shot-o-matic/internal/namespace"
)

type Options struct {
	Spaces         *namespace.Manager
	FeedLimit      int
	ThumbSize      int
	ThumbMaxPixels int
}

// Setup builds the route table. Fixed top-level paths are registered before
// the /{user} routes so they win; user names that would collide with them are
// rejected by the credential store.
func Setup(env *handlers.Env, opts Options) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(env.Metrics))

	authHandler := handlers.NewAuthHandler(env)
	adminHandler := handlers.NewAdminHandler(env)
	fileHandler := handlers.NewFileHandler(env, opts.Spaces, opts.ThumbSize, opts.ThumbMaxPixels)
	feedHandler := handlers.NewFeedHandler(opts.Spaces, opts.FeedLimit)

	admin := func(h handlers.HandlerFunc) http.Handler {
		return env.Handle(env.RequireLogin("", env.RequireAdmin("", h)))
	}

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	}).Methods("GET")
	r.Handle("/metrics", env.Metrics.Handler()).Methods("GET")

	r.Handle("/", env.Handle(feedHandler.Index)).Methods("GET")

	r.Handle("/login", env.Handle(authHandler.Login)).Methods("GET", "POST")
	r.Handle("/logout", env.Handle(authHandler.Logout)).Methods("GET")

	r.Handle("/upload", env.Handle(env.RequireLogin(
		"You need to be logged in in order to upload screenshots.", fileHandler.Upload))).Methods("GET", "POST")

	r.Handle("/users", admin(adminHandler.ListUsers)).Methods("GET")
	r.Handle("/users/add", admin(adminHandler.AddUser)).Methods("POST")
	r.Handle("/users/delete/{name}", admin(adminHandler.DeleteUser)).Methods("GET", "POST")

	r.Handle("/{user}", env.Handle(feedHandler.User)).Methods("GET")
	r.Handle("/{user}/shot/{shot}", env.Handle(fileHandler.Shot)).Methods("GET", "HEAD")
	r.Handle("/{user}/thumb/{shot}", env.Handle(fileHandler.Thumb)).Methods("GET")
	r.Handle("/{user}/delete/{shot}", env.Handle(env.RequireLogin(
		"You need to be logged in in order to delete screenshots.", fileHandler.Delete))).Methods("GET")

	return middleware.Logging(middleware.Headers(r))
}
