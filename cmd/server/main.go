package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/aljoscha/shot-o-matic/internal/accounts"
	"github.com/aljoscha/shot-o-matic/internal/config"
	"github.com/aljoscha/shot-o-matic/internal/db"
	"github.com/aljoscha/shot-o-matic/internal/logging"
	"github.com/aljoscha/shot-o-matic/internal/namespace"
	"github.com/aljoscha/shot-o-matic/internal/security"
)

const defaultConfigPath = "config/app.yaml"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:          "shotomatic",
	Short:        "Multi-user screenshot host",
	SilenceUsage: true,
}

// loadConfig resolves the configuration: .env first, then the config file
// (a missing file means defaults), then environment overrides.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	path := configPath
	if path == "" {
		path = os.Getenv("SHOTOMATIC_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}
	cfg.ApplyEnv()

	if err := logging.Setup(cfg.LogLevel, cfg.LogPretty); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log.Debug().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// app bundles the stores every command works with.
type app struct {
	cfg      *config.Config
	db       *db.DB
	spaces   *namespace.Manager
	accounts *accounts.Store
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	database, err := db.Init(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	spaces, err := namespace.New(cfg.ScreenshotsDir, cfg.AllowedExtensions)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("initializing screenshots directory: %w", err)
	}

	return &app{
		cfg:      cfg,
		db:       database,
		spaces:   spaces,
		accounts: accounts.New(database, spaces, security.NewHasher(bcrypt.DefaultCost)),
	}, nil
}

func (a *app) Close() error { return a.db.Close() }

// context returns a background context carrying the global logger, so the
// stores log through zerolog.Ctx outside of requests as well.
func (a *app) context() context.Context {
	return log.Logger.WithContext(context.Background())
}

// bootstrap creates the default admin on an empty user table.
func (a *app) bootstrap(ctx context.Context) error {
	created, err := a.accounts.Bootstrap(ctx, a.cfg.DefaultUsername, a.cfg.DefaultPassword)
	if err != nil {
		return err
	}
	if created {
		log.Warn().Str("user", a.cfg.DefaultUsername).Msg("created default admin account, change its password")
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (.yaml or .toml, default $SHOTOMATIC_CONFIG or "+defaultConfigPath+")")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initdbCmd)
	rootCmd.AddCommand(useraddCmd)
	useraddCmd.Flags().Bool("admin", false, "Grant admin rights")
	useraddCmd.Flags().StringP("password", "p", "", "Password (prompted when omitted)")
	rootCmd.AddCommand(userdelCmd)
	rootCmd.AddCommand(usersCmd)
}
