// Package accounts is the credential store: user records in the relational
// database plus the namespace directory each user owns.
//
// Create and Delete are serialized and keep record and directory in step: a
// user record only becomes visible after its namespace exists, and a deleted
// user's namespace disappears before the record does.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aljoscha/shot-o-matic/internal/db"
	"github.com/aljoscha/shot-o-matic/internal/models"
	"github.com/aljoscha/shot-o-matic/internal/namespace"
	"github.com/aljoscha/shot-o-matic/internal/security"
)

// reservedNames collide with top-level routes and cannot be user names.
var reservedNames = map[string]struct{}{
	"upload":  {},
	"users":   {},
	"login":   {},
	"logout":  {},
	"metrics": {},
	"healthz": {},
	"static":  {},
}

const maxNameLen = 64

// Clock abstracts time retrieval so records are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

type Store struct {
	db     db.DBTX
	driver string
	spaces *namespace.Manager
	hasher security.Hasher
	clock  Clock

	// mu serializes Create and Delete across every copy made by WithConn.
	mu *sync.Mutex
}

func New(database *db.DB, spaces *namespace.Manager, hasher security.Hasher) *Store {
	return &Store{
		db:     database.DB,
		driver: database.Driver,
		spaces: spaces,
		hasher: hasher,
		clock:  RealClock{},
		mu:     &sync.Mutex{},
	}
}

// WithClock replaces the clock used for created_at.
func (s *Store) WithClock(c Clock) *Store {
	cp := *s
	cp.clock = c
	return &cp
}

// WithConn returns a view of s that runs every statement on conn. Used to
// scope database access to a single request.
func (s *Store) WithConn(conn db.DBTX) *Store {
	cp := *s
	cp.db = conn
	return &cp
}

func (s *Store) q(query string) string { return db.Rebind(s.driver, query) }

// ValidateName checks that name can serve as both a record key and a
// namespace directory.
func ValidateName(name string) (string, error) {
	clean, err := namespace.Sanitize(name)
	if err != nil {
		return "", err
	}
	if len(clean) > maxNameLen {
		return "", fmt.Errorf("%w: user name longer than %d bytes", models.ErrInvalidName, maxNameLen)
	}
	if _, ok := reservedNames[clean]; ok {
		return "", fmt.Errorf("%w: %q is reserved", models.ErrInvalidName, clean)
	}
	return clean, nil
}

const userColumns = `name, password_hash, is_admin, namespace, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.Name, &u.PasswordHash, &u.IsAdmin, &u.Namespace, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Lookup returns the user with exactly this name.
// Returns (nil, nil) when no user is found.
func (s *Store) Lookup(ctx context.Context, name string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE name = ?`), name)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up user %q: %w", name, err)
	}
	return user, nil
}

// List returns every user ordered by name.
func (s *Store) List(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// Create inserts a user and its namespace directory. Nothing is committed if
// the directory cannot be created.
func (s *Store) Create(ctx context.Context, name, password string, isAdmin bool) (*models.User, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}
	if !security.ValidatePassword(password) {
		return nil, fmt.Errorf("create user %q: %w", name, models.ErrInvalidPassword)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("create user %q: %w", name, models.ErrDuplicateUser)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &models.User{
		Name:         name,
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		Namespace:    name,
		CreatedAt:    s.clock.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		s.q(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?)`),
		user.Name, user.PasswordHash, user.IsAdmin, user.Namespace, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting user %q: %w", name, err)
	}

	if _, err := s.spaces.Create(user.Namespace); err != nil {
		return nil, fmt.Errorf("creating namespace for %q: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		if tomb, detachErr := s.spaces.Detach(user.Namespace); detachErr == nil {
			_ = s.spaces.Purge(tomb)
		}
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("user", name).Bool("admin", isAdmin).Msg("user created")
	return user, nil
}

// Delete removes the user's namespace and then the record. A missing user
// reports models.ErrNotFound and changes nothing.
//
// If the namespace cannot be removed the record is deleted anyway and the
// returned error is a *models.StorageError; callers treat that as a
// completed delete with a warning.
func (s *Store) Delete(ctx context.Context, name string) error {
	logger := zerolog.Ctx(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.Lookup(ctx, name)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("delete user %q: %w", name, models.ErrNotFound)
	}

	tomb, detachErr := s.spaces.Detach(user.Namespace)
	if detachErr != nil {
		logger.Error().Err(detachErr).Str("user", name).Msg("could not detach namespace, deleting record anyway")
	}

	if err := s.deleteRecord(ctx, name); err != nil {
		if reErr := s.spaces.Reattach(tomb, user.Namespace); reErr != nil {
			logger.Error().Err(reErr).Str("user", name).Str("tombstone", tomb).Msg("could not restore namespace")
		}
		return err
	}

	if err := s.spaces.Purge(tomb); err != nil {
		logger.Error().Err(err).Str("user", name).Msg("could not purge namespace")
		return fmt.Errorf("delete user %q: %w", name, err)
	}
	if detachErr != nil {
		return fmt.Errorf("delete user %q: %w", name, detachErr)
	}

	logger.Info().Str("user", name).Msg("user deleted")
	return nil
}

func (s *Store) deleteRecord(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM users WHERE name = ?`), name)
	if err != nil {
		return fmt.Errorf("deleting user %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete user %q: %w", name, models.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// VerifyCredentials returns the user only if password matches. Unknown users
// and wrong passwords both yield models.ErrInvalidCredentials.
func (s *Store) VerifyCredentials(ctx context.Context, name, password string) (*models.User, error) {
	user, err := s.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.hasher.CompareDummy(password)
		zerolog.Ctx(ctx).Debug().Str("user", name).Msg("credential check for unknown user")
		return nil, fmt.Errorf("authenticate user %q: %w", name, models.ErrInvalidCredentials)
	}
	if !s.hasher.Compare(user.PasswordHash, password) {
		zerolog.Ctx(ctx).Debug().Str("user", name).Msg("credential check with wrong password")
		return nil, fmt.Errorf("authenticate user %q: %w", name, models.ErrInvalidCredentials)
	}
	return user, nil
}

// Bootstrap creates an admin account when no users exist yet. It reports
// whether an account was created.
func (s *Store) Bootstrap(ctx context.Context, name, password string) (bool, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if _, err := s.Create(ctx, name, password, true); err != nil {
		return false, fmt.Errorf("bootstrapping admin %q: %w", name, err)
	}
	return true, nil
}
