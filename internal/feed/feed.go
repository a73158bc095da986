// Package feed builds the screenshot listings shown on the front page and on
// each user's page.
package feed

import (
	"context"
	"fmt"
	"sort"

	"github.com/aljoscha/shot-o-matic/internal/models"
	"github.com/aljoscha/shot-o-matic/internal/namespace"
)

const (
	// DefaultLimit is the size of a feed unless the caller asks for all.
	DefaultLimit = 10

	// Unlimited disables truncation.
	Unlimited = -1
)

// Users is the part of the credential store the feed reads from.
type Users interface {
	List(ctx context.Context) ([]models.User, error)
	Lookup(ctx context.Context, name string) (*models.User, error)
}

type Builder struct {
	users  Users
	spaces *namespace.Manager
}

func NewBuilder(users Users, spaces *namespace.Manager) *Builder {
	return &Builder{users: users, spaces: spaces}
}

// ListAll returns screenshots from every namespace, newest filename first,
// truncated to limit unless limit is Unlimited.
func (b *Builder) ListAll(ctx context.Context, limit int) ([]models.Screenshot, error) {
	users, err := b.users.List(ctx)
	if err != nil {
		return nil, err
	}

	var shots []models.Screenshot
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		names, err := b.spaces.List(u.Namespace)
		if err != nil {
			return nil, fmt.Errorf("listing screenshots of %q: %w", u.Name, err)
		}
		for _, name := range names {
			shots = append(shots, models.Screenshot{Owner: u.Name, Filename: name})
		}
	}
	return Top(shots, limit), nil
}

// ListOwner is ListAll restricted to a single user. An unknown user yields
// models.ErrNotFound.
func (b *Builder) ListOwner(ctx context.Context, owner string, limit int) ([]models.Screenshot, error) {
	u, err := b.users.Lookup(ctx, owner)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %q: %w", owner, models.ErrNotFound)
	}

	names, err := b.spaces.List(u.Namespace)
	if err != nil {
		return nil, fmt.Errorf("listing screenshots of %q: %w", u.Name, err)
	}
	shots := make([]models.Screenshot, 0, len(names))
	for _, name := range names {
		shots = append(shots, models.Screenshot{Owner: u.Name, Filename: name})
	}
	return Top(shots, limit), nil
}

// Top sorts shots by filename descending and keeps the first limit entries.
// Only the filename takes part in the ordering; ties keep their input order.
func Top(shots []models.Screenshot, limit int) []models.Screenshot {
	sort.SliceStable(shots, func(i, j int) bool {
		return shots[i].Filename > shots[j].Filename
	})
	if limit >= 0 && len(shots) > limit {
		shots = shots[:limit]
	}
	return shots
}
