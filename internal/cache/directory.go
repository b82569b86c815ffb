package cache

import (
	"context"
	"time"

	"coinvest/internal/core"
	"coinvest/internal/ports"
)

var _ ports.UserDirectory = (*Directory)(nil)

// Directory caches user lookups in front of a UserDirectory. Misses are not
// cached, so a user created after a failed lookup is found on the next call.
type Directory struct {
	next   ports.UserDirectory
	users  *LRUCache[core.User]
	byRole *LRUCache[[]core.User]
}

func NewDirectory(next ports.UserDirectory, size int, ttl time.Duration) *Directory {
	return &Directory{
		next:   next,
		users:  NewLRUCache[core.User](size, ttl),
		byRole: NewLRUCache[[]core.User](8, ttl),
	}
}

func (d *Directory) FindUser(ctx context.Context, id string) (core.User, error) {
	if u, ok := d.users.Get(id); ok {
		return u, nil
	}
	u, err := d.next.FindUser(ctx, id)
	if err != nil {
		return core.User{}, err
	}
	d.users.Set(id, u)
	return u, nil
}

func (d *Directory) ListUsersByRole(ctx context.Context, role core.AccountRole) ([]core.User, error) {
	if us, ok := d.byRole.Get(string(role)); ok {
		return append([]core.User(nil), us...), nil
	}
	us, err := d.next.ListUsersByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	d.byRole.Set(string(role), us)
	return append([]core.User(nil), us...), nil
}

// Cleaners exposes the underlying caches for a Manager.
func (d *Directory) Cleaners() []Cleaner {
	return []Cleaner{d.users, d.byRole}
}

func (d *Directory) Stats() Stats {
	return d.users.Stats()
}
