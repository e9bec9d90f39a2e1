// Package lifecycle defines the Module capability contract every loaded
// instance implements, plus the timeout wrapper used by teardown.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/nmxmxh/adc/internal/kernelerr"
)

// Role is the kind of module an instance plays.
type Role string

const (
	RoleProvider Role = "provider"
	RoleUtility  Role = "utility"
	RoleService  Role = "service"
)

// Token is the kernel's opaque privileged capability token. It is
// compared by identity (pointer equality of the underlying *tokenValue),
// never by value, so a forged token with the same contents never
// compares equal. External callers receive a Token handle but cannot
// construct one themselves; only kernel.New mints the real one.
type Token struct{ v *tokenValue }

type tokenValue struct{ id string }

// NewToken mints a fresh, process-unique token. Outside tests, only
// internal/kernel calls this.
func NewToken(id string) Token { return Token{v: &tokenValue{id: id}} }

// Valid reports whether t is a non-zero token.
func (t Token) Valid() bool { return t.v != nil }

// Equal compares tokens by identity.
func (t Token) Equal(other Token) bool { return t.v == other.v }

// Module is the capability contract every loaded instance (provider,
// utility, or service) implements.
type Module interface {
	Name() string
	Role() Role
	Type() string

	// SetPrivilegedKey sets the kernel's token exactly once. A second
	// call fails with kernelerr.ErrKeyAlreadySet.
	SetPrivilegedKey(token Token) error

	// Start is idempotent per instance: a second call after a
	// successful first call is a no-op.
	Start(ctx context.Context, token Token) error

	// Stop is idempotent; after it returns the instance is dead.
	Stop(ctx context.Context, token Token) error
}

// Base implements the bookkeeping shared by every concrete module:
// token storage, start/stop idempotence, and the guard that privileged
// calls require the kernel's real token. Concrete providers/utilities/
// services embed Base and implement their own business methods on top.
type Base struct {
	name string
	role Role
	typ  string

	mu      sync.Mutex
	token   Token
	started bool
	stopped bool
}

// NewBase constructs the embeddable lifecycle state for a module.
func NewBase(name string, role Role, typ string) Base {
	return Base{name: name, role: role, typ: typ}
}

func (b *Base) Name() string { return b.name }
func (b *Base) Role() Role   { return b.role }
func (b *Base) Type() string { return b.typ }

func (b *Base) SetPrivilegedKey(token Token) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.token.Valid() {
		return kernelerr.ErrKeyAlreadySet
	}
	b.token = token
	return nil
}

// Authorize is the single enforcement point privileged methods call at
// the top of their body.
func (b *Base) Authorize(token Token) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.token.Valid() || !b.token.Equal(token) {
		return kernelerr.ErrUnauthorized
	}
	return nil
}

// GuardStart reports whether Start's body should actually run: false
// means the caller should treat this as the idempotent no-op case.
// Returns an error only for an unauthorized token.
func (b *Base) GuardStart(token Token) (run bool, err error) {
	if err := b.Authorize(token); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return false, nil
	}
	b.started = true
	return true, nil
}

// GuardStop mirrors GuardStart for Stop.
func (b *Base) GuardStop(token Token) (run bool, err error) {
	if err := b.Authorize(token); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false, nil
	}
	b.stopped = true
	return true, nil
}

// WithTimeout races operation against a timer; on timeout it reports
// true and logs nothing itself (the caller decides how to label the
// abandonment).
func WithTimeout(ctx context.Context, ms time.Duration, operation func(ctx context.Context) error) (timedOut bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, ms)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- operation(ctx) }()

	select {
	case err := <-done:
		return false, err
	case <-ctx.Done():
		return true, ctx.Err()
	}
}
