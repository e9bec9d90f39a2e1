// Package idgen is an example native, stateless utility: a small
// uuid-based id generator demonstrating single-instance utility
// semantics (the same uniqueKey always resolves to the same handle,
// regardless of how many services depend on it).
package idgen

import (
	"context"

	"github.com/google/uuid"

	"github.com/nmxmxh/adc/internal/lifecycle"
	"github.com/nmxmxh/adc/internal/loaders"
)

func init() {
	loaders.RegisterNative("idgen", New)
}

// Utility generates random and time-ordered identifiers. It holds no
// mutable state.
type Utility struct {
	lifecycle.Base
}

// New is the registered native factory for this module.
func New(cfg loaders.InstanceConfig) (lifecycle.Module, error) {
	return &Utility{Base: lifecycle.NewBase(cfg.ModuleName, lifecycle.RoleUtility, cfg.Type)}, nil
}

func (u *Utility) Start(ctx context.Context, token lifecycle.Token) error {
	run, err := u.Base.GuardStart(token)
	if err != nil || !run {
		return err
	}
	return nil
}

func (u *Utility) Stop(ctx context.Context, token lifecycle.Token) error {
	run, err := u.Base.GuardStop(token)
	if err != nil || !run {
		return err
	}
	return nil
}

// NewID returns a random v4 identifier.
func (u *Utility) NewID() string { return uuid.NewString() }

// NewOrdered returns a v7 time-ordered identifier, useful for ids that
// should sort by creation time.
func (u *Utility) NewOrdered() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
