// Package jwtsigner is an example native, stateful provider: an HS256
// token signer. It demonstrates the Module capability contract end to
// end (SetPrivilegedKey/Start/Stop) plus a provider's own business
// methods, Sign and Verify.
package jwtsigner

import (
	"context"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/nmxmxh/adc/internal/kernelerr"
	"github.com/nmxmxh/adc/internal/lifecycle"
	"github.com/nmxmxh/adc/internal/loaders"
	"github.com/nmxmxh/adc/internal/orchestrator"
)

func init() {
	loaders.RegisterNative("jwtsigner", New)
}

// Options is the provider's typed configuration, decoded from the
// enriched instance config via orchestrator.DecodeConfig.
type Options struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// Provider signs and verifies HS256 JWTs using a configured secret.
type Provider struct {
	lifecycle.Base
	opts Options
}

// New is the registered native factory for this module.
func New(cfg loaders.InstanceConfig) (lifecycle.Module, error) {
	var opts Options
	if err := orchestrator.DecodeConfig(cfg.Config, &opts); err != nil {
		return nil, fmt.Errorf("jwtsigner: decode config: %w", err)
	}
	if opts.Secret == "" {
		return nil, fmt.Errorf("jwtsigner: %q requires a non-empty secret", cfg.ModuleName)
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	return &Provider{
		Base: lifecycle.NewBase(cfg.ModuleName, lifecycle.RoleProvider, cfg.Type),
		opts: opts,
	}, nil
}

// Start is a no-op beyond idempotence bookkeeping: the provider holds no
// external connection to open.
func (p *Provider) Start(ctx context.Context, token lifecycle.Token) error {
	run, err := p.Base.GuardStart(token)
	if err != nil || !run {
		return err
	}
	return nil
}

// Stop is likewise a no-op beyond idempotence bookkeeping.
func (p *Provider) Stop(ctx context.Context, token lifecycle.Token) error {
	run, err := p.Base.GuardStop(token)
	if err != nil || !run {
		return err
	}
	return nil
}

// Sign issues a signed token for the given claims, honoring the
// provider's configured TTL.
func (p *Provider) Sign(claims map[string]interface{}) (string, error) {
	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	mc["exp"] = time.Now().Add(p.opts.TTL).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	return token.SignedString([]byte(p.opts.Secret))
}

// Verify parses and validates a signed token, returning its claims.
func (p *Provider) Verify(signed string) (map[string]interface{}, error) {
	parsed, err := jwt.Parse(signed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("jwtsigner: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(p.opts.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, kernelerr.ErrUnauthorized
	}
	return map[string]interface{}(claims), nil
}
