// Package echo is an example native service: it composes a provider
// (jwtsigner) and a utility (idgen), demonstrating service loading
// order and the kernel-injection contract for service constructors.
package echo

import (
	"context"
	"fmt"
	"time"

	"github.com/nmxmxh/adc/internal/lifecycle"
	"github.com/nmxmxh/adc/internal/loaders"
	"github.com/nmxmxh/adc/internal/orchestrator"
	"github.com/nmxmxh/adc/providers/jwtsigner"
	"github.com/nmxmxh/adc/utilities/idgen"
)

func init() {
	loaders.RegisterNative("echo", New)
}

// Options is echo's typed configuration.
type Options struct {
	SignerName string `mapstructure:"signerName"`
	IDGenName  string `mapstructure:"idGenName"`
}

// Service stamps every echoed message with a freshly generated id and
// a signed receipt, proving both dependencies are reachable through the
// kernel by the time the service starts handling calls.
type Service struct {
	lifecycle.Base
	kernel  loaders.KernelAccessor
	appName string
	opts    Options
}

// New is the registered native factory for this module.
func New(cfg loaders.InstanceConfig) (lifecycle.Module, error) {
	var opts Options
	if err := orchestrator.DecodeConfig(cfg.Config, &opts); err != nil {
		return nil, fmt.Errorf("echo: decode config: %w", err)
	}
	if opts.SignerName == "" {
		opts.SignerName = "jwtsigner"
	}
	if opts.IDGenName == "" {
		opts.IDGenName = "idgen"
	}
	if cfg.Kernel == nil {
		return nil, fmt.Errorf("echo: requires a kernel handle")
	}
	return &Service{
		Base:    lifecycle.NewBase(cfg.ModuleName, lifecycle.RoleService, cfg.Type),
		kernel:  cfg.Kernel,
		appName: cfg.AppName,
		opts:    opts,
	}, nil
}

func (s *Service) Start(ctx context.Context, token lifecycle.Token) error {
	run, err := s.Base.GuardStart(token)
	if err != nil || !run {
		return err
	}
	return nil
}

func (s *Service) Stop(ctx context.Context, token lifecycle.Token) error {
	run, err := s.Base.GuardStop(token)
	if err != nil || !run {
		return err
	}
	return nil
}

// Receipt is the result of Echo.
type Receipt struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

// Echo generates an id, signs a receipt claim set, and returns both
// alongside the original message, exercising the provider and utility
// this service depends on.
func (s *Service) Echo(message string) (Receipt, error) {
	signerMod, err := s.kernel.GetProvider(s.appName, s.opts.SignerName, nil)
	if err != nil {
		return Receipt{}, fmt.Errorf("echo: provider %q: %w", s.opts.SignerName, err)
	}
	signer, ok := signerMod.(*jwtsigner.Provider)
	if !ok {
		return Receipt{}, fmt.Errorf("echo: provider %q is not a jwtsigner.Provider", s.opts.SignerName)
	}

	idMod, err := s.kernel.GetUtility(s.appName, s.opts.IDGenName, nil)
	if err != nil {
		return Receipt{}, fmt.Errorf("echo: utility %q: %w", s.opts.IDGenName, err)
	}
	idgenUtil, ok := idMod.(*idgen.Utility)
	if !ok {
		return Receipt{}, fmt.Errorf("echo: utility %q is not an idgen.Utility", s.opts.IDGenName)
	}

	id := idgenUtil.NewID()
	signed, err := signer.Sign(map[string]interface{}{
		"echoId":  id,
		"message": message,
		"issued":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("echo: sign receipt: %w", err)
	}

	return Receipt{ID: id, Message: message, Token: signed}, nil
}
