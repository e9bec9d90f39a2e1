package jwtsigner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/adc/internal/loaders"
)

func newProvider(t *testing.T, secret string, ttl time.Duration) *Provider {
	t.Helper()
	mod, err := New(loaders.InstanceConfig{
		ModuleName: "jwtsigner",
		Type:       "provider",
		Config: map[string]interface{}{
			"secret": secret,
			"ttl":    ttl,
		},
	})
	require.NoError(t, err)
	return mod.(*Provider)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	p := newProvider(t, "super-secret", time.Hour)

	signed, err := p.Sign(map[string]interface{}{"sub": "user-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, signed)

	claims, err := p.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
}

func TestVerify_WrongSecretRejected(t *testing.T) {
	signer := newProvider(t, "secret-a", time.Hour)
	verifier := newProvider(t, "secret-b", time.Hour)

	signed, err := signer.Sign(map[string]interface{}{"sub": "user-1"})
	require.NoError(t, err)

	_, err = verifier.Verify(signed)
	assert.Error(t, err)
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(loaders.InstanceConfig{ModuleName: "jwtsigner", Config: map[string]interface{}{}})
	assert.Error(t, err)
}

func TestNew_DefaultsTTL(t *testing.T) {
	mod, err := New(loaders.InstanceConfig{
		ModuleName: "jwtsigner",
		Config:     map[string]interface{}{"secret": "x"},
	})
	require.NoError(t, err)
	p := mod.(*Provider)
	assert.Equal(t, time.Hour, p.opts.TTL)
}
