package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/adc/internal/kernelerr"
)

func TestTokenIdentity(t *testing.T) {
	a := NewToken("a")
	b := NewToken("b")
	c := a

	assert.True(t, a.Valid())
	assert.True(t, a.Equal(c))
	assert.False(t, a.Equal(b))

	var zero Token
	assert.False(t, zero.Valid())
}

// TestSetPrivilegedKey_OnlyOnce: the key is settable exactly once.
func TestSetPrivilegedKey_OnlyOnce(t *testing.T) {
	base := NewBase("mod", RoleProvider, "test")
	token := NewToken("k")

	require.NoError(t, base.SetPrivilegedKey(token))
	err := base.SetPrivilegedKey(NewToken("k2"))
	assert.ErrorIs(t, err, kernelerr.ErrKeyAlreadySet)
}

// TestAuthorize_RejectsForgedToken: tokens compare by identity, not by
// value.
func TestAuthorize_RejectsForgedToken(t *testing.T) {
	base := NewBase("mod", RoleProvider, "test")
	real := NewToken("same-id")
	forged := NewToken("same-id")

	require.NoError(t, base.SetPrivilegedKey(real))
	assert.NoError(t, base.Authorize(real))
	assert.Error(t, base.Authorize(forged))
}

func TestGuardStart_Idempotent(t *testing.T) {
	base := NewBase("mod", RoleUtility, "test")
	token := NewToken("k")
	require.NoError(t, base.SetPrivilegedKey(token))

	run, err := base.GuardStart(token)
	require.NoError(t, err)
	assert.True(t, run)

	run, err = base.GuardStart(token)
	require.NoError(t, err)
	assert.False(t, run)
}

func TestGuardStop_Idempotent(t *testing.T) {
	base := NewBase("mod", RoleUtility, "test")
	token := NewToken("k")
	require.NoError(t, base.SetPrivilegedKey(token))

	run, err := base.GuardStop(token)
	require.NoError(t, err)
	assert.True(t, run)

	run, err = base.GuardStop(token)
	require.NoError(t, err)
	assert.False(t, run)
}

func TestWithTimeout_CompletesBeforeDeadline(t *testing.T) {
	timedOut, err := WithTimeout(context.Background(), 50*time.Millisecond, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.False(t, timedOut)
}

func TestWithTimeout_Expires(t *testing.T) {
	timedOut, _ := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, timedOut)
}
