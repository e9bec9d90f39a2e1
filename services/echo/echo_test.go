package echo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/adc/internal/lifecycle"
	"github.com/nmxmxh/adc/internal/loaders"
	"github.com/nmxmxh/adc/providers/jwtsigner"
	"github.com/nmxmxh/adc/utilities/idgen"
)

type fakeKernel struct {
	signer *jwtsigner.Provider
	idgen  *idgen.Utility
}

func (k *fakeKernel) GetProvider(appName, name string, config map[string]interface{}) (lifecycle.Module, error) {
	return k.signer, nil
}

func (k *fakeKernel) GetUtility(appName, name string, config map[string]interface{}) (lifecycle.Module, error) {
	return k.idgen, nil
}

func (k *fakeKernel) GetService(appName, name string, config map[string]interface{}) (lifecycle.Module, error) {
	return nil, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	signerMod, err := jwtsigner.New(loaders.InstanceConfig{
		ModuleName: "jwtsigner",
		Config:     map[string]interface{}{"secret": "test-secret"},
	})
	require.NoError(t, err)

	idgenMod, err := idgen.New(loaders.InstanceConfig{ModuleName: "idgen"})
	require.NoError(t, err)

	kernel := &fakeKernel{signer: signerMod.(*jwtsigner.Provider), idgen: idgenMod.(*idgen.Utility)}

	svcMod, err := New(loaders.InstanceConfig{
		ModuleName: "echo",
		AppName:    "app1",
		Kernel:     kernel,
	})
	require.NoError(t, err)
	return svcMod.(*Service)
}

func TestEcho_ComposesProviderAndUtility(t *testing.T) {
	svc := newTestService(t)

	receipt, err := svc.Echo("hello")
	require.NoError(t, err)

	assert.Equal(t, "hello", receipt.Message)
	assert.NotEmpty(t, receipt.ID)
	assert.NotEmpty(t, receipt.Token)

	claims, err := svc.kernel.(*fakeKernel).signer.Verify(receipt.Token)
	require.NoError(t, err)
	assert.Equal(t, receipt.ID, claims["echoId"])
	assert.Equal(t, "hello", claims["message"])
}

func TestNew_RequiresKernel(t *testing.T) {
	_, err := New(loaders.InstanceConfig{ModuleName: "echo"})
	assert.Error(t, err)
}

func TestNew_DefaultOptionNames(t *testing.T) {
	kernel := &fakeKernel{}
	mod, err := New(loaders.InstanceConfig{ModuleName: "echo", Kernel: kernel})
	require.NoError(t, err)
	svc := mod.(*Service)
	assert.Equal(t, "jwtsigner", svc.opts.SignerName)
	assert.Equal(t, "idgen", svc.opts.IDGenName)
}
