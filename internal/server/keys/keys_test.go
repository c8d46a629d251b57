package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunGeneratesMaterial(t *testing.T) {
	dir := t.TempDir()

	p, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, p.ServerPrivateKey())
	assert.Len(t, p.DecoySeed(), 32)
	assert.Len(t, p.SigningSecret(), 32)
	assert.NotEmpty(t, p.KeyRef())
}

func TestLoad_ReloadIsStable(t *testing.T) {
	dir := t.TempDir()

	first, err := Load(dir)
	require.NoError(t, err)
	second, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, first.KeyRef(), second.KeyRef())
	assert.Equal(t, first.DecoySeed(), second.DecoySeed())
	assert.Equal(t, first.SigningSecret(), second.SigningSecret())
}

func TestRotate_ChangesSigningSecretOnly(t *testing.T) {
	p, err := Load(t.TempDir())
	require.NoError(t, err)

	before := p.SigningSecret()
	decoy := p.DecoySeed()
	require.NoError(t, p.Rotate())

	assert.NotEqual(t, before, p.SigningSecret())
	assert.Equal(t, decoy, p.DecoySeed())
}
