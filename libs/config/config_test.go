package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntAndDuration(t *testing.T) {
	t.Setenv("PESTLEDGER_TEST_INT", "12")
	t.Setenv("PESTLEDGER_TEST_DUR", "250ms")
	t.Setenv("PESTLEDGER_TEST_BAD", "nope")

	n, err := Int("PESTLEDGER_TEST_INT", 1)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = Int("PESTLEDGER_TEST_UNSET", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = Int("PESTLEDGER_TEST_BAD", 1)
	assert.Error(t, err)

	d, err := Duration("PESTLEDGER_TEST_DUR", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = Duration("PESTLEDGER_TEST_BAD", time.Second)
	assert.Error(t, err)
}

func TestPort(t *testing.T) {
	t.Setenv("PESTLEDGER_TEST_PORT", "70000")
	_, err := Port("PESTLEDGER_TEST_PORT", "8080")
	assert.Error(t, err)

	p, err := Port("PESTLEDGER_TEST_PORT_UNSET", "8080")
	require.NoError(t, err)
	assert.Equal(t, "8080", p)
}

func TestListAndBool(t *testing.T) {
	t.Setenv("PESTLEDGER_TEST_LIST", " admin, ,operator ")
	assert.Equal(t, []string{"admin", "operator"}, List("PESTLEDGER_TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, List("PESTLEDGER_TEST_LIST_UNSET", []string{"x"}))

	t.Setenv("PESTLEDGER_TEST_BOOL", "yes")
	assert.True(t, Bool("PESTLEDGER_TEST_BOOL", false))
	assert.True(t, Bool("PESTLEDGER_TEST_BOOL_UNSET", true))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PESTLEDGER_DOTENV_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("PESTLEDGER_DOTENV_VALUE") })

	loaded, err := LoadDotEnv(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.False(t, loaded)

	loaded, err = LoadDotEnv(path)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, "from-file", String("PESTLEDGER_DOTENV_VALUE", ""))
}
