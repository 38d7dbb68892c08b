package creditgate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	cg "github.com/ineyio/creditgate"
)

func TestKeyPoolResolve(t *testing.T) {
	pool := cg.NewKeyPool([]string{"k1", "", "k3"}, "fb")
	assert.Equal(t, 3, pool.Size())

	assert.Equal(t, cg.Credential{Value: "k1", Slot: 1}, pool.Resolve(1))
	assert.Equal(t, cg.Credential{Value: "k3", Slot: 3}, pool.Resolve(3))

	fallback := cg.Credential{Value: "fb", Fallback: true}
	assert.Equal(t, fallback, pool.Resolve(0))
	assert.Equal(t, fallback, pool.Resolve(2), "empty entry")
	assert.Equal(t, fallback, pool.Resolve(4), "out of range")
	assert.Equal(t, fallback, pool.Resolve(-1))
}

func TestKeyPoolResolve_NothingConfigured(t *testing.T) {
	cred := cg.NewKeyPool(nil, "").Resolve(1)
	assert.False(t, cred.Configured())
	assert.True(t, cred.Fallback)
}

func TestNewKeyPool_CopiesKeys(t *testing.T) {
	keys := []string{"k1"}
	pool := cg.NewKeyPool(keys, "")
	keys[0] = "changed"
	assert.Equal(t, "k1", pool.Resolve(1).Value)
}

func TestLoadKeyPoolFromEnv(t *testing.T) {
	t.Setenv("CG_TEST_KEY_1", "one")
	t.Setenv("CG_TEST_KEY_2", "two")
	t.Setenv("CG_TEST_KEY_4", "four") // unreachable past the gap at 3
	t.Setenv("CG_TEST_KEY_FALLBACK", "fb")

	pool := cg.LoadKeyPoolFromEnv("CG_TEST_KEY", discardLogger())
	assert.Equal(t, 2, pool.Size())
	assert.Equal(t, "two", pool.Resolve(2).Value)
	assert.Equal(t, "fb", pool.Fallback().Value)
}

func TestLoadKeyPoolFromEnv_NoFallback(t *testing.T) {
	t.Setenv("CG_EMPTY_KEY_1", "one")

	pool := cg.LoadKeyPoolFromEnv("CG_EMPTY_KEY", discardLogger())
	assert.Equal(t, 1, pool.Size())
	assert.False(t, pool.Fallback().Configured())
}
