package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStr(t *testing.T) {
	t.Setenv("ENV_TEST_STR", "value")
	assert.Equal(t, "value", Str("ENV_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", Str("ENV_TEST_STR_UNSET", "fallback"))
}

func TestInt(t *testing.T) {
	t.Setenv("ENV_TEST_INT", "42")
	t.Setenv("ENV_TEST_INT_BAD", "forty-two")
	assert.Equal(t, 42, Int("ENV_TEST_INT", 7))
	assert.Equal(t, 7, Int("ENV_TEST_INT_BAD", 7))
	assert.Equal(t, 7, Int("ENV_TEST_INT_UNSET", 7))
}

func TestBool(t *testing.T) {
	t.Setenv("ENV_TEST_BOOL", "true")
	t.Setenv("ENV_TEST_BOOL_BAD", "yep")
	assert.True(t, Bool("ENV_TEST_BOOL", false))
	assert.False(t, Bool("ENV_TEST_BOOL_BAD", false))
	assert.True(t, Bool("ENV_TEST_BOOL_UNSET", true))
}

func TestDuration(t *testing.T) {
	t.Setenv("ENV_TEST_DUR", "1500ms")
	t.Setenv("ENV_TEST_DUR_BAD", "soon")
	assert.Equal(t, 1500*time.Millisecond, Duration("ENV_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, Duration("ENV_TEST_DUR_BAD", time.Second))
	assert.Equal(t, time.Second, Duration("ENV_TEST_DUR_UNSET", time.Second))
}