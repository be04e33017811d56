package expand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_BraceAndBareForms(t *testing.T) {
	s := NewScope()
	s.Set("NAME", "world")

	got, err := s.Text("hello ${NAME} and $NAME", "command")
	require.NoError(t, err)
	assert.Equal(t, "hello world and world", got)
}

func TestScope_LiteralDollarEscape(t *testing.T) {
	s := NewScope()
	got, err := s.Text("price is $$5", "command")
	require.NoError(t, err)
	assert.Equal(t, "price is $5", got)
}

func TestScope_RecursiveExpansion(t *testing.T) {
	s := NewScope()
	s.Set("A", "${B}-suffix")
	s.Set("B", "value")

	got, err := s.Text("${A}", "command")
	require.NoError(t, err)
	assert.Equal(t, "value-suffix", got)
}

func TestScope_Fixpoint(t *testing.T) {
	s := NewScope()
	s.Set("A", "${B}")
	s.Set("B", "leaf")

	once, err := s.Text("${A}", "command")
	require.NoError(t, err)

	s2 := NewScope()
	s2.Set("A", "${B}")
	s2.Set("B", "leaf")
	twice, err := s2.Text(once, "command")
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestScope_UndefinedReference(t *testing.T) {
	s := NewScope()
	_, err := s.Text("${MISSING}", "inputs[0]")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING")
	assert.Contains(t, err.Error(), "inputs[0]")
}

func TestScope_CycleDetected(t *testing.T) {
	s := NewScope()
	s.Set("A", "${B}")
	s.Set("B", "${A}")

	_, err := s.Text("${A}", "command")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")
}

func TestScope_MalformedBrace(t *testing.T) {
	s := NewScope()
	_, err := s.Text("${UNCLOSED", "command")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestScope_EnvAndPWDPrecedence(t *testing.T) {
	t.Setenv("FOO", "from-env")
	s := NewScope()

	got, err := s.Text("$ENV_FOO", "command")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	// A user variable of the same name overrides the ENV_-derived one.
	s.Set("ENV_FOO", "overridden")
	got, err = s.Text("$ENV_FOO", "command")
	require.NoError(t, err)
	assert.Equal(t, "overridden", got)
}

func TestScope_PWDBuiltin(t *testing.T) {
	s := NewScope()
	got, err := s.Text("$PWD", "command")
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}
