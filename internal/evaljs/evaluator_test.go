package evaljs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateArithmetic(t *testing.T) {
	e := New(nil)

	out, err := e.Evaluate(context.Background(), "call-1", "6*7", nil)
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestEvaluateString(t *testing.T) {
	e := New(nil)

	out, err := e.Evaluate(context.Background(), "call-2", `"abc".toUpperCase()`, nil)
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)
}

func TestEvaluateFractional(t *testing.T) {
	e := New(nil)

	out, err := e.Evaluate(context.Background(), "call-3", "1/4", nil)
	require.NoError(t, err)
	assert.Equal(t, "0.25", out)
}

func TestEvaluateUsesInjectedVariables(t *testing.T) {
	e := New(nil)

	vars := map[string]string{"user": "admin", "!VAR1": "skipped"}
	out, err := e.Evaluate(context.Background(), "call-4", `user+"!"`, vars)
	require.NoError(t, err)
	assert.Equal(t, "admin!", out)
}

func TestEvaluateSkipsNonIdentifierNames(t *testing.T) {
	e := New(nil)

	vars := map[string]string{"!VAR1": "x", "9lives": "y", "ok_name": "z"}
	out, err := e.Evaluate(context.Background(), "call-11", `typeof ok_name`, vars)
	require.NoError(t, err)
	assert.Equal(t, "string", out)

	out, err = e.Evaluate(context.Background(), "call-12", `typeof this["!VAR1"]`, nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", out)
}

func TestEvaluateStatePersistsAcrossCalls(t *testing.T) {
	e := New(nil)

	_, err := e.Evaluate(context.Background(), "call-5", "var counter = 1;", nil)
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "call-6", "++counter", nil)
	require.NoError(t, err)
	assert.Equal(t, "2", out)
}

func TestEvaluateSyntaxError(t *testing.T) {
	e := New(nil)

	_, err := e.Evaluate(context.Background(), "call-7", "6 *", nil)
	assert.Error(t, err)
}

func TestEvaluateRespectsContextDeadline(t *testing.T) {
	e := New(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Evaluate(ctx, "call-8", "while(true){}", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
}

func TestEvaluateRecoversAfterInterrupt(t *testing.T) {
	e := New(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := e.Evaluate(ctx, "call-9", "while(true){}", nil)
	require.Error(t, err)

	// A stale interrupt would poison every later call on the shared VM.
	out, err := e.Evaluate(context.Background(), "call-10", "2+2", nil)
	require.NoError(t, err)
	assert.Equal(t, "4", out)
}
