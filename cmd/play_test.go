package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvbotkin/macrotape/internal/config"
	"github.com/dvbotkin/macrotape/internal/loader"
	"github.com/dvbotkin/macrotape/internal/macro"
	"github.com/dvbotkin/macrotape/internal/recorder"
)

func TestResolveMacroPrefersExtensionCandidate(t *testing.T) {
	source := loader.NewInline(map[string]string{
		"login.iim": "URL GOTO=https://example.org/login",
		"login":     "URL GOTO=https://example.org/other",
	})

	content, err := resolveMacro(context.Background(), []loader.Source{source}, "login")
	require.NoError(t, err)
	assert.Contains(t, content, "/login")
}

func TestResolveMacroNotFound(t *testing.T) {
	_, err := resolveMacro(context.Background(), []loader.Source{loader.NewInline(nil)}, "missing")
	var notFound *macro.MacroNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestConsoleInputProviderDecrypts(t *testing.T) {
	prev := cfg
	defer func() { cfg = prev }()
	cfg = config.Default()
	cfg.Recorder.Passphrase = "open sesame"

	cipher, err := recorder.NewCipher("open sesame")
	require.NoError(t, err)
	blob, err := cipher.Encrypt("hunter2")
	require.NoError(t, err)

	provider := consoleInputProvider()
	out, err := provider(context.Background(), &macro.NeedsExternalInput{
		Kind:    macro.InputDecrypt,
		Payload: blob,
	})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", out)
}

func TestConsoleInputProviderRequiresPassphrase(t *testing.T) {
	prev := cfg
	defer func() { cfg = prev }()
	cfg = config.Default()

	provider := consoleInputProvider()
	_, err := provider(context.Background(), &macro.NeedsExternalInput{Kind: macro.InputDecrypt})
	assert.Error(t, err)
}
