package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pushwire/internal/apns"
)

func TestCollectTokens(t *testing.T) {
	t.Run("arguments only", func(t *testing.T) {
		tokens, err := collectTokens([]string{"aa", "bb"}, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"aa", "bb"}, tokens)
	})

	t.Run("merges file tokens and skips comments", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tokens.txt")
		require.NoError(t, os.WriteFile(path, []byte("cc\n\n# staging device\ndd\n"), 0o600))

		tokens, err := collectTokens([]string{"aa"}, path)
		require.NoError(t, err)
		assert.Equal(t, []string{"aa", "cc", "dd"}, tokens)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := collectTokens(nil, "/does/not/exist.txt")
		assert.Error(t, err)
	})
}

func TestBuildBody(t *testing.T) {
	t.Run("message flag builds an alert payload", func(t *testing.T) {
		body, err := buildBody("", "", "hello", -1, "", false)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"alert":"hello"`)
	})

	t.Run("title and message build a structured alert", func(t *testing.T) {
		body, err := buildBody("", "Score!", "3-2", -1, "", false)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"title":"Score!"`)
		assert.Contains(t, string(body), `"body":"3-2"`)
	})

	t.Run("background push needs no message", func(t *testing.T) {
		body, err := buildBody("", "", "", -1, "", true)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"content-available":1`)
	})

	t.Run("payload file is passed through verbatim", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "payload.json")
		raw := []byte(`{"aps":{"alert":"custom"}}`)
		require.NoError(t, os.WriteFile(path, raw, 0o600))

		body, err := buildBody(path, "", "ignored", -1, "", false)
		require.NoError(t, err)
		assert.Equal(t, raw, body)
	})

	t.Run("oversized payload file is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.json")
		require.NoError(t, os.WriteFile(path, make([]byte, apns.MaxPayloadBytes+1), 0o600))

		_, err := buildBody(path, "", "", -1, "", false)
		assert.Error(t, err)
	})

	t.Run("nothing to send", func(t *testing.T) {
		_, err := buildBody("", "", "", -1, "", false)
		assert.Error(t, err)
	})
}

func TestNewRootCommand_Tree(t *testing.T) {
	root := NewRootCommand()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["send"], "send command must be registered")
	assert.True(t, names["version"], "version command must be registered")

	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("cert"))
	assert.NotNil(t, root.PersistentFlags().Lookup("token-key"))
}
