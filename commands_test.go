package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aippoint/interview-api/internal/config"
)

func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("MAX_ATTEMPTS", "2")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("CONFIG_FILE", "")
}

func TestAttemptsCommands(t *testing.T) {
	setupEnv(t)

	out, err := executeCmd(t, "attempts", "increment", "Ada@Example.com")
	require.NoError(t, err)
	var inc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &inc))
	assert.Equal(t, 1.0, inc["attemptNumber"])
	assert.Equal(t, "ada@example.com", inc["email"])

	// The file mirror carries the count into the next invocation.
	out, err = executeCmd(t, "attempts", "check", "ada@example.com")
	require.NoError(t, err)
	var chk map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &chk))
	assert.Equal(t, 1.0, chk["attempts"])
	assert.Equal(t, 2.0, chk["maxAttempts"])
	assert.Equal(t, true, chk["canStart"])

	_, err = executeCmd(t, "attempts", "increment", "ada@example.com")
	require.NoError(t, err)
	_, err = executeCmd(t, "attempts", "increment", "ada@example.com")
	assert.EqualError(t, err, "Interview limit reached")
}

func TestAttemptsCommand_Validation(t *testing.T) {
	setupEnv(t)

	_, err := executeCmd(t, "attempts", "check", "not-an-email")
	assert.EqualError(t, err, "Invalid email format")

	_, err = executeCmd(t, "attempts", "check")
	assert.Error(t, err)
}

func TestFeedbackListCommand(t *testing.T) {
	setupEnv(t)

	out, err := executeCmd(t, "feedback", "list", "--limit", "5")
	require.NoError(t, err)
	var page map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, []any{}, page["data"])
	assert.Equal(t, 5.0, page["limit"])
	assert.Equal(t, false, page["hasMore"])

	_, err = executeCmd(t, "feedback", "list", "--status", "archived")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log, err := newLogger(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, "debug", log.GetLevel().String())

	_, err = newLogger(config.LogConfig{Level: "loud", Format: "text"})
	assert.Error(t, err)

	_, err = newLogger(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
