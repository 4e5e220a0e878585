package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestVersion(t *testing.T) {
	assert.Contains(t, run(t, "version"), "fellowship v"+version)
}

func TestTopicsList(t *testing.T) {
	out := run(t, "topics", "list", "--module", "chat", "--kind", "event", "--format", "table")
	assert.Contains(t, out, "new-message")
	assert.Contains(t, out, "client-typing")
	assert.NotContains(t, out, "presence-chat-")

	out = run(t, "topics", "list", "--module", "nobody", "--kind", "")
	assert.Contains(t, out, "No topics found matching: module 'nobody'")
}

func TestParseKind(t *testing.T) {
	_, err := parseKind("queue")
	assert.Error(t, err)
}

func TestLocalURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", localURL(":8080"))
	assert.Equal(t, "http://127.0.0.1:9000", localURL("127.0.0.1:9000"))
	assert.Equal(t, "http://localhost:8080", localURL("0.0.0.0:8080"))
}
