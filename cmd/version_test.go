package cmd

import (
	"bytes"
	"fmt"
	"github.com/arcward/clanbot/clanbot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := clanbot.Version
	originalCommitSHA := clanbot.CommitSHA
	originalBuildTime := clanbot.BuildTime

	t.Cleanup(
		func() {
			clanbot.Version = originalVersion
			clanbot.CommitSHA = originalCommitSHA
			clanbot.BuildTime = originalBuildTime
		},
	)

	clanbot.Version = "1.0.0"
	clanbot.CommitSHA = "abc123"
	clanbot.BuildTime = "2023-10-01T12:00:00Z"

	out := captureOutput(t)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())

	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s\n",
		clanbot.Version,
		clanbot.CommitSHA,
		clanbot.BuildTime,
	)
	assert.Equal(t, expected, out.String())
}

// captureOutput redirects the root command's stdout/stderr to a buffer
// for the duration of the test
func captureOutput(t testing.TB) *bytes.Buffer {
	t.Helper()
	currentOut := rootCmd.OutOrStdout()
	currentErr := rootCmd.ErrOrStderr()
	t.Cleanup(
		func() {
			rootCmd.SetOut(currentOut)
			rootCmd.SetErr(currentErr)
		},
	)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	return &out
}
