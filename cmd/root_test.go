package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"analyze", "fetch", "serve", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "subzapper", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestAnalyzeCommand_Flags(t *testing.T) {
	input := analyzeCmd.Flags().Lookup("input")
	require.NotNil(t, input)
	assert.Equal(t, "i", input.Shorthand)

	format := analyzeCmd.Flags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "table", format.DefValue)

	require.NotNil(t, analyzeCmd.Flags().Lookup("no-store"))
}

func TestFetchCommand_Flags(t *testing.T) {
	flag := fetchCmd.Flags().Lookup("max")
	require.NotNil(t, flag)
	assert.Equal(t, "100", flag.DefValue)

	for _, name := range []string{"token", "query", "analyze", "format"} {
		assert.NotNil(t, fetchCmd.Flags().Lookup(name), "fetch should have --%s", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"list", "show", "renewals", "stats"} {
		assert.True(t, names[name], "expected runs subcommand %q not found", name)
	}
}

func TestRunsListCommand_Flags(t *testing.T) {
	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestRunsStatsCommand_Flags(t *testing.T) {
	flag := runsStatsCmd.Flags().Lookup("since")
	require.NotNil(t, flag)
	assert.Equal(t, "24h0m0s", flag.DefValue)
}
