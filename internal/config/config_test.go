package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeepsDefaults(t *testing.T) {
	c, err := Parse([]byte("analysis:\n  workers: 3\n  auto_discovery: false\nlog:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Analysis.Workers)
	assert.False(t, c.Analysis.AutoDiscovery)
	assert.Equal(t, Default().Analysis.MaxIterations, c.Analysis.MaxIterations)
	assert.Equal(t, log.DebugLevel, c.LogLevel())
	assert.True(t, c.Log.Color)
}

func TestValidate(t *testing.T) {
	for _, doc := range []string{
		"analysis: {workers: 0}",
		"analysis: {max_iterations: 0}",
		"analysis: {max_resolution_rounds: -1}",
		"analysis: {max_table_entries: 0}",
		"log: {level: chatty}",
	} {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liftkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analysis:\n  max_instructions: 10\n"), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, c.Analysis.MaxInstructions)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("analysis: [1, 2"))
	assert.Error(t, err)
}
