package cliutil

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupSlog(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger, err := SetupSlog(LogOptions{LogLevel: "warn", Output: &buf})
	require.NoError(err)
	logger.Info("dropped")
	logger.Warn("kept", "tenant", "g1")

	var line map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &line))
	assert.Equal("kept", line["msg"])
	assert.Equal("g1", line["tenant"])

	_, err = SetupSlog(LogOptions{LogLevel: "loud"})
	assert.Error(err)
	_, err = SetupSlog(LogOptions{LogFormat: "xml"})
	assert.Error(err)
}

func TestSetupDatabase(t *testing.T) {
	assert := assert.New(t)

	db, err := SetupDatabase("sqlite://"+filepath.Join(t.TempDir(), "nested", "warden.db"), 0)
	assert.NoError(err)
	assert.NoError(db.Exec("SELECT 1").Error)

	_, err = SetupDatabase("mysql://localhost/warden", 0)
	assert.Error(err)
}
