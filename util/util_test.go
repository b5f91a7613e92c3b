package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astaxie/beego/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetToken(t *testing.T) {
	a := GetToken(24)
	b := GetToken(24)
	assert.Len(t, a, 24)
	assert.NotEqual(t, a, b)
	for _, c := range a {
		assert.True(t, strings.ContainsRune(tokenChars, c))
	}
}

func TestLogInitFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, LogInit(dir, false, "test.log"))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(dir, "test.log"), logCfg.Filename)
}

func TestLogInitConsole(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "unused")
	require.NoError(t, LogInit(dir, true, "test.log"))

	assert.Equal(t, logs.LevelDebug, logCfg.Level)
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
