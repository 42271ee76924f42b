package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveCreatesDirectoryAndPrivateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pwsw", "config.toml")

	require.NoError(t, Save(path, validConfig()))

	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), stat.Mode().Perm())

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, validConfig(), loaded.Document())
}

func TestSaveReplacesExistingFileWithoutLeavingTemps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	cfg := validConfig()
	cfg.Settings.MatchByIndex = true
	require.NoError(t, Save(path, cfg))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	require.True(t, loaded.Settings().MatchByIndex)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), stat.Mode().Perm())
}

func TestSaveRejectsInvalidConfigBeforeWriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := validConfig()
	cfg.Sinks[1].Default = true

	err := Save(path, cfg)
	require.ErrorIs(t, err, ErrInvalid)

	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestStarterMarksFirstSinkDefault(t *testing.T) {
	cfg := Starter([]Sink{{Name: "a", Desc: "A", Default: false}, {Name: "b", Desc: "B", Default: true}})
	require.True(t, cfg.Sinks[0].Default)
	require.False(t, cfg.Sinks[1].Default)
	require.NoError(t, Validate(cfg))
}
