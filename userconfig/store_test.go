package userconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")

	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	cfg := NewDefault("u1")
	require.NoError(t, s.Save(cfg))

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	got, ok := reopened.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.Active)
}

func TestStore_CorruptFileFailsToOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := Open(path, zerolog.Nop())
	assert.Error(t, err)
}

func TestStore_MuteAndUnmute(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "users.json"), zerolog.Nop())
	require.NoError(t, err)

	cfg := NewDefault("u1")
	require.NoError(t, s.Save(cfg))

	require.NoError(t, s.Mute("u1", "BTCUSDT"))
	got, _ := s.Get("u1")
	assert.True(t, got.IsBlacklisted("BTCUSDT"))

	require.NoError(t, s.Unmute("u1", "BTCUSDT"))
	got, _ = s.Get("u1")
	assert.False(t, got.IsBlacklisted("BTCUSDT"))
}

func TestStore_SetActiveInvalidatesCallback(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "users.json"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Save(NewDefault("u1")))

	invalidated := 0
	s.OnInvalidate(func() { invalidated++ })

	require.NoError(t, s.SetActive("u1", false))
	assert.Equal(t, 1, invalidated)

	got, _ := s.Get("u1")
	assert.False(t, got.Active)
}

func TestUserConfig_ShouldMonitor_BlacklistBeatsWhitelist(t *testing.T) {
	cfg := NewDefault("u1")
	cfg.QuoteAsset = "USDT"
	cfg.WatchMode = "whitelist"
	cfg.Whitelist = []string{"BTCUSDT"}
	cfg.Blacklist = []string{"BTC"} // base-asset match should still suppress

	assert.False(t, cfg.ShouldMonitor("BTCUSDT"))
}

func TestUserConfig_ShouldMonitor_WhitelistRequiresMatch(t *testing.T) {
	cfg := NewDefault("u1")
	cfg.WatchMode = "whitelist"
	cfg.Whitelist = []string{"ETHUSDT"}

	assert.True(t, cfg.ShouldMonitor("ETHUSDT"))
	assert.False(t, cfg.ShouldMonitor("SOLUSDT"))
}
