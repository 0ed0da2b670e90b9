package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("AGENCY_CODE", "")

	cfg := Load()
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "data/dealflow.db", cfg.SQLitePath)
	assert.Equal(t, "default", cfg.AgencyCode)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := Load()
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadAgencyProfile(t *testing.T) {
	dir := t.TempDir()
	profile := `
code: nl
agency:
  name: Estately Amsterdam
  address: Herengracht 1
  vat_code: NL0012345
  bank_account: NL00BANK0123456789
  locale: nl
default_due_days: 14
contract_due_days: 7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_nl.yaml"), []byte(profile), 0o644))

	p, err := LoadAgencyProfile(dir, "NL")
	require.NoError(t, err)
	assert.Equal(t, "nl", p.Code)
	assert.Equal(t, "Estately Amsterdam", p.Agency.Name)
	assert.Equal(t, 14, p.DefaultDueDays)

	_, err = LoadAgencyProfile(dir, "xx")
	assert.Error(t, err)
}

func TestLoadAllAgencyProfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_nl.yaml"),
		[]byte("agency:\n  name: Amsterdam\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_be.yaml"),
		[]byte("agency:\n  name: Antwerp\n"), 0o644))

	profiles, err := LoadAllAgencyProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "nl", profiles["nl"].Code, "code falls back to the filename")
	assert.Equal(t, "Antwerp", profiles["be"].Agency.Name)
}
