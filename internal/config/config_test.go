package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  name: irc.example.net
  network: ExampleNet
  sid: "1AB"
  description: Example IRC server
listen:
  address: "0.0.0.0:6667"
  tls:
    address: "0.0.0.0:6697"
    cert_path: /etc/ircd/cert.pem
    key_path: /etc/ircd/key.pem
security:
  cloak_secret: supersecret
linking:
  local_sid: "1AB"
  links:
    - name: hub.example.net
      sid: "2CD"
      host: 10.0.0.2
      port: 6900
      send_password: outbound
      recv_password: inbound
database:
  path: /var/lib/ircd/ircd.db
`

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAMLAndDefaults(t *testing.T) {
	path := writeTempFile(t, "ircd.yaml", sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "irc.example.net", cfg.Server.Name)
	assert.Equal(t, "1AB", cfg.Server.SID)
	assert.Equal(t, "NickServ", cfg.Services.NickServName)
	assert.Equal(t, "ChanServ", cfg.Services.ChanServName)
	assert.Equal(t, 100, cfg.History.ChatHistoryMax)
	require.Len(t, cfg.Linking.Links, 1)
	assert.Equal(t, "2CD", cfg.Linking.Links[0].SID)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestDatabaseDriverIsOverridable(t *testing.T) {
	const yaml = `
server:
  name: irc.example.net
  sid: "1AB"
listen:
  address: "0.0.0.0:6667"
security:
  cloak_secret: supersecret
linking:
  local_sid: "1AB"
database:
  driver: postgres
  path: "host=db user=ircd dbname=ircd"
`
	path := writeTempFile(t, "ircd-pg.yaml", yaml)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoadMissingRequiredFieldFails(t *testing.T) {
	path := writeTempFile(t, "ircd.yaml", "server:\n  name: irc.example.net\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrideAppliesOverFileValue(t *testing.T) {
	path := writeTempFile(t, "ircd.yaml", sampleYAML)
	t.Setenv("IRCD_SERVER_NAME", "override.example.net")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "override.example.net", cfg.Server.Name)
}

func TestSyncLinksAdapter(t *testing.T) {
	path := writeTempFile(t, "ircd.yaml", sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	links := cfg.SyncLinks()
	require.Len(t, links, 1)
	assert.Equal(t, "10.0.0.2:6900", links[0].Addr)
	assert.Equal(t, "outbound", links[0].SendPassword)
	assert.Equal(t, "inbound", links[0].AcceptPassword)
}

func TestRateLimitsAdapter(t *testing.T) {
	cfg := &Config{}
	cfg.Limits.MessageRatePerSecond = 2.5
	cfg.Limits.Burst = 10
	limits := cfg.RateLimits()
	assert.Equal(t, 2.5, limits.MessagesPerSecond)
	assert.Equal(t, 10, limits.MessageBurst)
}
