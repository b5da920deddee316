package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.ServerAddr)
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, SessionStoreMemory, cfg.Session.Store)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "/j_security_check", cfg.Form.CheckPath)
	assert.Equal(t, "j_username", cfg.Form.UsernameParam)
	assert.Equal(t, "j_password", cfg.Form.PasswordParam)
	assert.Equal(t, "/openid/auth", cfg.OpenID.RedirectPath)
	assert.Equal(t, []string{"openid", "profile", "email"}, cfg.OpenID.Scopes)
	assert.Equal(t, PolicyAllow, cfg.Security.DefaultPolicy)
	require.Len(t, cfg.Security.Authenticators, 1)
	assert.Equal(t, AuthenticatorMapping{Pattern: "/*", Method: MethodForm, LoginService: LoginServiceUsers}, cfg.Security.Authenticators[0])
}

// TestLoad_WithEnvironmentVariables tests that GRIDAUTH_ prefixed environment variables work
func TestLoad_WithEnvironmentVariables(t *testing.T) {
	viper.Reset()
	t.Setenv("GRIDAUTH_SERVER_URL", "http://env:9090")
	t.Setenv("GRIDAUTH_SERVER_ADDR", "env:9090")
	t.Setenv("GRIDAUTH_DEBUG", "true")
	t.Setenv("GRIDAUTH_SESSION_TTL", "2h")
	t.Setenv("GRIDAUTH_SECURITY_DEFAULT_POLICY", "deny")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://env:9090", cfg.ServerURL)
	assert.Equal(t, "env:9090", cfg.ServerAddr)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, PolicyDeny, cfg.Security.DefaultPolicy)
}

// TestLoad_WithConfigFile tests config file loading
func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "gridauth.yaml")

	configContent := `
server_url: "http://file:8888"
database_url: ""
openid:
  issuer: "https://idp.example.com"
  client_id: "file-client"
  client_secret: "file-secret"
  group_roles:
    platform-admins: [admin]
security:
  default_policy: deny
  authenticators:
    - pattern: /login
      method: openid
      login_service: openid
    - pattern: /openid/*
      method: openid
      login_service: openid
    - pattern: /*
      method: form
  constraints:
    - pattern: /profile
      roles: ["**"]
      authentication_required: true
    - pattern: /admin
      roles: [admin]
      authentication_required: true
  role_hierarchy:
    admin: [user]
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	viper.Reset()
	viper.SetConfigFile(configPath)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://file:8888", cfg.ServerURL)
	assert.Equal(t, "http://file:8888/openid/auth", cfg.OpenIDRedirectURI())
	assert.True(t, cfg.OpenID.UsesDiscovery())
	assert.Equal(t, []string{"admin"}, cfg.OpenID.GroupRoles["platform-admins"])

	require.Len(t, cfg.Security.Authenticators, 3)
	assert.Equal(t, "/openid/*", cfg.Security.Authenticators[1].Pattern)
	assert.Equal(t, MethodOpenID, cfg.Security.Authenticators[1].Method)
	assert.Equal(t, LoginServiceOpenID, cfg.Security.Authenticators[1].LoginService)

	require.Len(t, cfg.Security.Constraints, 2)
	assert.Equal(t, []string{"**"}, cfg.Security.Constraints[0].Roles)
	assert.True(t, cfg.Security.Constraints[1].AuthenticationRequired)
	assert.Equal(t, []string{"user"}, cfg.Security.RoleHierarchy["admin"])
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		viper.Reset()
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad default policy",
			mutate:  func(c *Config) { c.Security.DefaultPolicy = "maybe" },
			wantErr: "security.default_policy",
		},
		{
			name:    "non-positive ttl",
			mutate:  func(c *Config) { c.Session.TTL = 0 },
			wantErr: "session.ttl",
		},
		{
			name: "unknown method",
			mutate: func(c *Config) {
				c.Security.Authenticators = []AuthenticatorMapping{{Pattern: "/*", Method: "basic"}}
			},
			wantErr: "not supported",
		},
		{
			name: "openid without client",
			mutate: func(c *Config) {
				c.Security.Authenticators = append(c.Security.Authenticators, AuthenticatorMapping{Pattern: "/openid/*", Method: MethodOpenID})
				c.OpenID.Issuer = "https://idp.example.com"
			},
			wantErr: "openid.client_id",
		},
		{
			name: "openid without endpoints",
			mutate: func(c *Config) {
				c.Security.Authenticators = append(c.Security.Authenticators, AuthenticatorMapping{Pattern: "/openid/*", Method: MethodOpenID})
				c.OpenID.ClientID = "id"
				c.OpenID.ClientSecret = "secret"
			},
			wantErr: "openid.issuer",
		},
		{
			name: "users login service without database",
			mutate: func(c *Config) {
				c.DatabaseURL = ""
			},
			wantErr: "requires database_url",
		},
		{
			name:    "short hash key",
			mutate:  func(c *Config) { c.Session.HashKey = "abcd"; c.Session.BlockKey = strings.Repeat("00", 32) },
			wantErr: "session.hash_key",
		},
		{
			name:    "block key without hash key",
			mutate:  func(c *Config) { c.Session.BlockKey = strings.Repeat("00", 16) },
			wantErr: "must be set together",
		},
		{
			name:    "database sessions without database",
			mutate:  func(c *Config) { c.Session.Store = SessionStoreDatabase; c.DatabaseURL = ""; c.Security.Authenticators[0].LoginService = "" },
			wantErr: "session.store",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSessionConfig_Keys(t *testing.T) {
	c := SessionConfig{HashKey: strings.Repeat("ab", 32), BlockKey: strings.Repeat("cd", 32)}
	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Len(t, keys.Hash, 32)
	assert.Len(t, keys.Block, 32)

	empty, err := (&SessionConfig{}).Keys()
	require.NoError(t, err)
	assert.Nil(t, empty.Hash)
}
