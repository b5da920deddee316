package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GRIDAUTH"

// Authentication methods accepted in security.authenticators[].method.
const (
	MethodForm   = "form"
	MethodOpenID = "openid"
)

// Login services accepted in security.authenticators[].login_service.
const (
	LoginServiceNone   = ""
	LoginServiceUsers  = "users"
	LoginServiceOpenID = "openid"
)

// Session stores.
const (
	SessionStoreMemory   = "memory"
	SessionStoreDatabase = "database"
)

// Default policies for paths no constraint covers.
const (
	PolicyAllow = "allow"
	PolicyDeny  = "deny"
)

// Config holds the application configuration
type Config struct {
	// Server bind address (host:port)
	ServerAddr string `mapstructure:"server_addr"`

	// Externally visible base URL; the OpenID redirect URI is derived from it
	ServerURL string `mapstructure:"server_url"`

	// Database connection string (DSN): postgres:// URLs select PostgreSQL,
	// anything else is a SQLite path. Empty disables local users.
	DatabaseURL string `mapstructure:"database_url"`

	// Maximum database connection pool size
	MaxDBConnections int `mapstructure:"max_db_connections"`

	// Enable debug logging
	Debug bool `mapstructure:"debug"`

	Session       SessionConfig       `mapstructure:"session"`
	Form          FormConfig          `mapstructure:"form"`
	OpenID        OpenIDConfig        `mapstructure:"openid"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// SessionConfig controls the server-side session store and its cookie.
type SessionConfig struct {
	// Store is "memory" or "database".
	Store string `mapstructure:"store"`

	CookieName string        `mapstructure:"cookie_name"`
	TTL        time.Duration `mapstructure:"ttl"`
	Secure     bool          `mapstructure:"secure"`
	MaxEntries int           `mapstructure:"max_entries"`

	// HashKey and BlockKey are hex encoded. When empty, random keys are
	// generated at startup and sessions do not survive a restart.
	HashKey  string `mapstructure:"hash_key"`
	BlockKey string `mapstructure:"block_key"`
}

// FormConfig configures the form authenticator.
type FormConfig struct {
	LoginPage     string `mapstructure:"login_page"`
	ErrorPage     string `mapstructure:"error_page"`
	CheckPath     string `mapstructure:"check_path"`
	UsernameParam string `mapstructure:"username_param"`
	PasswordParam string `mapstructure:"password_param"`
}

// OpenIDConfig configures the OpenID Connect authenticator.
//
// Either Issuer (discovery) or the AuthorizationEndpoint/TokenEndpoint pair
// must be set. With explicit endpoints, ID tokens are verified with the
// client secret (HS256).
type OpenIDConfig struct {
	Issuer                string        `mapstructure:"issuer"`
	AuthorizationEndpoint string        `mapstructure:"authorization_endpoint"`
	TokenEndpoint         string        `mapstructure:"token_endpoint"`
	UserinfoEndpoint      string        `mapstructure:"userinfo_endpoint"`
	ClientID              string        `mapstructure:"client_id"`
	ClientSecret          string        `mapstructure:"client_secret"`
	RedirectPath          string        `mapstructure:"redirect_path"`
	Scopes                []string      `mapstructure:"scopes"`
	Timeout               time.Duration `mapstructure:"timeout"`

	GroupsClaim     string              `mapstructure:"groups_claim"`
	GroupsClaimPath string              `mapstructure:"groups_claim_path"`
	GroupRoles      map[string][]string `mapstructure:"group_roles"`

	AuthenticateNewUsers     bool   `mapstructure:"authenticate_new_users"`
	LogoutWhenIDTokenExpired bool   `mapstructure:"logout_when_id_token_expired"`
	ErrorPage                string `mapstructure:"error_page"`
}

// UsesDiscovery reports whether endpoints come from the issuer's discovery
// document.
func (c *OpenIDConfig) UsesDiscovery() bool {
	return c.Issuer != "" && c.AuthorizationEndpoint == ""
}

// SecurityConfig maps paths to authenticators and constraints.
type SecurityConfig struct {
	DefaultPolicy       string                 `mapstructure:"default_policy"`
	AllowMissingDefault bool                   `mapstructure:"allow_missing_default"`
	Authenticators      []AuthenticatorMapping `mapstructure:"authenticators"`
	Constraints         []ConstraintMapping    `mapstructure:"constraints"`

	// RoleHierarchy maps a role to the roles it implies.
	RoleHierarchy map[string][]string `mapstructure:"role_hierarchy"`
}

// AuthenticatorMapping binds a path pattern to an authentication method.
type AuthenticatorMapping struct {
	Pattern      string `mapstructure:"pattern"`
	Method       string `mapstructure:"method"`
	LoginService string `mapstructure:"login_service"`
}

// ConstraintMapping binds a path pattern to a role requirement.
type ConstraintMapping struct {
	Pattern                string   `mapstructure:"pattern"`
	Roles                  []string `mapstructure:"roles"`
	AuthenticationRequired bool     `mapstructure:"authentication_required"`
}

// ObservabilityConfig configures OpenTelemetry export.
type ObservabilityConfig struct {
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`
}

// UsesMethod reports whether any authenticator mapping uses method.
func (c *SecurityConfig) UsesMethod(method string) bool {
	for _, m := range c.Authenticators {
		if m.Method == method {
			return true
		}
	}
	return false
}

// OpenIDRedirectURI is the absolute URI the provider redirects back to.
func (c *Config) OpenIDRedirectURI() string {
	return strings.TrimSuffix(c.ServerURL, "/") + c.OpenID.RedirectPath
}

// SetDefaults registers a default for every scalar key so that environment
// variables override them through viper's AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", "localhost:8080")
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("database_url", "gridauth.db")
	v.SetDefault("max_db_connections", 25)
	v.SetDefault("debug", false)

	v.SetDefault("session.store", SessionStoreMemory)
	v.SetDefault("session.cookie_name", "gridauth_session")
	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("session.hash_key", "")
	v.SetDefault("session.block_key", "")
	v.SetDefault("session.secure", false)
	v.SetDefault("session.max_entries", 10000)

	v.SetDefault("form.login_page", "/signin")
	v.SetDefault("form.error_page", "/error")
	v.SetDefault("form.check_path", "/j_security_check")
	v.SetDefault("form.username_param", "j_username")
	v.SetDefault("form.password_param", "j_password")

	v.SetDefault("openid.issuer", "")
	v.SetDefault("openid.authorization_endpoint", "")
	v.SetDefault("openid.token_endpoint", "")
	v.SetDefault("openid.userinfo_endpoint", "")
	v.SetDefault("openid.client_id", "")
	v.SetDefault("openid.client_secret", "")
	v.SetDefault("openid.redirect_path", "/openid/auth")
	v.SetDefault("openid.scopes", []string{"openid", "profile", "email"})
	v.SetDefault("openid.timeout", 10*time.Second)
	v.SetDefault("openid.groups_claim", "groups")
	v.SetDefault("openid.groups_claim_path", "")
	v.SetDefault("openid.authenticate_new_users", true)
	v.SetDefault("openid.logout_when_id_token_expired", false)
	v.SetDefault("openid.error_page", "/error")

	v.SetDefault("security.default_policy", PolicyAllow)
	v.SetDefault("security.allow_missing_default", false)
	v.SetDefault("security.authenticators", []map[string]any{
		{"pattern": "/*", "method": MethodForm, "login_service": LoginServiceUsers},
	})

	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_insecure", false)
	v.SetDefault("observability.service_name", "gridauth")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.environment", "development")
}

// Load reads configuration from the global viper instance: defaults, an
// optional config file set by the caller, and GRIDAUTH_ prefixed environment
// variables.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors that must stop startup.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if _, err := url.ParseRequestURI(c.ServerURL); err != nil {
		return fmt.Errorf("server_url is invalid: %w", err)
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL)
	}
	if c.Session.MaxEntries <= 0 {
		return fmt.Errorf("session.max_entries must be positive, got %d", c.Session.MaxEntries)
	}
	switch c.Session.Store {
	case SessionStoreMemory:
	case SessionStoreDatabase:
		if c.DatabaseURL == "" {
			return fmt.Errorf("session.store %q requires database_url", SessionStoreDatabase)
		}
	default:
		return fmt.Errorf("session.store must be %q or %q, got %q", SessionStoreMemory, SessionStoreDatabase, c.Session.Store)
	}
	if _, err := c.Session.Keys(); err != nil {
		return err
	}

	switch c.Security.DefaultPolicy {
	case PolicyAllow, PolicyDeny:
	default:
		return fmt.Errorf("security.default_policy must be %q or %q, got %q", PolicyAllow, PolicyDeny, c.Security.DefaultPolicy)
	}

	if len(c.Security.Authenticators) == 0 {
		return fmt.Errorf("security.authenticators must contain at least one mapping")
	}
	for i, m := range c.Security.Authenticators {
		if m.Pattern == "" {
			return fmt.Errorf("security.authenticators[%d].pattern is required", i)
		}
		switch m.Method {
		case MethodForm, MethodOpenID:
		default:
			return fmt.Errorf("security.authenticators[%d].method %q is not supported", i, m.Method)
		}
		switch m.LoginService {
		case LoginServiceNone, LoginServiceUsers, LoginServiceOpenID:
		default:
			return fmt.Errorf("security.authenticators[%d].login_service %q is not supported", i, m.LoginService)
		}
		if m.LoginService == LoginServiceUsers && c.DatabaseURL == "" {
			return fmt.Errorf("security.authenticators[%d] uses the users login service, which requires database_url", i)
		}
	}
	for i, m := range c.Security.Constraints {
		if m.Pattern == "" {
			return fmt.Errorf("security.constraints[%d].pattern is required", i)
		}
	}

	if c.Security.UsesMethod(MethodOpenID) {
		if err := c.OpenID.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *OpenIDConfig) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("openid.client_id is required when an openid authenticator is mapped")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("openid.client_secret is required when an openid authenticator is mapped")
	}
	if c.Issuer == "" && (c.AuthorizationEndpoint == "" || c.TokenEndpoint == "") {
		return fmt.Errorf("openid.issuer or both openid.authorization_endpoint and openid.token_endpoint are required")
	}
	if (c.AuthorizationEndpoint == "") != (c.TokenEndpoint == "") {
		return fmt.Errorf("openid.authorization_endpoint and openid.token_endpoint must be set together")
	}
	if !strings.HasPrefix(c.RedirectPath, "/") {
		return fmt.Errorf("openid.redirect_path must start with /")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("openid.timeout must be positive")
	}
	return nil
}

// CookieKeys holds decoded session cookie keys.
type CookieKeys struct {
	Hash  []byte
	Block []byte
}

// Keys decodes the configured cookie keys. Missing keys are returned as nil.
func (c *SessionConfig) Keys() (CookieKeys, error) {
	var keys CookieKeys
	if c.HashKey != "" {
		b, err := hex.DecodeString(c.HashKey)
		if err != nil {
			return keys, fmt.Errorf("session.hash_key must be hex encoded: %w", err)
		}
		if len(b) < 32 {
			return keys, fmt.Errorf("session.hash_key must be at least 32 bytes, got %d", len(b))
		}
		keys.Hash = b
	}
	if c.BlockKey != "" {
		b, err := hex.DecodeString(c.BlockKey)
		if err != nil {
			return keys, fmt.Errorf("session.block_key must be hex encoded: %w", err)
		}
		switch len(b) {
		case 16, 24, 32:
		default:
			return keys, fmt.Errorf("session.block_key must be 16, 24 or 32 bytes, got %d", len(b))
		}
		keys.Block = b
	}
	if (keys.Hash == nil) != (keys.Block == nil) {
		return keys, fmt.Errorf("session.hash_key and session.block_key must be set together")
	}
	return keys, nil
}
