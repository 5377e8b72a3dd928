package authz

import (
	"os"
	"strings"
	"time"
)

// AuthzMode selects the authorization backend.
type AuthzMode string

const (
	// AuthzModeNone disables authorization checks (development).
	AuthzModeNone AuthzMode = "none"
	// AuthzModeRoles checks the caller's roles against the built-in policy.
	AuthzModeRoles AuthzMode = "roles"
)

// AuthMode selects how the caller identity is extracted.
type AuthMode string

const (
	// AuthModeHeader reads X-Remote-User / X-Remote-Group (trusted proxy).
	AuthModeHeader AuthMode = "header"
	// AuthModeJWT reads a bearer token.
	AuthModeJWT AuthMode = "jwt"
)

// Config holds identity and authorization settings.
type Config struct {
	AuthMode  AuthMode
	AuthzMode AuthzMode
	CacheTTL  time.Duration
	JWT       JWTConfig
}

// ConfigFromEnv reads the configuration from environment variables:
//   - PLOTS_AUTH_MODE: "header" (default) or "jwt"
//   - PLOTS_AUTHZ_MODE: "roles" (default) or "none"
//   - PLOTS_JWT_PUBLIC_KEY_PATH, PLOTS_JWT_ISSUER, PLOTS_JWT_AUDIENCE
//   - PLOTS_JWT_ROLES_CLAIM (default "roles"), PLOTS_JWT_COMPANY_CLAIM (default "company_id")
func ConfigFromEnv() Config {
	cfg := Config{
		AuthMode:  AuthModeHeader,
		AuthzMode: AuthzModeRoles,
		CacheTTL:  DefaultCacheTTL,
		JWT: JWTConfig{
			RolesClaim:    envOrDefault("PLOTS_JWT_ROLES_CLAIM", "roles"),
			CompanyClaim:  envOrDefault("PLOTS_JWT_COMPANY_CLAIM", "company_id"),
			PublicKeyPath: os.Getenv("PLOTS_JWT_PUBLIC_KEY_PATH"),
			Issuer:        os.Getenv("PLOTS_JWT_ISSUER"),
			Audience:      os.Getenv("PLOTS_JWT_AUDIENCE"),
		},
	}
	if strings.EqualFold(os.Getenv("PLOTS_AUTH_MODE"), string(AuthModeJWT)) {
		cfg.AuthMode = AuthModeJWT
	}
	if strings.EqualFold(os.Getenv("PLOTS_AUTHZ_MODE"), string(AuthzModeNone)) {
		cfg.AuthzMode = AuthzModeNone
	}
	return cfg
}

// NewAuthorizer builds the Authorizer for the configured mode.
func NewAuthorizer(cfg Config) Authorizer {
	if cfg.AuthzMode == AuthzModeNone {
		return &NoopAuthorizer{}
	}
	return NewCachedAuthorizer(NewRoleAuthorizer(DefaultPolicy()), cfg.CacheTTL)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
