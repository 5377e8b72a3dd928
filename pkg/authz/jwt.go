package authz

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agrogestion/plots/pkg/tenancy"
)

// JWTConfig configures identity extraction from bearer tokens.
type JWTConfig struct {
	// RolesClaim is the claim path holding the caller's roles. Supports
	// dot-notation for nested claims (e.g. "realm_access.roles").
	RolesClaim string

	// CompanyClaim is the claim holding the caller's company id. When present
	// it pins the request's tenant.
	CompanyClaim string

	// PublicKeyPath is the PEM-encoded RSA public key for RS256 verification.
	// If empty, tokens are parsed but NOT verified (trusted proxy mode).
	PublicKeyPath string

	Issuer   string
	Audience string
}

// JWTIdentityMiddleware returns middleware that reads the caller identity from
// "Authorization: Bearer <token>". The subject becomes the user, the roles
// claim the groups and the company claim the tenant. Requests without a
// usable token fall back to the X-Remote-* headers.
func JWTIdentityMiddleware(cfg JWTConfig, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.RolesClaim == "" {
		cfg.RolesClaim = "roles"
	}
	if cfg.CompanyClaim == "" {
		cfg.CompanyClaim = "company_id"
	}
	if logger == nil {
		logger = slog.Default()
	}

	publicKey, err := loadRSAPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, err
	}
	if publicKey != nil {
		logger.Info("JWT identity: using RS256 verification", "keyPath", cfg.PublicKeyPath)
	} else {
		logger.Warn("JWT identity: no public key configured, tokens parsed without verification (trusted proxy mode)")
	}

	headers := IdentityMiddleware()

	return func(next http.Handler) http.Handler {
		fallback := headers(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				fallback.ServeHTTP(w, r)
				return
			}

			claims, err := parseJWTClaims(token, publicKey, cfg)
			if err != nil {
				logger.Debug("JWT parse failed, falling back to headers", "error", err)
				fallback.ServeHTTP(w, r)
				return
			}

			user, _ := claims.GetSubject()
			if user == "" {
				if name, ok := claims["preferred_username"].(string); ok {
					user = name
				}
			}
			if user == "" {
				user = "anonymous"
			}

			ctx := WithIdentity(r.Context(), Identity{
				User:   user,
				Groups: NormalizeRoles(claimStrings(claims, cfg.RolesClaim)...),
			})
			if company := claimStrings(claims, cfg.CompanyClaim); len(company) == 1 {
				if err := tenancy.ValidateCompany(company[0]); err == nil {
					ctx = tenancy.WithTenant(ctx, tenancy.TenantContext{CompanyID: company[0]})
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	if path == "" {
		return nil, nil
	}
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT public key from %s: %w", path, err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from %s", path)
	}
	parsedKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := parsedKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA (got %T)", parsedKey)
	}
	return rsaKey, nil
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseJWTClaims(tokenString string, publicKey *rsa.PublicKey, cfg JWTConfig) (jwt.MapClaims, error) {
	parserOpts := []jwt.ParserOption{}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}

	var token *jwt.Token
	var err error

	if publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return publicKey, nil
		}, parserOpts...)
	} else {
		// Trusted proxy mode: parse without verification
		parser := jwt.NewParser(parserOpts...)
		token, _, err = parser.ParseUnverified(tokenString, jwt.MapClaims{})
		if err == nil {
			err = jwt.NewValidator(parserOpts...).Validate(token.Claims)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

// claimStrings resolves a dot-notation claim path to a list of strings.
// A string claim yields one element; an array claim yields its string members.
func claimStrings(claims jwt.MapClaims, claimPath string) []string {
	var current interface{} = map[string]interface{}(claims)
	for _, part := range strings.Split(claimPath, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}

	switch v := current.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
