package authz

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrogestion/plots/pkg/tenancy"
)

type capturedRequest struct {
	identity Identity
	company  string
}

func runJWTMiddleware(t *testing.T, cfg JWTConfig, setup func(r *http.Request)) capturedRequest {
	t.Helper()
	mw, err := JWTIdentityMiddleware(cfg, nil)
	require.NoError(t, err)

	var got capturedRequest
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.identity, _ = IdentityFromContext(r.Context())
		got.company = tenancy.CompanyFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	setup(req)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestJWTIdentityMiddleware(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
		require.NoError(t, err)
		return s
	}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name        string
		cfg         JWTConfig
		header      func(r *http.Request)
		wantUser    string
		wantGroups  []string
		wantCompany string
	}{
		{
			name: "roles array and company claim",
			header: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(jwt.MapClaims{
					"sub": "ana", "roles": []interface{}{"PRODUCTOR", "TECNICO"}, "company_id": "acme", "exp": exp,
				}))
			},
			wantUser:    "ana",
			wantGroups:  []string{"PRODUCTOR", "TECNICO"},
			wantCompany: "acme",
		},
		{
			name: "nested roles claim",
			cfg:  JWTConfig{RolesClaim: "realm_access.roles"},
			header: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(jwt.MapClaims{
					"preferred_username": "beto",
					"realm_access":       map[string]interface{}{"roles": []interface{}{"ASESOR"}},
					"exp":                exp,
				}))
			},
			wantUser:   "beto",
			wantGroups: []string{"ASESOR"},
		},
		{
			name: "single string role",
			header: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(jwt.MapClaims{"sub": "caro", "roles": "OPERARIO", "exp": exp}))
			},
			wantUser:   "caro",
			wantGroups: []string{"OPERARIO"},
		},
		{
			name: "prefixed and lower case roles",
			header: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(jwt.MapClaims{
					"sub": "dani", "roles": []interface{}{"ROLE_productor", "técnico", "PRODUCTOR"}, "exp": exp,
				}))
			},
			wantUser:   "dani",
			wantGroups: []string{"PRODUCTOR", "TECNICO"},
		},
		{
			name: "invalid company claim ignored",
			header: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(jwt.MapClaims{"sub": "ana", "company_id": "../etc", "exp": exp}))
			},
			wantUser: "ana",
		},
		{
			name: "no token falls back to headers",
			header: func(r *http.Request) {
				r.Header.Set("X-Remote-User", "dani")
				r.Header.Set("X-Remote-Group", "TECNICO")
			},
			wantUser:   "dani",
			wantGroups: []string{"TECNICO"},
		},
		{
			name: "garbage token falls back to anonymous",
			header: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer not-a-jwt")
			},
			wantUser: "anonymous",
		},
		{
			name: "issuer mismatch rejected",
			cfg:  JWTConfig{Issuer: "https://idp.example"},
			header: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(jwt.MapClaims{"sub": "eve", "iss": "https://other", "exp": exp}))
			},
			wantUser: "anonymous",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := runJWTMiddleware(t, tt.cfg, tt.header)
			assert.Equal(t, tt.wantUser, got.identity.User)
			assert.Equal(t, tt.wantGroups, got.identity.Groups)
			assert.Equal(t, tt.wantCompany, got.company)
		})
	}
}

func TestJWTIdentityMiddleware_VerifiesSignature(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "jwt.pem")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	cfg := JWTConfig{PublicKeyPath: keyPath}
	claims := jwt.MapClaims{"sub": "ana", "roles": []interface{}{"PRODUCTOR"}, "exp": time.Now().Add(time.Hour).Unix()}

	good, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(otherKey)
	require.NoError(t, err)

	got := runJWTMiddleware(t, cfg, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+good) })
	assert.Equal(t, "ana", got.identity.User)

	got = runJWTMiddleware(t, cfg, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+forged) })
	assert.Equal(t, "anonymous", got.identity.User)
}

func TestJWTIdentityMiddleware_BadKeyPath(t *testing.T) {
	_, err := JWTIdentityMiddleware(JWTConfig{PublicKeyPath: filepath.Join(t.TempDir(), "missing.pem")}, nil)
	require.Error(t, err)
}
