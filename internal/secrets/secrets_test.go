package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/dbtester/internal/config"
)

type stubProvider struct {
	name    string
	enabled bool
	creds   *Credentials
	err     error
	calls   int
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) IsEnabled() bool { return s.enabled }
func (s *stubProvider) GetCredentials(context.Context, string, string, string) (*Credentials, error) {
	s.calls++
	return s.creds, s.err
}

func TestEnvProvider(t *testing.T) {
	assert.False(t, EnvProvider{Username: "app"}.IsEnabled())

	creds, err := EnvProvider{Username: "app", Password: "pw"}.GetCredentials(context.Background(), "", "", "")
	require.NoError(t, err)
	assert.Equal(t, &Credentials{Username: "app", Password: "pw"}, creds)

	_, err = EnvProvider{Password: "pw"}.GetCredentials(context.Background(), "", "", "")
	assert.ErrorContains(t, err, "DB_USER")
}

func TestResolve(t *testing.T) {
	boom := errors.New("sealed")

	testCases := []struct {
		name      string
		providers []Provider
		want      *Credentials
		wantErr   error
		contains  string
	}{
		{
			name: "First enabled wins",
			providers: []Provider{
				&stubProvider{name: "off", creds: &Credentials{Username: "x", Password: "x"}},
				&stubProvider{name: "a", enabled: true, creds: &Credentials{Username: "u", Password: "p"}},
				&stubProvider{name: "b", enabled: true, creds: &Credentials{Username: "v", Password: "q"}},
			},
			want: &Credentials{Username: "u", Password: "p"},
		},
		{
			name: "Failure falls through",
			providers: []Provider{
				&stubProvider{name: "a", enabled: true, err: boom},
				&stubProvider{name: "b", enabled: true, creds: &Credentials{Password: "q"}},
			},
			want: &Credentials{Username: "fallback", Password: "q"},
		},
		{
			name: "All fail",
			providers: []Provider{
				&stubProvider{name: "a", enabled: true, err: boom},
				&stubProvider{name: "b", enabled: true, creds: &Credentials{Username: "u"}},
			},
			wantErr:  ErrNoCredentials,
			contains: "b: password field is empty",
		},
		{
			name:      "None enabled",
			providers: []Provider{&stubProvider{name: "a"}, nil},
			wantErr:   ErrNoCredentials,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			creds, err := Resolve(context.Background(), Request{Path: "db/app", FallbackUser: "fallback"}, zaptest.NewLogger(t), tc.providers...)
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.wantErr)
				if tc.contains != "" {
					assert.Contains(t, err.Error(), tc.contains)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, creds)
		})
	}
}

func kvServer(t *testing.T, secrets map[string]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s.test", r.Header.Get("X-Vault-Token"))
		data, ok := secrets[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data": data,
				"metadata": map[string]any{
					"created_time":  "2024-01-01T00:00:00Z",
					"deletion_time": "",
					"destroyed":     false,
					"version":       1,
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVaultProvider(t *testing.T) {
	srv := kvServer(t, map[string]map[string]any{
		"/v1/kv/data/db/app":    {"user": "app", "pass": "s3cret"},
		"/v1/kv/data/db/nopass": {"user": "app"},
	})

	p, err := NewVaultProvider(&config.Config{
		VaultEnabled:   true,
		VaultAddr:      srv.URL,
		VaultToken:     "s.test",
		VaultMountPath: "kv",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.True(t, p.IsEnabled())

	ctx := context.Background()
	creds, err := p.GetCredentials(ctx, "db/app", "user", "pass")
	require.NoError(t, err)
	assert.Equal(t, &Credentials{Username: "app", Password: "s3cret"}, creds)

	_, err = p.GetCredentials(ctx, "db/missing", "user", "pass")
	assert.ErrorContains(t, err, "not found")

	_, err = p.GetCredentials(ctx, "db/nopass", "user", "pass")
	assert.ErrorContains(t, err, `password key "pass"`)

	_, err = p.GetCredentials(ctx, "", "", "")
	assert.ErrorContains(t, err, "path cannot be empty")
}

func TestVaultProviderDisabled(t *testing.T) {
	p, err := NewVaultProvider(&config.Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, p.IsEnabled())

	_, err = p.GetCredentials(context.Background(), "db/app", "", "")
	assert.ErrorContains(t, err, "not enabled")
}
