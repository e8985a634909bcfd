package keyreg

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pulsewatch/pulsewatch/internal/sign"
)

func genKey(t *testing.T) string {
	t.Helper()
	pub, err := sign.Generate(filepath.Join(t.TempDir(), "key"))
	require.NoError(t, err)
	return pub
}

func TestFileLoader(t *testing.T) {
	pub := genKey(t)
	path := filepath.Join(t.TempDir(), "sources.yaml")
	doc := fmt.Sprintf("sources:\n  monitor-1: %s\n  monitor-2: %s\n", pub, pub)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	raw, err := FileLoader{Path: path}.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, raw, 2)
	assert.Equal(t, pub, raw["monitor-1"])
}

func TestFileLoaderEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources: {}\n"), 0600))

	_, err := FileLoader{Path: path}.Load(context.Background())
	assert.Error(t, err)
}

func TestHTTPLoader(t *testing.T) {
	pub := genKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"sources":{"monitor-1":%q}}`, pub)
	}))
	defer srv.Close()

	raw, err := HTTPLoader{URL: srv.URL}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pub, raw["monitor-1"])
}

func TestHTTPLoaderBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := HTTPLoader{URL: srv.URL}.Load(context.Background())
	assert.Error(t, err)
}

type stubLoader struct {
	responses []map[string]string
	errs      []error
	calls     int
}

func (s *stubLoader) Load(ctx context.Context) (map[string]string, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], s.errs[i]
}

func TestStartAndLookup(t *testing.T) {
	pub := genKey(t)
	loader := &stubLoader{
		responses: []map[string]string{{"monitor-1": pub}},
		errs:      []error{nil},
	}
	reg := New(loader, time.Hour, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Start(ctx))

	key, ok := reg.Lookup("monitor-1")
	assert.True(t, ok)
	assert.NotEmpty(t, key)

	_, ok = reg.Lookup("stranger")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())
}

func TestStartSkipsMalformedKeys(t *testing.T) {
	pub := genKey(t)
	loader := &stubLoader{
		responses: []map[string]string{{"good": pub, "bad": "not base64!!"}},
		errs:      []error{nil},
	}
	reg := New(loader, time.Hour, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Start(ctx))

	_, ok := reg.Lookup("good")
	assert.True(t, ok)
	_, ok = reg.Lookup("bad")
	assert.False(t, ok)
}

func TestRefreshKeepsLastKnownGood(t *testing.T) {
	pub := genKey(t)
	loader := &stubLoader{
		responses: []map[string]string{{"monitor-1": pub}, nil},
		errs:      []error{nil, fmt.Errorf("registry down")},
	}
	reg := New(loader, time.Hour, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Start(ctx))

	require.Error(t, reg.refresh(ctx))
	_, ok := reg.Lookup("monitor-1")
	assert.True(t, ok, "failed refresh must keep serving the previous keys")
}

func TestRefreshDropsRevokedSources(t *testing.T) {
	pub := genKey(t)
	loader := &stubLoader{
		responses: []map[string]string{
			{"monitor-1": pub, "monitor-2": pub},
			{"monitor-1": pub},
		},
		errs: []error{nil, nil},
	}
	reg := New(loader, time.Hour, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Start(ctx))
	require.NoError(t, reg.refresh(ctx))

	_, ok := reg.Lookup("monitor-2")
	assert.False(t, ok, "revoked source must disappear after refresh")
}
