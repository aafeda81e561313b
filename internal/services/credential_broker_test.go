package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedwaystore/admin-push/internal/models"
)

type tokenServer struct {
	*httptest.Server
	calls       atomic.Int32
	accessToken string
}

// newTokenServer fakes the OAuth2 token endpoint. expiresIn <= 0 makes it
// reject every request.
func newTokenServer(t *testing.T, expiresIn int) *tokenServer {
	t.Helper()
	ts := &tokenServer{accessToken: "ya29.fake-access-token"}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.Form.Get("grant_type"))
		assert.NotEmpty(t, r.Form.Get("assertion"))

		w.Header().Set("Content-Type", "application/json")
		if expiresIn <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid JWT Signature."}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":%d}`, ts.accessToken, expiresIn)
	}))
	return ts
}

var (
	testKeyOnce sync.Once
	testKeyPEM  []byte
)

func testPrivateKey(t *testing.T) []byte {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		testKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	})
	return testKeyPEM
}

func testIdentity(t *testing.T, tokenURL string) models.ServiceIdentity {
	return models.ServiceIdentity{
		ClientEmail:  "push@speedway-test.iam.gserviceaccount.com",
		PrivateKeyID: "key-1",
		PrivateKey:   testPrivateKey(t),
		ProjectID:    "speedway-test",
		TokenURL:     tokenURL,
	}
}

func TestParseServiceIdentity(t *testing.T) {
	escaped := strings.ReplaceAll(string(testPrivateKey(t)), "\n", `\n`)
	doc := map[string]string{
		"type":           "service_account",
		"project_id":     "speedway-test",
		"private_key_id": "key-1",
		"private_key":    escaped,
		"client_email":   "push@speedway-test.iam.gserviceaccount.com",
		"token_uri":      "https://oauth2.googleapis.com/token",
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "service-account.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	id, err := LoadServiceIdentity(path)
	require.NoError(t, err)
	assert.Equal(t, "speedway-test", id.ProjectID)
	assert.Equal(t, "push@speedway-test.iam.gserviceaccount.com", id.ClientEmail)
	assert.Equal(t, "key-1", id.PrivateKeyID)
	assert.Equal(t, "https://oauth2.googleapis.com/token", id.TokenURL)
	assert.Equal(t, testPrivateKey(t), id.PrivateKey, "escaped newlines are restored")
}

func TestParseServiceIdentity_MissingProject(t *testing.T) {
	data, err := json.Marshal(map[string]string{
		"type":         "service_account",
		"private_key":  string(testPrivateKey(t)),
		"client_email": "push@speedway-test.iam.gserviceaccount.com",
	})
	require.NoError(t, err)

	_, err = ParseServiceIdentity(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_id")
}

func TestLoadServiceIdentity_MissingFile(t *testing.T) {
	_, err := LoadServiceIdentity(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestCredentialBroker_Authorize(t *testing.T) {
	srv := newTokenServer(t, 3600)
	defer srv.Close()

	broker, err := NewCredentialBroker(CredentialBrokerConfig{
		Identity: testIdentity(t, srv.URL),
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	tok, err := broker.Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.accessToken, tok.Value)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)

	_, err = broker.Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.calls.Load(), "without caching every call exchanges")
}

func TestCredentialBroker_CachesUntilExpiry(t *testing.T) {
	srv := newTokenServer(t, 3600)
	defer srv.Close()

	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	broker, err := NewCredentialBroker(CredentialBrokerConfig{
		Identity:    testIdentity(t, srv.URL),
		CacheTokens: true,
		Logger:      discardLogger(),
		Now:         clock,
	})
	require.NoError(t, err)

	for range 3 {
		_, err := broker.Authorize(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), srv.calls.Load())

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	_, err = broker.Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.calls.Load(), "expired token triggers a fresh exchange")
}

func TestCredentialBroker_ConcurrentRefreshIsShared(t *testing.T) {
	srv := newTokenServer(t, 3600)
	defer srv.Close()

	broker, err := NewCredentialBroker(CredentialBrokerConfig{
		Identity:    testIdentity(t, srv.URL),
		CacheTokens: true,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := broker.Authorize(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, srv.accessToken, tok.Value)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestCredentialBroker_RejectedExchange(t *testing.T) {
	srv := newTokenServer(t, 0)
	defer srv.Close()

	broker, err := NewCredentialBroker(CredentialBrokerConfig{
		Identity:    testIdentity(t, srv.URL),
		CacheTokens: true,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)

	_, err = broker.Authorize(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindCredential, KindOf(err))

	_, err = broker.Authorize(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), srv.calls.Load(), "failures are not cached")
}

func TestCredentialBroker_InvalidKey(t *testing.T) {
	srv := newTokenServer(t, 3600)
	defer srv.Close()

	id := testIdentity(t, srv.URL)
	id.PrivateKey = []byte("not a key")
	broker, err := NewCredentialBroker(CredentialBrokerConfig{Identity: id, Logger: discardLogger()})
	require.NoError(t, err)

	_, err = broker.Authorize(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindCredential, KindOf(err))
	assert.Zero(t, srv.calls.Load())
}

func TestNewCredentialBroker_RequiresIdentity(t *testing.T) {
	_, err := NewCredentialBroker(CredentialBrokerConfig{})
	require.Error(t, err)
}
