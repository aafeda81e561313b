package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"golang.org/x/sync/singleflight"

	"github.com/speedwaystore/admin-push/internal/models"
	"github.com/speedwaystore/admin-push/pkg/metrics"
)

// FirebaseMessagingScope restricts issued tokens to the push-messaging API.
const FirebaseMessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// LoadServiceIdentity reads a service-account JSON file.
func LoadServiceIdentity(path string) (models.ServiceIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ServiceIdentity{}, fmt.Errorf("read service account: %w", err)
	}
	return ParseServiceIdentity(data)
}

// ParseServiceIdentity decodes service-account JSON. Private keys whose
// newlines were escaped (as when pasted into an env file) are normalized.
func ParseServiceIdentity(data []byte) (models.ServiceIdentity, error) {
	var extra struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return models.ServiceIdentity{}, fmt.Errorf("decode service account: %w", err)
	}

	conf, err := google.JWTConfigFromJSON(data, FirebaseMessagingScope)
	if err != nil {
		return models.ServiceIdentity{}, fmt.Errorf("parse service account: %w", err)
	}

	id := models.ServiceIdentity{
		ClientEmail:  conf.Email,
		PrivateKeyID: conf.PrivateKeyID,
		PrivateKey:   bytes.ReplaceAll(conf.PrivateKey, []byte(`\n`), []byte("\n")),
		ProjectID:    extra.ProjectID,
		TokenURL:     conf.TokenURL,
	}
	if id.TokenURL == "" {
		id.TokenURL = google.JWTTokenURL
	}

	var missing []string
	if id.ClientEmail == "" {
		missing = append(missing, "client_email")
	}
	if len(id.PrivateKey) == 0 {
		missing = append(missing, "private_key")
	}
	if id.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if len(missing) > 0 {
		return models.ServiceIdentity{}, fmt.Errorf("service account missing fields: %v", missing)
	}
	return id, nil
}

// CredentialBrokerConfig configures a CredentialBroker.
type CredentialBrokerConfig struct {
	Identity    models.ServiceIdentity
	Timeout     time.Duration
	CacheTokens bool
	HTTPClient  *http.Client // Optional, defaults to a client with Timeout
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time // Optional, defaults to time.Now
}

// CredentialBroker exchanges the service identity for bearer tokens using the
// OAuth2 JWT-bearer grant. With caching enabled a token is reused until it
// expires and at most one exchange is in flight at a time.
type CredentialBroker struct {
	identity    models.ServiceIdentity
	timeout     time.Duration
	cacheTokens bool
	client      *http.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu     sync.RWMutex
	cached models.AccessToken
	flight singleflight.Group
}

func NewCredentialBroker(cfg CredentialBrokerConfig) (*CredentialBroker, error) {
	if cfg.Identity.ClientEmail == "" || len(cfg.Identity.PrivateKey) == 0 {
		return nil, errors.New("service identity is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Identity.TokenURL == "" {
		cfg.Identity.TokenURL = google.JWTTokenURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CredentialBroker{
		identity:    cfg.Identity,
		timeout:     cfg.Timeout,
		cacheTokens: cfg.CacheTokens,
		client:      client,
		logger:      logger,
		metrics:     cfg.Metrics,
		now:         now,
	}, nil
}

// Authorize returns a bearer token valid for the push provider.
func (b *CredentialBroker) Authorize(ctx context.Context) (models.AccessToken, error) {
	if !b.cacheTokens {
		return b.exchange(ctx)
	}
	if tok, ok := b.cachedToken(); ok {
		return tok, nil
	}

	v, err, _ := b.flight.Do("access_token", func() (interface{}, error) {
		if tok, ok := b.cachedToken(); ok {
			return tok, nil
		}
		tok, err := b.exchange(ctx)
		if err != nil {
			return nil, err
		}
		if tok.ValidAt(b.now()) {
			b.mu.Lock()
			b.cached = tok
			b.mu.Unlock()
		}
		return tok, nil
	})
	if err != nil {
		return models.AccessToken{}, err
	}
	return v.(models.AccessToken), nil
}

func (b *CredentialBroker) cachedToken() (models.AccessToken, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cached.ValidAt(b.now()) {
		return b.cached, true
	}
	return models.AccessToken{}, false
}

// exchange performs one token request. It ignores the caller's cancellation
// because other dispatches may be waiting on the same refresh.
func (b *CredentialBroker) exchange(ctx context.Context) (models.AccessToken, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.client)

	conf := &jwt.Config{
		Email:        b.identity.ClientEmail,
		PrivateKey:   b.identity.PrivateKey,
		PrivateKeyID: b.identity.PrivateKeyID,
		Scopes:       []string{FirebaseMessagingScope},
		TokenURL:     b.identity.TokenURL,
	}

	start := time.Now()
	tok, err := conf.TokenSource(ctx).Token()
	if err != nil {
		b.metrics.IncAuthorization(metrics.ResultFailed)
		b.logger.Error("access token exchange failed",
			slog.Any("identity", b.identity),
			slog.Any("error", err),
		)
		return models.AccessToken{}, credentialError(err)
	}
	b.metrics.IncAuthorization(metrics.ResultSuccess)

	at := models.AccessToken{Value: tok.AccessToken, Expiry: tok.Expiry}
	b.logger.Debug("access token issued",
		slog.Any("token", at),
		slog.Duration("elapsed", time.Since(start)),
	)
	return at, nil
}
