package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/speedwaystore/admin-push/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fakeAuthorizer struct {
	calls atomic.Int32
	err   error
	ttl   time.Duration
}

func (f *fakeAuthorizer) Authorize(_ context.Context) (models.AccessToken, error) {
	f.calls.Add(1)
	if f.err != nil {
		return models.AccessToken{}, credentialError(f.err)
	}
	ttl := f.ttl
	if ttl == 0 {
		ttl = time.Hour
	}
	return models.AccessToken{Value: "ya29.test", Expiry: time.Now().Add(ttl)}, nil
}

type fakeRegistry struct {
	calls       atomic.Int32
	role        string
	subscribers []models.Subscriber
	err         error
}

func (f *fakeRegistry) SubscribersByRole(_ context.Context, role string) ([]models.Subscriber, error) {
	f.calls.Add(1)
	f.role = role
	if f.err != nil {
		return nil, f.err
	}
	return f.subscribers, nil
}

func admins(addresses ...interface{}) []models.Subscriber {
	subs := make([]models.Subscriber, 0, len(addresses))
	for i, addr := range addresses {
		subs = append(subs, models.Subscriber{ID: string(rune('a' + i)), Address: addr})
	}
	return subs
}

type sentMessage struct {
	AccessToken string
	Address     string
	Payload     PushPayload
}

type fakeProvider struct {
	mu       sync.Mutex
	sent     []sentMessage
	failures map[string]error
	delay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Send(ctx context.Context, accessToken, address string, payload *PushPayload) (*SendResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{AccessToken: accessToken, Address: address, Payload: *payload})
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.failures[address]; ok {
		return nil, err
	}
	return &SendResult{MessageID: "projects/p/messages/" + address}, nil
}

func (f *fakeProvider) addresses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Address)
	}
	return out
}

type fakeSuppressor struct {
	mu         sync.Mutex
	suppressed map[string]bool
	lookupErr  error
	// calls made with a context that has no deadline
	unbounded atomic.Int32
}

func (s *fakeSuppressor) checkDeadline(ctx context.Context) {
	if _, ok := ctx.Deadline(); !ok {
		s.unbounded.Add(1)
	}
}

func newFakeSuppressor(tokens ...string) *fakeSuppressor {
	s := &fakeSuppressor{suppressed: map[string]bool{}}
	for _, t := range tokens {
		s.suppressed[t] = true
	}
	return s
}

func (s *fakeSuppressor) IsTokenSuppressed(ctx context.Context, token string) (bool, error) {
	s.checkDeadline(ctx)
	if s.lookupErr != nil {
		return false, s.lookupErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed[token], nil
}

func (s *fakeSuppressor) SuppressToken(ctx context.Context, token string, _ time.Duration) error {
	s.checkDeadline(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed[token] = true
	return nil
}

func (s *fakeSuppressor) has(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed[token]
}

var errBoom = errors.New("boom")
