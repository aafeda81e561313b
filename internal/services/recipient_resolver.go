package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/speedwaystore/admin-push/internal/models"
)

// DefaultAdminRole is the registry role whose subscribers receive order alerts.
const DefaultAdminRole = "admin"

// Registry is the subscriber store, queried by role.
type Registry interface {
	SubscribersByRole(ctx context.Context, role string) ([]models.Subscriber, error)
}

// TokenSuppressor remembers addresses the provider permanently rejected.
type TokenSuppressor interface {
	IsTokenSuppressed(ctx context.Context, token string) (bool, error)
	SuppressToken(ctx context.Context, token string, ttl time.Duration) error
}

// RecipientResolver turns admin subscriber records into delivery addresses.
type RecipientResolver struct {
	registry   Registry
	suppressor TokenSuppressor
	role       string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewRecipientResolver builds a resolver. suppressor may be nil.
func NewRecipientResolver(registry Registry, suppressor TokenSuppressor, role string, timeout time.Duration, logger *slog.Logger) *RecipientResolver {
	if role == "" {
		role = DefaultAdminRole
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RecipientResolver{
		registry:   registry,
		suppressor: suppressor,
		role:       role,
		timeout:    timeout,
		logger:     logger,
	}
}

// ResolveAdmins returns every admin address in registry order. Subscribers
// without an address are skipped; an empty result is not an error.
func (r *RecipientResolver) ResolveAdmins(ctx context.Context) ([]models.Recipient, error) {
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	subscribers, err := r.registry.SubscribersByRole(qctx, r.role)
	if err != nil {
		return nil, registryError(err)
	}

	recipients := make([]models.Recipient, 0, len(subscribers))
	for _, sub := range subscribers {
		rcpt, ok := models.RecipientFromSubscriber(sub)
		if !ok {
			r.logger.Debug("subscriber has no push token", slog.String("subscriber_id", sub.ID))
			continue
		}
		if r.isSuppressed(ctx, rcpt.Address) {
			r.logger.Debug("skipping suppressed push token", slog.String("subscriber_id", sub.ID))
			continue
		}
		recipients = append(recipients, rcpt)
	}

	r.logger.Info("resolved admin recipients",
		slog.Int("subscribers", len(subscribers)),
		slog.Int("recipients", len(recipients)),
	)
	return recipients, nil
}

// isSuppressed treats a suppression store failure as "not suppressed".
func (r *RecipientResolver) isSuppressed(ctx context.Context, address string) bool {
	if r.suppressor == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	suppressed, err := r.suppressor.IsTokenSuppressed(ctx, address)
	if err != nil {
		r.logger.Warn("token suppression lookup failed", slog.Any("error", err))
		return false
	}
	return suppressed
}
