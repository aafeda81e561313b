package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/speedwaystore/admin-push/internal/models"
	"github.com/speedwaystore/admin-push/pkg/metrics"
)

const (
	defaultConcurrency     = 4
	defaultProviderTimeout = 10 * time.Second
	defaultSuppressionTTL  = 24 * time.Hour
)

// Authorizer issues bearer tokens for the push provider.
type Authorizer interface {
	Authorize(ctx context.Context) (models.AccessToken, error)
}

// RecipientSource lists the addresses an order alert goes to.
type RecipientSource interface {
	ResolveAdmins(ctx context.Context) ([]models.Recipient, error)
}

// DispatcherConfig tunes the per-recipient fan-out.
type DispatcherConfig struct {
	Concurrency     int
	ProviderTimeout time.Duration
	SuppressionTTL  time.Duration
	Template        PayloadTemplate
}

// Dispatcher fans an order event out to every admin recipient. Each recipient
// is attempted independently; one failure never stops the others.
type Dispatcher struct {
	authorizer Authorizer
	recipients RecipientSource
	provider   PushProvider
	suppressor TokenSuppressor
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        DispatcherConfig
}

// NewDispatcher wires a dispatcher. suppressor and metrics may be nil.
func NewDispatcher(
	authorizer Authorizer,
	recipients RecipientSource,
	provider PushProvider,
	suppressor TokenSuppressor,
	metrics *metrics.Metrics,
	logger *slog.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.SuppressionTTL <= 0 {
		cfg.SuppressionTTL = defaultSuppressionTTL
	}
	return &Dispatcher{
		authorizer: authorizer,
		recipients: recipients,
		provider:   provider,
		suppressor: suppressor,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// Dispatch notifies every admin about event.
//
// Validation, credential and registry failures abort before any delivery and
// are returned as *Error. Provider rejections are reported only through the
// result. A delivery error is returned only when no recipient was reached
// and none of the failures was a rejection, i.e. the provider is down.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.OrderEvent) (models.AggregateResult, error) {
	if err := event.Validate(); err != nil {
		return d.abort("", validationError(err))
	}

	dispatchID := uuid.NewString()
	logger := d.logger.With(
		slog.String("dispatch_id", dispatchID),
		slog.String("order_id", event.OrderID),
	)

	token, err := d.authorizer.Authorize(ctx)
	if err != nil {
		logger.Error("authorization failed, dispatch aborted", slog.Any("error", err))
		return d.abort(dispatchID, err)
	}

	recipients, err := d.recipients.ResolveAdmins(ctx)
	if err != nil {
		logger.Error("recipient lookup failed, dispatch aborted", slog.Any("error", err))
		return d.abort(dispatchID, err)
	}
	if len(recipients) == 0 {
		logger.Warn("no admin push tokens registered")
		return models.Aggregate(dispatchID, nil), nil
	}

	payload := d.cfg.Template.Build(event)
	outcomes, outages := d.deliverAll(ctx, logger, token, recipients, payload)
	result := models.Aggregate(dispatchID, outcomes)

	logger.Info("dispatch finished",
		slog.Bool("success", result.Success),
		slog.Int("delivered", result.Delivered),
		slog.Int("failed", result.Failed),
	)

	if result.Delivered == 0 && outages == len(outcomes) {
		err := deliveryError(ErrAllDeliveriesFailed)
		d.metrics.IncDispatchError(string(KindDelivery))
		return result, err
	}
	return result, nil
}

func (d *Dispatcher) abort(dispatchID string, err error) (models.AggregateResult, error) {
	kind := KindOf(err)
	d.metrics.IncDispatchError(string(kind))
	return models.AggregateResult{
		DispatchID: dispatchID,
		Summary:    fmt.Sprintf("%s failure", kind),
	}, err
}

// deliverAll runs one delivery per recipient with bounded concurrency and
// joins every outcome, counting failures that were not provider rejections.
// In-flight sends are not cancelled with ctx; recipients not yet started when
// ctx ends are recorded as failed.
func (d *Dispatcher) deliverAll(ctx context.Context, logger *slog.Logger, token models.AccessToken, recipients []models.Recipient, payload *PushPayload) ([]models.DeliveryOutcome, int) {
	outcomes := make([]models.DeliveryOutcome, len(recipients))
	outage := make([]bool, len(recipients))
	sendCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, rcpt := range recipients {
		if err := ctx.Err(); err != nil {
			outcomes[i] = models.DeliveryOutcome{
				Recipient: rcpt,
				ErrorCode: "CANCELLED",
				Error:     fmt.Sprintf("dispatch cancelled: %v", err),
			}
			outage[i] = true
			d.metrics.IncDelivery(metrics.ResultFailed)
			continue
		}
		g.Go(func() error {
			outcomes[i], outage[i] = d.deliver(sendCtx, logger, token, rcpt, payload)
			return nil
		})
	}
	_ = g.Wait()

	outages := 0
	for _, o := range outage {
		if o {
			outages++
		}
	}
	return outcomes, outages
}

// deliver sends to one recipient. The bool reports a failure that was not a
// rejection by the provider.
func (d *Dispatcher) deliver(ctx context.Context, logger *slog.Logger, token models.AccessToken, rcpt models.Recipient, payload *PushPayload) (models.DeliveryOutcome, bool) {
	out := models.DeliveryOutcome{Recipient: rcpt}

	if !token.ValidAt(time.Now()) {
		var err error
		token, err = d.authorizer.Authorize(ctx)
		if err != nil {
			out.ErrorCode = "AUTHORIZATION_FAILED"
			out.Error = err.Error()
			d.metrics.IncDelivery(metrics.ResultFailed)
			logger.Warn("push delivery skipped, no access token", slog.String("token", tokenHint(rcpt.Address)), slog.Any("error", err))
			return out, true
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.ProviderTimeout)
	defer cancel()

	res, err := d.provider.Send(sendCtx, token.Value, rcpt.Address, payload)
	if res != nil {
		out.MessageID = res.MessageID
		out.Response = res.Raw
	}
	if err != nil {
		out.ErrorCode = errorCode(err)
		out.Error = deliveryError(err).Error()
		d.metrics.IncDelivery(metrics.ResultFailed)
		logger.Warn("push delivery failed",
			slog.String("provider", d.provider.Name()),
			slog.String("token", tokenHint(rcpt.Address)),
			slog.String("error_code", out.ErrorCode),
			slog.Any("error", err),
		)
		if isTokenFatal(out.ErrorCode) {
			d.suppress(ctx, logger, rcpt.Address)
		}
		return out, !isRejection(err)
	}

	out.Success = true
	d.metrics.IncDelivery(metrics.ResultSuccess)
	logger.Debug("push delivered", slog.String("token", tokenHint(rcpt.Address)), slog.String("message_id", out.MessageID))
	return out, false
}

func (d *Dispatcher) suppress(ctx context.Context, logger *slog.Logger, address string) {
	if d.suppressor == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ProviderTimeout)
	defer cancel()
	if err := d.suppressor.SuppressToken(ctx, address, d.cfg.SuppressionTTL); err != nil {
		logger.Warn("failed to suppress push token", slog.Any("error", err))
		return
	}
	d.metrics.IncSuppressed()
}

func errorCode(err error) string {
	var perr *ProviderError
	switch {
	case errors.As(err, &perr):
		return perr.Code()
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	default:
		return "UNAVAILABLE"
	}
}

// isRejection reports whether the provider answered and refused the message,
// as opposed to being unreachable, overloaded or failing internally.
func isRejection(err error) bool {
	var perr *ProviderError
	if !errors.As(err, &perr) {
		return false
	}
	return perr.HTTPStatus < 500 && perr.HTTPStatus != http.StatusTooManyRequests
}

// tokenHint shortens an address for logs.
func tokenHint(address string) string {
	if len(address) <= 8 {
		return address
	}
	return address[:8] + "…"
}
