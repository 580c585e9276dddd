package processor

import (
	"context"
	"errors"

	"github.com/safepay/escrow-gateway/internal/events"
	"github.com/safepay/escrow-gateway/internal/notifier"
	"github.com/safepay/escrow-gateway/pkg/logger"
	"github.com/safepay/escrow-gateway/pkg/prom"
)

// TransactionEventProcessor delivers transaction lifecycle events to the
// merchant webhook with idempotency guarantees.
type TransactionEventProcessor struct {
	webhook     *notifier.Webhook
	idempotency *IdempotencyService
}

func NewTransactionEventProcessor(webhook *notifier.Webhook, idempotency *IdempotencyService) *TransactionEventProcessor {
	return &TransactionEventProcessor{
		webhook:     webhook,
		idempotency: idempotency,
	}
}

func (p *TransactionEventProcessor) GetType() string {
	return "transaction"
}

func (p *TransactionEventProcessor) Process(ctx context.Context, ev events.TransactionEvent) error {
	// Step 1: Acquire delivery lock and check idempotency
	dc, err := p.idempotency.AcquireDeliveryLock(ctx, ev.ID)
	if err != nil {
		if errors.Is(err, ErrAlreadyDelivered) {
			// Endpoint already acked this event - ACK to drop from stream
			return nil
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			// Endpoint keeps failing - give up and ACK so the stream moves on
			logger.Error("giving up on event delivery", "event_id", ev.ID, "event_type", ev.Type)
			prom.IncEventProcessed(ev.Type, "dropped")
			return nil
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			// Another consumer is delivering - NACK to retry later
			return errors.New("delivery lock held by another consumer")
		}
		logger.Error("failed to acquire delivery lock", "event_id", ev.ID, "error", err)
		return err
	}

	// Release the lock on exit unless already marked delivered/failed
	defer func() {
		p.idempotency.ReleaseLock(ctx, dc)
	}()

	logger.Info("delivering transaction event",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"transaction_ref", ev.TransactionRef,
		"retry_count", dc.RetryCount,
		"is_retry", dc.IsRetry)

	// Step 2: Deliver to the merchant endpoint
	if err := p.webhook.Deliver(ctx, ev); err != nil {
		logger.Error("webhook delivery failed", "event_id", ev.ID, "error", err)
		if markErr := p.idempotency.MarkFailure(ctx, dc, err); markErr != nil {
			logger.Error("failed to mark delivery failure", "event_id", ev.ID, "error", markErr)
		}
		prom.IncEventProcessed(ev.Type, "failure")
		return err // NACK to retry from the stream
	}

	// Step 3: Mark delivered so redeliveries become no-ops
	if markErr := p.idempotency.MarkDelivered(ctx, dc); markErr != nil {
		logger.Error("failed to mark event delivered", "event_id", ev.ID, "error", markErr)
		// Continue - the webhook already went out
	}

	prom.IncEventProcessed(ev.Type, "success")
	return nil
}
