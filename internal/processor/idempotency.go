package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safepay/escrow-gateway/pkg/logger"
	"github.com/safepay/escrow-gateway/pkg/redis"
)

var (
	ErrAlreadyDelivered   = errors.New("event already delivered")
	ErrLockAcquireFailed  = errors.New("failed to acquire delivery lock")
	ErrMaxRetriesExceeded = errors.New("maximum delivery retries exceeded")
)

type IdempotencyConfig struct {
	LockTTL time.Duration

	DeliveredTTL time.Duration

	MaxRetries int

	RetryKeyPrefix string

	LockKeyPrefix string

	DeliveredKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		DeliveredTTL:       24 * time.Hour,
		MaxRetries:         3,
		RetryKeyPrefix:     "webhook:retry:",
		LockKeyPrefix:      "webhook:lock:",
		DeliveredKeyPrefix: "webhook:delivered:",
	}
}

// IdempotencyService guards webhook delivery so a redelivered stream
// message never notifies the endpoint twice. Markers live in redis: a
// short lock while a consumer works an event, a retry counter across
// attempts, and a long-lived delivered marker once the endpoint acked.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type DeliveryContext struct {
	EventID      string
	RetryCount   int
	IsRetry      bool
	lockAcquired bool
	service      *IdempotencyService
}

func (s *IdempotencyService) AcquireDeliveryLock(ctx context.Context, eventID string) (*DeliveryContext, error) {
	deliveredKey := s.config.DeliveredKeyPrefix + eventID
	if _, err := s.redis.Get(deliveredKey); err == nil {
		logger.Info("event already delivered, skipping", "event_id", eventID)
		return nil, ErrAlreadyDelivered
	} else if err != redis.NilError {
		logger.Warn("failed to check delivered marker", "event_id", eventID, "error", err)
		// Continue even if the check fails; a duplicate webhook beats a stuck one
	}

	retryKey := s.config.RetryKeyPrefix + eventID
	retryCount := 0
	if raw, err := s.redis.Get(retryKey); err == nil && len(raw) > 0 {
		fmt.Sscanf(string(raw), "%d", &retryCount)
	}

	if retryCount >= s.config.MaxRetries {
		logger.Error("max delivery retries exceeded", "event_id", eventID, "retry_count", retryCount)
		return nil, fmt.Errorf("%w: event_id=%s, retries=%d", ErrMaxRetriesExceeded, eventID, retryCount)
	}

	lockKey := s.config.LockKeyPrefix + eventID
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		logger.Error("failed to acquire delivery lock", "event_id", eventID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		logger.Info("delivery lock held by another consumer", "event_id", eventID)
		return nil, ErrLockAcquireFailed
	}

	return &DeliveryContext{
		EventID:      eventID,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		lockAcquired: true,
		service:      s,
	}, nil
}

func (s *IdempotencyService) MarkDelivered(ctx context.Context, dc *DeliveryContext) error {
	deliveredKey := s.config.DeliveredKeyPrefix + dc.EventID
	if err := s.redis.Set(deliveredKey, []byte("1"), s.config.DeliveredTTL); err != nil {
		logger.Error("failed to mark event delivered", "event_id", dc.EventID, "error", err)
		return fmt.Errorf("failed to mark delivered: %w", err)
	}

	s.cleanup(dc)
	return nil
}

func (s *IdempotencyService) MarkFailure(ctx context.Context, dc *DeliveryContext, reason error) error {
	retryKey := s.config.RetryKeyPrefix + dc.EventID
	newRetryCount := dc.RetryCount + 1

	if err := s.redis.Set(retryKey, []byte(fmt.Sprintf("%d", newRetryCount)), s.config.DeliveredTTL); err != nil {
		logger.Error("failed to increment retry counter", "event_id", dc.EventID, "error", err)
	}

	lockKey := s.config.LockKeyPrefix + dc.EventID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to remove delivery lock", "event_id", dc.EventID, "error", err)
	}
	dc.lockAcquired = false

	logger.Warn("event delivery failed, will retry",
		"event_id", dc.EventID,
		"retry_count", newRetryCount,
		"max_retries", s.config.MaxRetries,
		"reason", reason)

	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, dc *DeliveryContext) error {
	if dc == nil || !dc.lockAcquired {
		return nil
	}

	lockKey := s.config.LockKeyPrefix + dc.EventID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to release delivery lock", "event_id", dc.EventID, "error", err)
		return err
	}

	dc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) cleanup(dc *DeliveryContext) {
	lockKey := s.config.LockKeyPrefix + dc.EventID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to cleanup delivery lock", "event_id", dc.EventID, "error", err)
	}

	retryKey := s.config.RetryKeyPrefix + dc.EventID
	if err := s.redis.Del(retryKey); err != nil {
		logger.Warn("failed to cleanup retry counter", "event_id", dc.EventID, "error", err)
	}

	dc.lockAcquired = false
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, eventID string) (int, error) {
	raw, err := s.redis.Get(s.config.RetryKeyPrefix + eventID)
	if err != nil {
		if err == redis.NilError {
			return 0, nil
		}
		return 0, err
	}

	retryCount := 0
	fmt.Sscanf(string(raw), "%d", &retryCount)
	return retryCount, nil
}

func (s *IdempotencyService) IsDelivered(ctx context.Context, eventID string) (bool, error) {
	_, err := s.redis.Get(s.config.DeliveredKeyPrefix + eventID)
	if err == nil {
		return true, nil
	}
	if err == redis.NilError {
		return false, nil
	}
	return false, err
}
