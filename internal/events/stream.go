package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/safepay/escrow-gateway/pkg/logger"
	"github.com/safepay/escrow-gateway/pkg/redis"
)

// Handler processes one event. Returning nil acks the message; returning
// an error leaves it pending so it is redelivered after the visibility
// timeout, until MaxRetries sends it to the dead letter stream.
type Handler func(ctx context.Context, ev TransactionEvent, attempts int) error

type StreamConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

// Stream is a redis-streams pipe for transaction lifecycle events with a
// consumer group, at-least-once delivery and a dead letter stream.
type Stream struct {
	adapter redis.RedisAdapter
	config  StreamConfig
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewStream(adapter redis.RedisAdapter, config StreamConfig) (*Stream, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Stream{
		adapter: adapter,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}

	// Group might already exist, which is fine
	_ = adapter.XGroupCreateMkStream(config.Name, config.ConsumerGroup, "0")

	return s, nil
}

// Publish appends the event to the stream.
func (s *Stream) Publish(ctx context.Context, ev TransactionEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := s.adapter.XAdd(s.config.Name, map[string]interface{}{
		"type": ev.Type,
		"data": data,
	})
	if err != nil {
		return "", err
	}

	if s.config.MaxLen > 0 {
		_ = s.adapter.XTrimApprox(s.config.Name, s.config.MaxLen)
	}

	return id, nil
}

// Consume starts the poll and reclaim loops. Non-blocking; call Stop to
// shut the loops down.
func (s *Stream) Consume(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	s.wg.Add(2)
	go s.pollLoop(handler)
	go s.reclaimLoop(handler)
	return nil
}

func (s *Stream) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Stream) Len() (int64, error) {
	return s.adapter.XLen(s.config.Name)
}

func (s *Stream) pollLoop(handler Handler) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		msgs, err := s.adapter.XReadGroup(
			s.config.ConsumerGroup,
			s.config.ConsumerName,
			s.config.Name,
			">",
			s.config.BatchSize,
		)
		if err != nil && err != redis.NilError {
			logger.Warn("event stream read failed", "stream", s.config.Name, "error", err)
		}

		for _, msg := range msgs {
			s.dispatch(handler, msg, 1)
		}

		if len(msgs) == 0 {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.config.PollInterval):
			}
		}
	}
}

// reclaimLoop picks up messages another consumer read but never acked and
// redelivers or dead-letters them.
func (s *Stream) reclaimLoop(handler Handler) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.VisibilityTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := s.adapter.XPendingExt(s.config.Name, s.config.ConsumerGroup, "-", "+", s.config.BatchSize)
		if err != nil {
			continue
		}

		for _, p := range pending {
			if p.Idle < s.config.VisibilityTimeout {
				continue
			}

			if int(p.RetryCount) > s.config.MaxRetries {
				s.deadLetter(p.ID)
				continue
			}

			claimed, err := s.adapter.XClaim(s.config.Name, s.config.ConsumerGroup, s.config.ConsumerName, s.config.VisibilityTimeout, p.ID)
			if err != nil {
				continue
			}
			for _, msg := range claimed {
				s.dispatch(handler, msg, int(p.RetryCount))
			}
		}
	}
}

func (s *Stream) dispatch(handler Handler, msg redis.StreamMessage, attempts int) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		logger.Warn("event stream message missing data field", "id", msg.ID)
		s.ack(msg.ID)
		return
	}

	var ev TransactionEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		logger.Warn("malformed transaction event", "id", msg.ID, "error", err)
		s.ack(msg.ID)
		return
	}

	if err := handler(s.ctx, ev, attempts); err != nil {
		logger.Warn("event handler failed, message stays pending",
			"id", msg.ID,
			"event_type", ev.Type,
			"attempts", attempts,
			"error", err,
		)
		return
	}

	s.ack(msg.ID)
}

func (s *Stream) ack(id string) {
	if err := s.adapter.XAck(s.config.Name, s.config.ConsumerGroup, id); err != nil {
		logger.Warn("failed to ack event", "id", id, "error", err)
	}
}

func (s *Stream) deadLetter(id string) {
	if s.config.EnableDLQ {
		claimed, err := s.adapter.XClaim(s.config.Name, s.config.ConsumerGroup, s.config.ConsumerName, 0, id)
		if err == nil && len(claimed) > 0 {
			_, _ = s.adapter.XAdd(s.config.Name+":dlq", claimed[0].Values)
		}
	}
	s.ack(id)
	_ = s.adapter.XDel(s.config.Name, id)
}
