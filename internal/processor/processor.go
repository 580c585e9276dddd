package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/safepay/escrow-gateway/internal/config"
	"github.com/safepay/escrow-gateway/internal/events"
	"github.com/safepay/escrow-gateway/pkg/logger"
	"github.com/safepay/escrow-gateway/pkg/redis"
	"github.com/safepay/escrow-gateway/pkg/worker"
)

const ProcessingTimeout = time.Second * 5
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

// ProcessorService consumes transaction lifecycle events off the stream
// and fans them out to a worker pool for delivery.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	streams   []*events.Stream
	processor Processor
	metrics   *ServiceMetrics
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	worker    *worker.WorkerManager
}

// Processor handles one lifecycle event.
type Processor interface {
	Process(ctx context.Context, ev events.TransactionEvent) error
	GetType() string
}

func NewProcessorService(redis redis.RedisAdapter) (*ProcessorService, error) {
	ctx, cancel := context.WithCancel(context.Background())
	service := &ProcessorService{
		adapter:   redis,
		streams:   make([]*events.Stream, 0),
		processor: nil,
		metrics:   NewServiceMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		worker:    worker.NewWorkerManager(10_000, 100, nil),
	}
	return service, nil
}

// RegisterProcessor registers the event processor
func (s *ProcessorService) RegisterProcessor(processor Processor) {
	s.processor = processor
	logger.Info("Registered processor", "type", processor.GetType())
}

// Start starts the processor service
func (s *ProcessorService) Start() error {
	logger.Info("Starting Processor Service...")

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Error("Worker manager stopped", "error", err)
		}
	}()

	// Several consumer instances on the same group share the stream load
	for i := 0; i < 10; i++ {
		streamConfig := events.StreamConfig{
			Name:              config.Get().EventStreamName,
			ConsumerGroup:     config.Get().EventConsumerGroup,
			ConsumerName:      config.Get().EventConsumerName,
			MaxRetries:        config.Get().EventMaxRetries,
			VisibilityTimeout: config.Get().EventVisibilityTimeout,
			PollInterval:      config.Get().EventPollInterval,
			BatchSize:         config.Get().EventBatchSize,
			MaxLen:            config.Get().EventMaxLen,
			EnableDLQ:         config.Get().EventEnableDLQ,
		}
		streamConfig.ConsumerName = fmt.Sprintf("%s-instance-%d", streamConfig.ConsumerName, i)

		st, err := events.NewStream(s.adapter, streamConfig)
		if err != nil {
			return fmt.Errorf("failed to create stream consumer %d: %w", i, err)
		}

		if err := st.Consume(s.eventHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}

		s.streams = append(s.streams, st)
		logger.Info("Started consumer instance", "instance", i)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("Processor Service started", "consumers", len(s.streams), "workers", 100)
	return nil
}

// metricsReporter periodically reports metrics
func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	stats := s.metrics.GetStats()

	logger.Info("=== Service Metrics ===")
	logger.Info("Metrics", "total_processed", stats["total_processed"], "total_failed", stats["total_failed"], "rate_per_second", stats["rate_per_second"], "avg_duration_ms", stats["avg_duration_ms"], "uptime_seconds", stats["uptime_seconds"], "queue_depth", s.worker.QueueDepth())

	for i, st := range s.streams {
		if n, err := st.Len(); err == nil {
			logger.Info("Stream stats", "consumer", i, "length", n)
		}
	}
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) performHealthCheck() {
	if err := s.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("HEALTH CHECK FAILED: Redis connection error", "error", err)
		return
	}

	for i, st := range s.streams {
		n, err := st.Len()
		if err != nil {
			logger.Warn("HEALTH CHECK WARNING: Stream length unavailable", "consumer", i, "error", err)
			continue
		}

		if n > 10000 {
			logger.Warn("HEALTH CHECK WARNING: Stream has high lag", "consumer", i, "length", n)
		}
	}

	if depth := s.worker.QueueDepth(); depth > 5000 {
		logger.Warn("HEALTH CHECK WARNING: Worker queue backlog", "queue_depth", depth)
	}

	logger.Info("HEALTH CHECK: OK - Service healthy")
}

// Stop gracefully stops the service
func (s *ProcessorService) Stop() {
	logger.Info("Shutting down Processor Service...")

	s.cancel()

	stopChan := make(chan bool, len(s.streams))
	for i, st := range s.streams {
		go func(index int, stream *events.Stream) {
			stream.Stop()
			stopChan <- true
		}(i, st)
	}

	for range s.streams {
		select {
		case <-stopChan:
		case <-time.After(ShutdownTimeout):
			logger.Warn("Timeout waiting for stream consumers to stop")
		}
	}

	s.worker.Exit()
	s.wg.Wait()

	s.reportMetrics()

	logger.Info("Processor Service stopped")
}

type jobResult struct {
	ev         events.TransactionEvent
	resultChan chan error
	ctx        context.Context
}

// eventHandler receives events from the stream and enqueues to worker pool
func (s *ProcessorService) eventHandler(ctx context.Context, ev events.TransactionEvent, attempts int) error {
	resultChan := make(chan error, 1)

	evCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout+time.Second)
	defer cancel()

	job := &jobResult{
		ev:         ev,
		resultChan: resultChan,
		ctx:        evCtx,
	}

	s.worker.Enqueue(job)

	// Block until a worker finishes or the context times out
	select {
	case err := <-resultChan:
		return err
	case <-evCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process event: %w", evCtx.Err())
	}
}

// workerHandler processes events in the worker pool
func (s *ProcessorService) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	start := time.Now()
	var resultErr error

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("Job context cancelled before processing started", "worker", workerIndex)
		return
	default:
	}

	if s.processor == nil {
		logger.Info("No processor registered", "worker", workerIndex)
		s.metrics.RecordFailure()
		resultErr = nil // ACK - nothing to do, retry won't help
	} else {
		if err := s.processor.Process(jobRes.ctx, jobRes.ev); err != nil {
			s.metrics.RecordFailure()
			logger.Error("Failed to process event", "worker", workerIndex, "event_id", jobRes.ev.ID, "error", err)
			resultErr = err // NACK - stays pending for redelivery
		} else {
			s.metrics.RecordSuccess(time.Since(start))
			resultErr = nil // ACK
		}
	}

	// If eventHandler already timed out, the channel has no receiver
	select {
	case jobRes.resultChan <- resultErr:
	case <-jobRes.ctx.Done():
		logger.Warn("Context cancelled while sending result, event handler timed out", "worker", workerIndex)
	}
}
