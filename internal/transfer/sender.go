package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/observability/metrics"
)

// SendStatus is the outcome of Send.
type SendStatus int

const (
	// StatusDelivered means the companion confirmed receipt.
	StatusDelivered SendStatus = iota
	// StatusQueued means the record is in the pending queue.
	StatusQueued
)

func (s SendStatus) String() string {
	if s == StatusDelivered {
		return "delivered"
	}
	return "queued"
}

// SendResult reports what Send did with a record.
type SendResult struct {
	Status   SendStatus
	RecordID string
	// Cause is why immediate delivery was not possible. Nil when delivered.
	Cause error
	// PersistErr is set when the queue could not be written to disk.
	PersistErr error
}

// RetryResult summarizes one RetryPending pass.
type RetryResult struct {
	Attempted int
	Delivered int
	Remaining int
	Errors    []error
}

// Sender delivers transfer records and falls back to the pending queue.
// Send and RetryPending are serialized, so the queue has a single writer
// no matter how many goroutines call in.
type Sender struct {
	mu        sync.Mutex
	queue     *Queue
	transport Transport
	reach     Reachability
	log       logger.Logger
	metrics   *metrics.TransferMetrics

	limiter       *rate.Limiter
	retryInterval time.Duration
	sendTimeout   time.Duration
	now           func() time.Time

	runMu   sync.Mutex
	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithRetryInterval sets the periodic retry tick. Zero disables it.
func WithRetryInterval(d time.Duration) SenderOption {
	return func(s *Sender) { s.retryInterval = d }
}

// WithRetryRate paces retry passes.
func WithRetryRate(limit rate.Limit, burst int) SenderOption {
	return func(s *Sender) {
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(d time.Duration) SenderOption {
	return func(s *Sender) { s.sendTimeout = d }
}

// WithSenderMetrics attaches transfer metrics.
func WithSenderMetrics(m *metrics.TransferMetrics) SenderOption {
	return func(s *Sender) { s.metrics = m }
}

// WithClock overrides the time source used for SentAt.
func WithClock(now func() time.Time) SenderOption {
	return func(s *Sender) { s.now = now }
}

// NewSender wires a queue, a transport and a reachability source.
func NewSender(queue *Queue, transport Transport, reach Reachability, log logger.Logger, opts ...SenderOption) *Sender {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	s := &Sender{
		queue:         queue,
		transport:     transport,
		reach:         reach,
		log:           log.Module("transfer"),
		limiter:       rate.NewLimiter(rate.Every(5*time.Second), 1),
		retryInterval: time.Minute,
		sendTimeout:   10 * time.Second,
		now:           time.Now,
		trigger:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send attempts immediate delivery and queues the record on any failure.
func (s *Sender) Send(ctx context.Context, rec TransferRecord) SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := rec.Validate(); err != nil {
		// Captures are never discarded on the capture side; the companion
		// decides what to do with them.
		s.log.Warn("sending record with invalid position",
			logger.String("record_id", rec.ID),
			logger.Error(err))
	}

	if !s.reach.Reachable() {
		return s.fallback(rec, ErrUnreachable)
	}

	if err := s.deliver(ctx, rec); err != nil {
		return s.fallback(rec, err)
	}

	// A copy may be queued from an earlier failed attempt.
	if _, err := s.queue.Remove(rec.ID); err != nil {
		s.log.Error("failed to persist queue after delivery", logger.Error(err))
	}
	return SendResult{Status: StatusDelivered, RecordID: rec.ID}
}

func (s *Sender) fallback(rec TransferRecord, cause error) SendResult {
	added, err := s.queue.Enqueue(rec)
	if err != nil {
		s.log.Error("failed to persist pending queue",
			logger.String("record_id", rec.ID),
			logger.Error(err))
	}
	if added {
		s.log.Info("record queued for later delivery",
			logger.String("record_id", rec.ID),
			logger.String("cause", cause.Error()),
			logger.Int("pending", s.queue.Len()))
	}
	return SendResult{Status: StatusQueued, RecordID: rec.ID, Cause: cause, PersistErr: err}
}

func (s *Sender) deliver(ctx context.Context, rec TransferRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	start := time.Now()
	err := s.transport.Deliver(ctx, Envelope{Record: rec, SentAt: s.now().UTC()})
	if s.metrics != nil {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
		}
		s.metrics.RecordDelivery(status, time.Since(start).Seconds())
	}
	if err != nil {
		s.log.Debug("delivery failed",
			logger.String("record_id", rec.ID),
			logger.String("transport", s.transport.Name()),
			logger.Error(err))
	}
	return err
}

// RetryPending re-attempts every queued record in enqueue order. A record
// leaves the queue only after the transport confirmed delivery; failures
// stay where they are. The pass stops early if the companion becomes
// unreachable.
func (s *Sender) RetryPending(ctx context.Context) RetryResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.queue.Snapshot()
	result := RetryResult{Remaining: len(pending)}
	if len(pending) == 0 || !s.reach.Reachable() {
		return result
	}
	if s.metrics != nil {
		s.metrics.IncrementRetryPasses()
	}

	for _, rec := range pending {
		if ctx.Err() != nil || !s.reach.Reachable() {
			break
		}
		result.Attempted++
		if err := s.deliver(ctx, rec); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Delivered++
		if _, err := s.queue.Remove(rec.ID); err != nil {
			result.Errors = append(result.Errors, err)
		}
	}
	result.Remaining = s.queue.Len()

	s.log.Info("retry pass finished",
		logger.Int("attempted", result.Attempted),
		logger.Int("delivered", result.Delivered),
		logger.Int("remaining", result.Remaining))
	return result
}

// Trigger requests a retry pass. Requests made while a pass is pending
// collapse into one.
func (s *Sender) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start runs the retry loop until ctx is cancelled or Stop is called.
// Retries run when reachability turns true, on every retry interval and on
// Trigger, paced by the rate limiter.
func (s *Sender) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.done != nil {
		return errors.Newf("sender already started").
			Component("transfer").
			Category(errors.CategoryState).
			Build()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	unsubscribe := s.reach.Subscribe(func(reachable bool) {
		if s.metrics != nil {
			s.metrics.SetReachable(reachable)
		}
		if reachable {
			s.Trigger()
		}
	})

	go s.run(runCtx, unsubscribe, s.done)
	s.Trigger()
	return nil
}

func (s *Sender) run(ctx context.Context, unsubscribe func(), done chan struct{}) {
	defer close(done)
	defer unsubscribe()

	var tick <-chan time.Time
	if s.retryInterval > 0 {
		ticker := time.NewTicker(s.retryInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-s.trigger:
		}

		if s.queue.Len() == 0 || !s.reach.Reachable() {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		s.RetryPending(ctx)
	}
}

// Stop ends the retry loop and waits for it to exit.
func (s *Sender) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.done == nil {
		return
	}
	s.cancel()
	<-s.done
	s.done = nil
	s.cancel = nil
}

// Pending returns the queued records.
func (s *Sender) Pending() []TransferRecord {
	return s.queue.Snapshot()
}
