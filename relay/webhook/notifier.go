// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/relaymq/config"
	"github.com/absmach/relaymq/relay/events"
	"github.com/absmach/relaymq/topics"
	"github.com/sony/gobreaker"
)

var _ Notifier = (*QueuedNotifier)(nil)

// QueuedNotifier fans events out to configured endpoints through a bounded
// queue and a fixed worker pool. Each endpoint carries its own circuit
// breaker and retry policy, so one unreachable receiver trips its breaker
// while the rest keep receiving.
type QueuedNotifier struct {
	cfg       config.WebhookConfig
	relayID   string
	endpoints []*endpoint
	queue     chan job
	sender    Sender
	logger    *slog.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// endpoint is a receiver with its filters and resolved delivery policy.
type endpoint struct {
	name     string
	url      string
	eventSet map[string]struct{}
	filters  []string
	headers  map[string]string
	timeout  time.Duration
	retry    config.RetryConfig
	breaker  *gobreaker.CircuitBreaker
}

type job struct {
	event    events.Event
	endpoint *endpoint
	attempt  int
}

// NewNotifier builds a notifier from config and starts its worker pool.
func NewNotifier(cfg config.WebhookConfig, relayID string, sender Sender, logger *slog.Logger) (*QueuedNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &QueuedNotifier{
		cfg:       cfg,
		relayID:   relayID,
		endpoints: make([]*endpoint, 0, len(cfg.Endpoints)),
		queue:     make(chan job, cfg.QueueSize),
		sender:    sender,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, ep := range cfg.Endpoints {
		n.endpoints = append(n.endpoints, newEndpoint(ep, cfg.Defaults, logger))
	}

	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}

	logger.Info("webhook notifier started",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_size", cfg.QueueSize),
		slog.Int("endpoints", len(n.endpoints)))

	return n, nil
}

// newEndpoint resolves per-endpoint overrides against the defaults and
// attaches a circuit breaker that trips after consecutive failures.
func newEndpoint(ep config.WebhookEndpoint, defaults config.WebhookDefaults, logger *slog.Logger) *endpoint {
	eventSet := make(map[string]struct{}, len(ep.Events))
	for _, t := range ep.Events {
		eventSet[t] = struct{}{}
	}

	timeout := defaults.Timeout
	if ep.Timeout > 0 {
		timeout = ep.Timeout
	}
	retry := defaults.Retry
	if ep.Retry != nil {
		retry = *ep.Retry
	}

	return &endpoint{
		name:     ep.Name,
		url:      ep.URL,
		eventSet: eventSet,
		filters:  ep.TopicFilters,
		headers:  ep.Headers,
		timeout:  timeout,
		retry:    retry,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        ep.Name,
			MaxRequests: 1,
			Timeout:     defaults.CircuitBreaker.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(defaults.CircuitBreaker.FailureThreshold)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("webhook circuit breaker state changed",
					slog.String("endpoint", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
	}
}

// wants reports whether the endpoint's event and topic filters accept ev.
// An empty filter list accepts everything; topic filters only apply to
// events that carry a topic.
func (e *endpoint) wants(ev events.Event) bool {
	if len(e.eventSet) > 0 {
		if _, ok := e.eventSet[ev.Type()]; !ok {
			return false
		}
	}

	if topic := ev.Topic(); topic != "" && len(e.filters) > 0 {
		for _, filter := range e.filters {
			if topics.Match(filter, topic) {
				return true
			}
		}
		return false
	}

	return true
}

// Notify enqueues ev for every endpoint whose filters accept it. It never
// blocks; when the queue is full the configured drop policy applies.
func (n *QueuedNotifier) Notify(_ context.Context, ev events.Event) error {
	for _, ep := range n.endpoints {
		if ep.wants(ev) {
			n.enqueue(job{event: ev, endpoint: ep})
		}
	}
	return nil
}

func (n *QueuedNotifier) enqueue(j job) {
	select {
	case n.queue <- j:
		return
	default:
	}

	if n.cfg.DropPolicy == "oldest" {
		// Make room by discarding the head, then try once more.
		select {
		case <-n.queue:
		default:
		}
		select {
		case n.queue <- j:
			return
		default:
		}
	}

	n.logger.Error("webhook queue full, event dropped",
		slog.String("event_type", j.event.Type()),
		slog.String("endpoint", j.endpoint.name))
}

func (n *QueuedNotifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case j := <-n.queue:
			n.deliver(j)
		}
	}
}

// deliver runs one send attempt through the endpoint's breaker. Failed
// attempts are rescheduled with exponential backoff until the endpoint's
// retry budget is spent; the requeue goes through the same bounded queue.
func (n *QueuedNotifier) deliver(j job) {
	_, err := j.endpoint.breaker.Execute(func() (interface{}, error) {
		return nil, n.send(j)
	})
	if err == nil {
		return
	}

	if j.attempt+1 < j.endpoint.retry.MaxAttempts {
		j.attempt++
		delay := backoff(j.attempt, j.endpoint.retry)

		n.logger.Debug("webhook delivery failed, retrying",
			slog.String("endpoint", j.endpoint.name),
			slog.String("event_type", j.event.Type()),
			slog.Int("attempt", j.attempt),
			slog.Duration("retry_after", delay),
			slog.String("error", err.Error()))

		time.AfterFunc(delay, func() {
			select {
			case n.queue <- j:
			default:
				n.logger.Error("webhook retry dropped, queue full",
					slog.String("endpoint", j.endpoint.name),
					slog.String("event_type", j.event.Type()))
			}
		})
		return
	}

	n.logger.Error("webhook delivery failed after max retries",
		slog.String("endpoint", j.endpoint.name),
		slog.String("event_type", j.event.Type()),
		slog.Int("attempts", j.attempt+1),
		slog.String("error", err.Error()))
}

func (n *QueuedNotifier) send(j job) error {
	envelope := j.event.Wrap(n.relayID)
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.endpoint.timeout)
	defer cancel()

	if err := n.sender.Send(ctx, j.endpoint.url, j.endpoint.headers, body, j.endpoint.timeout); err != nil {
		return err
	}

	n.logger.Debug("webhook delivered",
		slog.String("endpoint", j.endpoint.name),
		slog.String("event_type", j.event.Type()))

	return nil
}

// backoff returns the delay before retry number attempt: the initial
// interval on the first retry, multiplied per subsequent retry, capped at
// the configured maximum.
func backoff(attempt int, cfg config.RetryConfig) time.Duration {
	d := float64(cfg.InitialInterval)
	for i := 1; i < attempt; i++ {
		d *= cfg.Multiplier
	}
	if max := float64(cfg.MaxInterval); max > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// Close stops the workers and waits up to the shutdown timeout for
// in-flight deliveries to finish. Events still queued past the deadline
// are lost.
func (n *QueuedNotifier) Close() error {
	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("webhook notifier stopped")
	case <-time.After(n.cfg.ShutdownTimeout):
		n.logger.Warn("webhook notifier shutdown timed out",
			slog.Int("queue_depth", len(n.queue)))
	}

	return nil
}
