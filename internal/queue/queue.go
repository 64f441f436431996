// Package queue moves jobs from the dispatcher to the worker pool over NATS
// JetStream and carries the out-of-band kill broadcast used for forceful
// cancellation.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tospeech/server/internal/model"
)

const (
	streamName    = "TOSPEECH_JOBS"
	subjectSubmit = "jobs.synthesize"
	workerGroup   = "tospeech-workers"

	killSubjectPrefix = "jobs.kill."
	killSubjectAll    = "jobs.kill.*"
)

// ErrQueueUnavailable is returned when the broker cannot accept work.
var ErrQueueUnavailable = errors.New("job queue unavailable")

// Queue publishes and consumes synthesis jobs. One Queue value serves both
// the dispatcher side (Enqueue, PublishKill) and the worker side (Consume,
// SubscribeKill).
type Queue struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// New ensures the work-queue stream exists and returns a Queue bound to it.
func New(nc *nats.Conn, js nats.JetStreamContext) (*Queue, error) {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectSubmit},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("create stream %q: %w", streamName, err)
	}

	return &Queue{nc: nc, js: js}, nil
}

// Enqueue hands a job to the worker pool. It never blocks on execution; the
// job is durably queued and picked up by exactly one worker.
func (q *Queue) Enqueue(payload model.JobPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode job %q: %w", payload.ID, err)
	}

	if _, err := q.js.Publish(subjectSubmit, data); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Consume pulls queued jobs and hands them to handler one at a time,
// blocking until ctx is cancelled. Every Consume loop shares one durable
// consumer, so per-loop in-flight work stays at one job while the fleet as a
// whole runs as many jobs as it has loops. ackWait must exceed the
// worst-case job duration so a slow job is not redelivered while still
// running.
func (q *Queue) Consume(ctx context.Context, handler func(*nats.Msg), ackWait time.Duration) error {
	sub, err := q.js.PullSubscribe(subjectSubmit, workerGroup,
		nats.AckWait(ackWait),
		nats.MaxAckPending(-1),
	)
	if err != nil {
		return fmt.Errorf("subscribe to %q: %w", subjectSubmit, err)
	}
	defer func() { _ = sub.Drain() }()

	for {
		msgs, err := sub.Fetch(1, nats.Context(ctx))
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case errors.Is(err, nats.ErrTimeout):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch from %q: %w", subjectSubmit, err)
		}

		for _, msg := range msgs {
			handler(msg)
		}
	}
}

// PublishKill broadcasts a forceful-termination request for a job. Every
// worker hears it; only the worker running the job acts on it.
func (q *Queue) PublishKill(jobID string) error {
	if err := q.nc.Publish(killSubjectPrefix+jobID, nil); err != nil {
		return fmt.Errorf("publish kill for %q: %w", jobID, err)
	}
	return nil
}

// SubscribeKill invokes handler with the job id of every kill broadcast.
func (q *Queue) SubscribeKill(handler func(jobID string)) (*nats.Subscription, error) {
	sub, err := q.nc.Subscribe(killSubjectAll, func(msg *nats.Msg) {
		handler(strings.TrimPrefix(msg.Subject, killSubjectPrefix))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", killSubjectAll, err)
	}
	return sub, nil
}
