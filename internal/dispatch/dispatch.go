// Package dispatch accepts synthesis jobs, hands them to the queue, and
// answers status and cancellation requests against the shared state store.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tospeech/server/internal/model"
	"github.com/tospeech/server/internal/queue"
	"github.com/tospeech/server/internal/state"
)

type Dispatcher struct {
	state *state.Store
	queue *queue.Queue
	log   *slog.Logger
}

func New(st *state.Store, q *queue.Queue, log *slog.Logger) *Dispatcher {
	return &Dispatcher{state: st, queue: q, log: log}
}

// Submit validates the request, allocates a job id, records the pending state,
// and enqueues the job. Validation happens before any id exists, so a
// rejected request leaves no trace. If the enqueue fails after the pending
// record was written, the job is failed immediately rather than left
// pending forever.
func (d *Dispatcher) Submit(spec model.JobSpec, ownerID string) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	id := model.NewID()
	if err := d.state.PutPending(id); err != nil {
		return "", fmt.Errorf("record pending job: %w", err)
	}

	payload := model.JobPayload{
		ID:        id,
		OwnerID:   ownerID,
		Spec:      spec,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.queue.Enqueue(payload); err != nil {
		d.log.Error("enqueue failed", "job_id", id, "error", err)
		if terr := d.state.SetTerminal(id, model.StateFailed, nil, "Job could not be queued"); terr != nil {
			d.log.Error("failed to mark unqueued job", "job_id", id, "error", terr)
		}
		return "", err
	}

	d.log.Info("job submitted", "job_id", id, "model", spec.ModelName)
	return id, nil
}

// Status returns the latest record for a job. An unknown id is not an
// error; it reports as a distinct not-found state so clients can tell
// "never existed or expired" apart from a failure.
func (d *Dispatcher) Status(id string) (*model.JobStatus, error) {
	st, err := d.state.Get(id)
	if errors.Is(err, state.ErrNotFound) {
		return &model.JobStatus{ID: id, State: model.StateNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Cancel requests cancellation of a job. It sets the shared marker that
// workers poll and broadcasts a kill so a worker already running the job
// aborts it immediately. Cancelling an unknown or already-terminal job is a
// no-op that reports the current state; repeated cancels are idempotent.
func (d *Dispatcher) Cancel(id string) (*model.JobStatus, error) {
	st, err := d.Status(id)
	if err != nil {
		return nil, err
	}
	if st.State == model.StateNotFound || model.IsTerminal(st.State) {
		return st, nil
	}

	if err := d.state.RequestCancel(id); err != nil {
		return nil, err
	}
	if err := d.queue.PublishKill(id); err != nil {
		// The marker is set; a worker picking the job up will still see
		// it. Only the immediate abort is lost.
		d.log.Warn("kill broadcast failed", "job_id", id, "error", err)
	}

	d.log.Info("cancellation requested", "job_id", id, "state", st.State)
	return st, nil
}
