// Package state implements the shared job-state store on NATS JetStream
// key-value buckets. Every API instance and every worker reads and writes
// job status through this package; cancellation markers live in a separate
// bucket with a bounded TTL so stale markers expire on their own.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tospeech/server/internal/model"
)

const (
	jobsBucket   = "tospeech-jobs"
	cancelBucket = "tospeech-cancel"
)

var (
	// ErrNotFound is returned when no status record exists for a job id.
	ErrNotFound = errors.New("job not found")
	// ErrTerminal is returned when a write would follow a terminal state.
	ErrTerminal = errors.New("job already in terminal state")
)

// Store tracks job status and cancellation markers in JetStream KV buckets.
type Store struct {
	jobs    nats.KeyValue
	cancels nats.KeyValue
}

// New binds to (or creates) the job-status and cancellation buckets. The
// cancellation bucket is created with the given TTL; markers expire without
// explicit cleanup.
func New(js nats.JetStreamContext, cancelTTL time.Duration) (*Store, error) {
	jobs, err := createOrBind(js, &nats.KeyValueConfig{
		Bucket:      jobsBucket,
		Description: "Latest status record per synthesis job.",
		Storage:     nats.FileStorage,
	})
	if err != nil {
		return nil, err
	}

	cancels, err := createOrBind(js, &nats.KeyValueConfig{
		Bucket:      cancelBucket,
		Description: "Cancellation markers, self-expiring.",
		Storage:     nats.FileStorage,
		TTL:         cancelTTL,
	})
	if err != nil {
		return nil, err
	}

	return &Store{jobs: jobs, cancels: cancels}, nil
}

// createOrBind creates the bucket, falling back to a plain bind when another
// process created it first (possibly with an older TTL setting).
func createOrBind(js nats.JetStreamContext, cfg *nats.KeyValueConfig) (nats.KeyValue, error) {
	kv, err := js.CreateKeyValue(cfg)
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			kv, err = js.KeyValue(cfg.Bucket)
			if err != nil {
				return nil, fmt.Errorf("bind to existing bucket %q: %w", cfg.Bucket, err)
			}
			return kv, nil
		}
		return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
	}
	return kv, nil
}

// PutPending writes the initial pending record for a freshly submitted job.
func (s *Store) PutPending(id string) error {
	now := time.Now().UTC()
	return s.put(&model.JobStatus{
		ID:        id,
		State:     model.StatePending,
		Message:   "Task is waiting to start...",
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// Get returns the latest status record for a job, or ErrNotFound.
func (s *Store) Get(id string) (*model.JobStatus, error) {
	entry, err := s.jobs.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job %q: %w", id, err)
	}

	var st model.JobStatus
	if err := json.Unmarshal(entry.Value(), &st); err != nil {
		return nil, fmt.Errorf("decode job %q: %w", id, err)
	}
	return &st, nil
}

// SetProgress overwrites the job's progress message. The store keeps only
// the latest message. Writes after a terminal state are refused.
func (s *Store) SetProgress(id, message string) error {
	st, err := s.Get(id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(st.State, model.StateProgress) {
		return fmt.Errorf("%w: %s", ErrTerminal, st.State)
	}

	st.State = model.StateProgress
	st.Message = message
	st.UpdatedAt = time.Now().UTC()
	return s.put(st)
}

// SetTerminal records a job's final state. Once a terminal state is written
// no further writes are accepted for that job id. result is non-nil only for
// completed jobs; errMsg carries the redacted failure reason otherwise.
func (s *Store) SetTerminal(id, terminalState string, result *model.ArtifactRecord, errMsg string) error {
	st, err := s.Get(id)
	if errors.Is(err, ErrNotFound) {
		st = &model.JobStatus{ID: id, CreatedAt: time.Now().UTC(), State: model.StatePending}
	} else if err != nil {
		return err
	}

	if !model.ValidTransition(st.State, terminalState) {
		return fmt.Errorf("%w: %s -> %s", ErrTerminal, st.State, terminalState)
	}

	st.State = terminalState
	st.Message = ""
	st.Result = result
	st.Error = errMsg
	st.UpdatedAt = time.Now().UTC()
	return s.put(st)
}

// RequestCancel writes the cancellation marker for a job. The marker expires
// with the bucket TTL even if never observed.
func (s *Store) RequestCancel(id string) error {
	if _, err := s.cancels.Put(id, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
		return fmt.Errorf("set cancellation marker for %q: %w", id, err)
	}
	return nil
}

// CancelRequested reports whether a cancellation marker exists for the job.
// Lookup errors read as "not cancelled" so a flaky store never aborts work
// on its own.
func (s *Store) CancelRequested(id string) bool {
	_, err := s.cancels.Get(id)
	return err == nil
}

func (s *Store) put(st *model.JobStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode job %q: %w", st.ID, err)
	}
	if _, err := s.jobs.Put(st.ID, data); err != nil {
		return fmt.Errorf("put job %q: %w", st.ID, err)
	}
	return nil
}
