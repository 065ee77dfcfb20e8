package trigger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/soltixdb/rollup/internal/arena"
	"github.com/soltixdb/rollup/internal/batch"
	"github.com/soltixdb/rollup/internal/columnar"
	"github.com/soltixdb/rollup/internal/logging"
)

const (
	// SubjectJobs is the subject batch jobs arrive on
	SubjectJobs = "rollup.jobs"
	// SubjectResults is the subject batch results are published to
	SubjectResults = "rollup.results"
)

// Job is one queued downsample batch: a user time window plus the raw
// partition blobs to process. Partitions travel base64-encoded inside
// the JSON envelope.
type Job struct {
	JobID         string   `json:"job_id"`
	UserTimeStart int64    `json:"user_time_start"`
	UserTimeEnd   int64    `json:"user_time_end"`
	Partitions    []string `json:"partitions"`
}

// EncodePartitions base64-encodes raw partition blobs for a Job
func EncodePartitions(parts []columnar.RawPartData) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = base64.StdEncoding.EncodeToString(p.Bytes)
	}
	return out
}

// DecodePartitions reverses EncodePartitions
func DecodePartitions(encoded []string) ([]columnar.RawPartData, error) {
	out := make([]columnar.RawPartData, len(encoded))
	for i, s := range encoded {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("partition %d: %w", i, err)
		}
		out[i] = columnar.RawPartData{Bytes: b}
	}
	return out, nil
}

// Result reports one finished batch
type Result struct {
	JobID     string `json:"job_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Trigger subscribes to the job subject and runs each job through the
// batch driver on a single worker goroutine. The worker owns its arena:
// one goroutine, one arena, reused across batches, which is what keeps
// the arena free of locking.
type Trigger struct {
	queue    Queue
	driver   *batch.Driver
	newArena func() *arena.Arena
	log      *logging.Logger

	jobs    chan Job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New creates a trigger. newArena is called once, on the worker
// goroutine, so the arena's thread affinity holds by construction.
func New(queue Queue, driver *batch.Driver, newArena func() *arena.Arena, log *logging.Logger) *Trigger {
	return &Trigger{
		queue:    queue,
		driver:   driver,
		newArena: newArena,
		log:      log,
		jobs:     make(chan Job, 16),
	}
}

// Start subscribes to the job subject and launches the worker
func (t *Trigger) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("trigger already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	if err := t.queue.Subscribe(SubjectJobs, t.handleMessage); err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to %s: %w", SubjectJobs, err)
	}

	t.wg.Add(1)
	go t.worker(ctx)

	t.started = true
	t.log.Info("Trigger started", "subject", SubjectJobs)
	return nil
}

// handleMessage parses a job message and hands it to the worker. A full
// worker backlog is an error so queue backends redeliver instead of
// silently dropping the job.
func (t *Trigger) handleMessage(data []byte) error {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		// Malformed jobs can never succeed; log and swallow so the
		// queue does not redeliver them forever.
		t.log.Warn("Dropping malformed job message", "error", err)
		return nil
	}

	select {
	case t.jobs <- job:
		return nil
	default:
		return fmt.Errorf("worker backlog full, job %s not accepted", job.JobID)
	}
}

// Submit enqueues a job through the queue, same path as remote producers
func (t *Trigger) Submit(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return t.queue.Publish(ctx, SubjectJobs, data)
}

func (t *Trigger) worker(ctx context.Context) {
	defer t.wg.Done()

	// The worker's arena, created here and never handed to another
	// goroutine. Reused across batches until shutdown.
	ar := t.newArena()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-t.jobs:
			t.runJob(ctx, ar, job)
		}
	}
}

func (t *Trigger) runJob(ctx context.Context, ar *arena.Arena, job Job) {
	log := t.log.With("job_id", job.JobID)
	started := time.Now()

	parts, err := DecodePartitions(job.Partitions)
	if err == nil {
		err = t.driver.Run(ctx, ar, parts, job.UserTimeStart, job.UserTimeEnd)
	}

	result := Result{
		JobID:     job.JobID,
		Success:   err == nil,
		ElapsedMS: time.Since(started).Milliseconds(),
	}
	if err != nil {
		result.Error = err.Error()
		log.Error("Batch job failed", "error", err)
	} else {
		log.Info("Batch job complete", "elapsed_ms", result.ElapsedMS)
	}

	data, err := json.Marshal(result)
	if err != nil {
		log.Error("Failed to marshal job result", "error", err)
		return
	}
	if err := t.queue.Publish(ctx, SubjectResults, data); err != nil {
		log.Warn("Failed to publish job result", "error", err)
	}
}

// Stop unsubscribes and waits for the worker to drain
func (t *Trigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.started = false

	_ = t.queue.Unsubscribe(SubjectJobs)
	t.cancel()
	t.wg.Wait()
}
