// Package jobs implements the in-memory asynchronous batch-mapping queue.
// Jobs are processed by a single background dispatcher running up to K jobs
// concurrently; within a job, items run strictly sequentially with a small
// delay between them to smooth external-model rate limits. Jobs do not
// survive a process restart.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// ItemStatus is a per-item state.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// CodeRef identifies one source code in a batch request.
type CodeRef struct {
	Code   string `json:"code"`
	System string `json:"system"`
}

// Item is one unit of work inside a job.
type Item struct {
	Code   string      `json:"code"`
	System string      `json:"system"`
	Status ItemStatus  `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Progress summarizes a job's advancement. Completed counts successful
// items; Failed counts errored ones.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Percentage int `json:"percentage"`
}

// Job is a batch-mapping job. All fields are owned by the queue and must be
// read through snapshots.
type Job struct {
	ID          string     `json:"job_id"`
	Status      Status     `json:"status"`
	Items       []Item     `json:"items"`
	Progress    Progress   `json:"progress"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Actor       string     `json:"actor,omitempty"`
	CallbackURL string     `json:"callback_url,omitempty"`
	SaveResults bool       `json:"save_results"`

	cancelled bool
}

// Event is emitted after each processed item and at job completion.
type Event struct {
	JobID    string   `json:"job_id"`
	Status   Status   `json:"status"`
	Progress Progress `json:"progress"`
	Item     *Item    `json:"item,omitempty"`
}

// Listener receives progress events. Delivery is best-effort and unordered
// across jobs.
type Listener func(Event)

// ProcessFunc runs one item and returns its result. The queue records an
// error as an item failure, not a job failure.
type ProcessFunc func(ctx context.Context, code, system string, saveResults bool) (interface{}, error)

// Options tune the queue.
type Options struct {
	MaxConcurrent int
	ItemDelay     time.Duration
	Retention     time.Duration
}

// Queue owns all job state under one lock; events and webhooks fire outside
// it.
type Queue struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	pending []string
	active  int

	opts      Options
	process   ProcessFunc
	listeners []Listener
	logger    zerolog.Logger
	http      *resty.Client

	ctx  context.Context
	wake chan struct{}
}

func NewQueue(ctx context.Context, process ProcessFunc, opts Options, logger zerolog.Logger) *Queue {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	q := &Queue{
		jobs:    make(map[string]*Job),
		opts:    opts,
		process: process,
		logger:  logger,
		http:    resty.New().SetTimeout(10 * time.Second),
		ctx:     ctx,
		wake:    make(chan struct{}, 1),
	}
	go q.dispatch()
	go q.reap()
	return q
}

// AddListener attaches a progress listener.
func (q *Queue) AddListener(l Listener) {
	q.mu.Lock()
	q.listeners = append(q.listeners, l)
	q.mu.Unlock()
}

// Enqueue admits a new job and returns its snapshot immediately.
func (q *Queue) Enqueue(codes []CodeRef, actor, callbackURL string, saveResults bool) *Job {
	items := make([]Item, len(codes))
	for i, c := range codes {
		items[i] = Item{Code: c.Code, System: c.System, Status: ItemPending}
	}

	job := &Job{
		ID:          uuid.New().String(),
		Status:      StatusPending,
		Items:       items,
		Progress:    Progress{Total: len(items)},
		CreatedAt:   time.Now(),
		Actor:       actor,
		CallbackURL: callbackURL,
		SaveResults: saveResults,
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job.ID)
	snap := snapshot(job)
	q.mu.Unlock()

	q.poke()
	return snap
}

// Get returns a snapshot of a job.
func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return snapshot(job), true
}

// Cancel marks a PENDING or PROCESSING job cancelled. The worker observes
// the flag at the next item boundary; an in-flight item completes normally.
func (q *Queue) Cancel(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}

	switch job.Status {
	case StatusPending:
		job.cancelled = true
		job.Status = StatusCancelled
		now := time.Now()
		job.CompletedAt = &now
		q.removePending(id)
	case StatusProcessing:
		job.cancelled = true
	default:
		return nil, fmt.Errorf("job %s already %s", id, job.Status)
	}
	return snapshot(job), nil
}

// ActiveCount reports how many jobs are currently running.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

func (q *Queue) poke() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) dispatch() {
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if q.active >= q.opts.MaxConcurrent || len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			id := q.pending[0]
			q.pending = q.pending[1:]
			job, ok := q.jobs[id]
			if !ok || job.Status != StatusPending {
				q.mu.Unlock()
				continue
			}
			job.Status = StatusProcessing
			now := time.Now()
			job.StartedAt = &now
			q.active++
			q.mu.Unlock()

			go q.run(id)
		}
	}
}

func (q *Queue) run(id string) {
	defer func() {
		q.mu.Lock()
		q.active--
		q.mu.Unlock()
		q.poke()
	}()

	for i := 0; ; i++ {
		q.mu.Lock()
		job, ok := q.jobs[id]
		if !ok {
			q.mu.Unlock()
			return
		}
		if job.cancelled || i >= len(job.Items) {
			q.finalize(job)
			snap := snapshot(job)
			listeners := append([]Listener(nil), q.listeners...)
			q.mu.Unlock()

			q.emit(listeners, Event{JobID: snap.ID, Status: snap.Status, Progress: snap.Progress})
			q.postCallback(snap)
			return
		}
		job.Items[i].Status = ItemProcessing
		code, system, save := job.Items[i].Code, job.Items[i].System, job.SaveResults
		q.mu.Unlock()

		result, err := q.process(q.ctx, code, system, save)

		q.mu.Lock()
		job, ok = q.jobs[id]
		if !ok {
			q.mu.Unlock()
			return
		}
		item := &job.Items[i]
		if err != nil {
			item.Status = ItemFailed
			item.Error = err.Error()
			job.Progress.Failed++
		} else {
			item.Status = ItemCompleted
			item.Result = result
			job.Progress.Completed++
			job.Progress.Successful = job.Progress.Completed
		}
		job.Progress.Percentage = 100 * job.Progress.Completed / job.Progress.Total
		itemCopy := *item
		snap := snapshot(job)
		listeners := append([]Listener(nil), q.listeners...)
		q.mu.Unlock()

		q.emit(listeners, Event{JobID: snap.ID, Status: snap.Status, Progress: snap.Progress, Item: &itemCopy})

		if i < len(snap.Items)-1 && q.opts.ItemDelay > 0 {
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(q.opts.ItemDelay):
			}
		}
	}
}

// finalize sets the terminal status. Caller holds the lock.
func (q *Queue) finalize(job *Job) {
	now := time.Now()
	job.CompletedAt = &now
	switch {
	case job.cancelled:
		job.Status = StatusCancelled
	case job.Progress.Completed > 0:
		job.Status = StatusCompleted
	default:
		job.Status = StatusFailed
	}
}

func (q *Queue) emit(listeners []Listener, ev Event) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.logger.Warn().Interface("panic", r).Msg("job listener panicked")
				}
			}()
			l(ev)
		}()
	}
}

// postCallback POSTs the terminal state to the job's callback URL once.
// Failures are logged and not retried.
func (q *Queue) postCallback(job *Job) {
	if job.CallbackURL == "" || !isTerminal(job.Status) {
		return
	}
	body := map[string]interface{}{
		"job_id":       job.ID,
		"status":       job.Status,
		"progress":     job.Progress,
		"completed_at": job.CompletedAt,
	}
	resp, err := q.http.R().SetBody(body).Post(job.CallbackURL)
	if err != nil {
		q.logger.Warn().Err(err).Str("job_id", job.ID).Msg("job callback failed")
		return
	}
	if resp.IsError() {
		q.logger.Warn().Int("status", resp.StatusCode()).Str("job_id", job.ID).Msg("job callback rejected")
	}
}

func isTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// reap removes terminal jobs older than the retention window.
func (q *Queue) reap() {
	interval := q.opts.Retention / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-q.opts.Retention)
			q.mu.Lock()
			for id, job := range q.jobs {
				if isTerminal(job.Status) && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
					delete(q.jobs, id)
				}
			}
			q.mu.Unlock()
		}
	}
}

// removePending drops id from the pending FIFO. Caller holds the lock.
func (q *Queue) removePending(id string) {
	for i, p := range q.pending {
		if p == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// snapshot deep-copies a job for lock-free reading.
func snapshot(job *Job) *Job {
	cp := *job
	cp.Items = append([]Item(nil), job.Items...)
	return &cp
}
