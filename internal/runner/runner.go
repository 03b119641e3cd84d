// Package runner executes reductions and exports on a background worker,
// streaming progress to subscribers while the caller stays responsive.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"stackalign/internal/align"
	"stackalign/internal/export"
	"stackalign/internal/logging"
	"stackalign/internal/reduce"
	"stackalign/internal/session"
	"stackalign/internal/storage"
)

// Kind enumerates supported run categories.
type Kind string

const (
	KindReduce Kind = "reduce"
	KindExport Kind = "export"
)

// Job represents a single queued run.
type Job struct {
	ID     string
	Kind   Kind
	Folder string
	Format session.Format
	// SampleLimit caps frames sampled per session during reduction. Zero
	// means the configured default.
	SampleLimit int
	// NoCache makes a reduction recompute even when a cached bundle exists.
	NoCache bool
	// Params is the corrections snapshot an export runs with. Nil means use
	// the parameters saved in the folder, falling back to identity.
	Params *align.ParamSet
	// OutputPath overrides the export product location.
	OutputPath string
}

// EventKind discriminates the runner's event stream.
type EventKind int

const (
	EventStatus EventKind = iota
	EventProgress
	EventDone
)

// Event is one update from a running job. A job emits any number of status
// and progress events and exactly one done event. Progress values delivered
// for a job strictly increase, so 100 arrives at most once.
type Event struct {
	JobID    string
	Kind     EventKind
	Progress float64
	Status   string
	Reduce   *reduce.Result
	Export   *export.Result
	Err      error
}

// Reporter receives in-flight updates from a processor.
type Reporter interface {
	Progress(pct float64)
	Status(msg string)
}

// Outcome is what a processor hands back for the terminal event.
type Outcome struct {
	Reduce *reduce.Result
	Export *export.Result
	Err    error
}

// Processor executes a job, reporting through rep as it goes.
type Processor interface {
	Process(ctx context.Context, job Job, rep Reporter) Outcome
}

// Runner owns the worker goroutine and the subscriber fan-out. A single
// worker drains the queue, so runs never overlap and a folder is only ever
// touched by one run at a time.
type Runner struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Event
	nextSubID int
}

// New creates a Runner and starts its worker.
func New(ctx context.Context, logger *slog.Logger, store *storage.Store) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	r := &Runner{
		log:    logger,
		jobs:   make(chan Job, 4),
		cancel: cancel,
		store:  store,
		subs:   make(map[int]chan Event),
	}

	r.startOnce.Do(func() {
		r.processor = newRouter(logger)
		r.wg.Add(1)
		go r.worker(ctx)
	})

	return r
}

// Submit adds a job to the queue.
func (r *Runner) Submit(job Job) error {
	if r.store != nil {
		_ = r.store.RecordRunQueued(storage.RunRecord{
			ID:         job.ID,
			Kind:       string(job.Kind),
			Status:     "queued",
			Folder:     job.Folder,
			Format:     string(job.Format),
			OutputPath: job.OutputPath,
		})
	}

	select {
	case r.jobs <- job:
		return nil
	default:
		return errors.New("job queue is full")
	}
}

// Stop signals the worker to exit and waits for completion.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		close(r.jobs)
		r.wg.Wait()
		r.mu.Lock()
		for id, ch := range r.subs {
			close(ch)
			delete(r.subs, id)
		}
		r.mu.Unlock()
	})
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-r.jobs:
			if !ok {
				return
			}
			start := time.Now()

			logging.LogJobStart(r.log, string(job.Kind), job.ID, job.Folder, job.OutputPath)
			if r.store != nil {
				_ = r.store.RecordRunStart(job.ID)
			}

			rep := &jobReporter{runner: r, jobID: job.ID, last: -1}
			out := r.processor.Process(ctx, job, rep)
			duration := time.Since(start)

			if out.Err != nil {
				logging.LogJobError(r.log, string(job.Kind), job.ID, duration, out.Err)
				if r.store != nil {
					_ = r.store.RecordRunResult(job.ID, "failed", outcomeMeta(out), out.Err.Error())
				}
			} else {
				meta := outcomeMeta(out)
				logging.LogJobComplete(r.log, string(job.Kind), job.ID, duration, map[string]any{
					"sessions": meta.Sessions,
					"frames":   meta.Frames,
					"output":   meta.OutputPath,
				})
				if r.store != nil {
					_ = r.store.RecordRunResult(job.ID, "completed", meta, "")
				}
			}

			r.broadcast(Event{
				JobID:  job.ID,
				Kind:   EventDone,
				Reduce: out.Reduce,
				Export: out.Export,
				Err:    out.Err,
			})
		}
	}
}

// Subscribe returns a channel of events and an unsubscribe function.
func (r *Runner) Subscribe() (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSubID
	r.nextSubID++
	ch := make(chan Event, 64)
	r.subs[id] = ch
	unsub := func() {
		r.mu.Lock()
		if c, ok := r.subs[id]; ok {
			close(c)
			delete(r.subs, id)
		}
		r.mu.Unlock()
	}
	return ch, unsub
}

func (r *Runner) broadcast(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.log.Warn("event channel full", "subscriber", id, "job", ev.JobID)
		}
	}
}

func outcomeMeta(out Outcome) storage.RunMeta {
	switch {
	case out.Reduce != nil:
		return storage.RunMeta{Sessions: out.Reduce.NSessions, Frames: out.Reduce.NTotalFrames}
	case out.Export != nil:
		return storage.RunMeta{Sessions: out.Export.Sessions, Frames: out.Export.Frames, OutputPath: out.Export.OutputPath}
	default:
		return storage.RunMeta{}
	}
}

// jobReporter turns processor callbacks into broadcast events. Progress is
// clamped to [0, 100] and filtered to strictly increasing values, whatever
// cadence the processor reports at.
type jobReporter struct {
	runner *Runner
	jobID  string
	last   float64
}

func (j *jobReporter) Progress(pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= j.last {
		return
	}
	j.last = pct
	j.runner.broadcast(Event{JobID: j.jobID, Kind: EventProgress, Progress: pct})
}

func (j *jobReporter) Status(msg string) {
	j.runner.broadcast(Event{JobID: j.jobID, Kind: EventStatus, Status: msg})
}
