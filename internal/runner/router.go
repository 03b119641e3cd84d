package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stackalign/internal/align"
	"stackalign/internal/cache"
	"stackalign/internal/export"
	"stackalign/internal/reduce"
	"stackalign/internal/session"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log      *slog.Logger
	reduceFn reduceFunc
	exportFn exportFunc
}

type reduceFunc func(ctx context.Context, folder string, format session.Format, sampleLimit int, rep reduce.Reporter) (reduce.Result, error)

type exportFunc func(ctx context.Context, job export.Job, rep export.Reporter) (export.Result, error)

func newRouter(logger *slog.Logger) Processor {
	return &router{
		log:      logger,
		reduceFn: reduce.Run,
		exportFn: export.Run,
	}
}

func (r *router) Process(ctx context.Context, job Job, rep Reporter) Outcome {
	switch job.Kind {
	case KindReduce:
		return r.handleReduce(ctx, job, rep)
	case KindExport:
		return r.handleExport(ctx, job, rep)
	default:
		return Outcome{Err: fmt.Errorf("unknown job kind: %s", job.Kind)}
	}
}

// handleReduce serves from the cached bundle when one is usable, recomputes
// otherwise, and refreshes the cache with the new result. Cache write
// failures degrade to a warning; the reduction itself still succeeds.
func (r *router) handleReduce(ctx context.Context, job Job, rep Reporter) Outcome {
	if !job.NoCache {
		red, err := cache.LoadReduction(job.Folder)
		if err == nil {
			rep.Status(fmt.Sprintf("using cached reduction (%d sessions, %d frames)", red.Result.NSessions, red.Result.NTotalFrames))
			rep.Progress(100)
			res := red.Result
			return Outcome{Reduce: &res}
		}
		var cerr *cache.CacheError
		if errors.As(err, &cerr) {
			r.log.Warn("reduction cache unusable, recomputing", "folder", job.Folder, "error", err)
		}
	}

	res, err := r.reduceFn(ctx, job.Folder, job.Format, job.SampleLimit, rep)
	if err != nil {
		return Outcome{Err: err}
	}

	fp, err := cache.Snapshot(job.Folder, job.Format)
	if err != nil {
		r.log.Warn("cannot fingerprint folder, skipping cache write", "folder", job.Folder, "error", err)
		return Outcome{Reduce: &res}
	}
	if err := cache.SaveReduction(job.Folder, cache.Reduction{Result: res, Fingerprint: fp}); err != nil {
		r.log.Warn("failed to cache reduction", "folder", job.Folder, "error", err)
	}
	return Outcome{Reduce: &res}
}

// handleExport resolves the corrections snapshot, preferring the one handed
// in with the job over the set saved in the folder, and streams the export.
func (r *router) handleExport(ctx context.Context, job Job, rep Reporter) Outcome {
	params := job.Params
	if params == nil {
		saved, err := cache.LoadParams(job.Folder)
		if err == nil {
			params = saved
		} else {
			var cerr *cache.CacheError
			if errors.As(err, &cerr) {
				r.log.Warn("saved parameters unusable, exporting with identity", "folder", job.Folder, "error", err)
			}
			params = align.NewParamSet()
		}
	}

	res, err := r.exportFn(ctx, export.Job{
		Folder:     job.Folder,
		Format:     job.Format,
		Params:     params,
		OutputPath: job.OutputPath,
	}, rep)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Export: &res}
}
