// Package cli implements the stackalign command surface. Commands that run
// a reduction or an export submit to the background runner and stream its
// events back to the terminal; everything else reads or writes folder state
// directly.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"stackalign/internal/align"
	"stackalign/internal/cache"
	"stackalign/internal/config"
	"stackalign/internal/runner"
	"stackalign/internal/session"
	"stackalign/internal/storage"
	"stackalign/internal/watch"
)

const version = "1.0.0"

// runnerClient is the slice of the runner the CLI needs. Tests swap in a
// fake.
type runnerClient interface {
	Submit(job runner.Job) error
	Subscribe() (<-chan runner.Event, func())
}

// Root wires CLI commands to the background runner and folder state.
type Root struct {
	runner runnerClient
	cfg    *config.Config
	log    *slog.Logger
	store  *storage.Store
	out    io.Writer
	errOut io.Writer
}

// NewRoot constructs the CLI root.
func NewRoot(run *runner.Runner, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		runner: run,
		cfg:    cfg,
		log:    logger,
		store:  store,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}

// submitAndWait queues the job and relays its event stream until the done
// event arrives.
func (r *Root) submitAndWait(ctx context.Context, job runner.Job) error {
	events, unsubscribe := r.runner.Subscribe()
	defer unsubscribe()

	if err := r.runner.Submit(job); err != nil {
		return err
	}
	r.log.Info("job queued", "kind", job.Kind, "id", job.ID, "folder", job.Folder)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("runner stopped before completion")
			}
			if ev.JobID != job.ID {
				continue
			}
			switch ev.Kind {
			case runner.EventStatus:
				r.printInfo(ev.Status)
			case runner.EventProgress:
				r.printProgress(ev.Progress)
			case runner.EventDone:
				if ev.Err != nil {
					return ev.Err
				}
				r.printOutcome(ev)
				return nil
			}
		}
	}
}

func (r *Root) printOutcome(ev runner.Event) {
	switch {
	case ev.Reduce != nil:
		r.printSuccess(fmt.Sprintf("reduced %d session(s), %d frames (%s)",
			ev.Reduce.NSessions, ev.Reduce.NTotalFrames, ev.Reduce.SampleType))
	case ev.Export != nil:
		r.printSuccess(fmt.Sprintf("exported %d frames from %d session(s) to %s",
			ev.Export.Frames, ev.Export.Sessions, ev.Export.OutputPath))
	}
}

func (r *Root) runReduce(ctx context.Context, folder string, format session.Format, sampleLimit int, noCache bool) error {
	if sampleLimit == 0 {
		sampleLimit = r.cfg.Reduction.SampleLimit
	}
	job := runner.Job{
		ID:          newID("red"),
		Kind:        runner.KindReduce,
		Folder:      folder,
		Format:      format,
		SampleLimit: sampleLimit,
		NoCache:     noCache,
	}
	return r.submitAndWait(ctx, job)
}

func (r *Root) runExport(ctx context.Context, folder string, format session.Format, output string) error {
	if output == "" {
		output = filepath.Join(folder, r.cfg.Export.OutputName)
	}
	job := runner.Job{
		ID:         newID("exp"),
		Kind:       runner.KindExport,
		Folder:     folder,
		Format:     format,
		OutputPath: output,
	}
	return r.submitAndWait(ctx, job)
}

func (r *Root) runDiscover(folder string, format session.Format, counts bool) error {
	sessions, err := session.Discover(folder, format)
	if err != nil {
		return err
	}
	r.printHeader(fmt.Sprintf("%d session(s) in %s", len(sessions), folder))

	w := tabwriter.NewWriter(r.out, 0, 0, 3, ' ', 0)
	if counts {
		fmt.Fprintln(w, "INDEX\tSESSION\tFRAMES\tGEOMETRY\tTYPE")
		for _, s := range sessions {
			src, err := session.Open(s.Path, format, session.Options{})
			if err != nil {
				return err
			}
			h, wd := src.Geometry()
			fmt.Fprintf(w, "%d\t%s\t%d\t%dx%d\t%s\n",
				s.Index, relPath(folder, s.Path), src.Frames(), h, wd, src.SampleType())
			src.Close()
		}
	} else {
		fmt.Fprintln(w, "INDEX\tSESSION")
		for _, s := range sessions {
			fmt.Fprintf(w, "%d\t%s\n", s.Index, relPath(folder, s.Path))
		}
	}
	return w.Flush()
}

func (r *Root) runCached(folder string, format session.Format) error {
	red, err := cache.LoadReduction(folder)
	if errors.Is(err, fs.ErrNotExist) {
		r.printInfo(fmt.Sprintf("no cached reduction in %s", folder))
		return nil
	}
	if err != nil {
		return err
	}

	res := red.Result
	r.printHeader(fmt.Sprintf("cached reduction in %s", folder))
	w := tabwriter.NewWriter(r.out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "sessions\t%d\n", res.NSessions)
	fmt.Fprintf(w, "total frames\t%d\n", res.NTotalFrames)
	fmt.Fprintf(w, "sample type\t%s\n", res.SampleType)
	fmt.Fprintf(w, "fingerprinted files\t%d\n", len(red.Fingerprint.Files))
	if err := w.Flush(); err != nil {
		return err
	}

	fp, err := cache.Snapshot(folder, format)
	if err != nil {
		r.printWarning(fmt.Sprintf("cannot fingerprint folder: %v", err))
		return nil
	}
	if fp.Equal(red.Fingerprint) {
		r.printSuccess("cache matches the session files on disk")
	} else {
		r.printWarning("session files changed since this reduction was cached")
	}
	return nil
}

// loadOrNewParams reads the saved parameter set, starting fresh when none
// exists yet.
func loadOrNewParams(folder string) (*align.ParamSet, error) {
	set, err := cache.LoadParams(folder)
	if errors.Is(err, fs.ErrNotExist) {
		return align.NewParamSet(), nil
	}
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (r *Root) runParamsShow(folder string) error {
	set, err := loadOrNewParams(folder)
	if err != nil {
		return err
	}

	r.printHeader(fmt.Sprintf("alignment parameters for %s", folder))
	w := tabwriter.NewWriter(r.out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SESSION\tX\tY\tROTATION\tSCALE\t")
	if len(set.Sessions) == 0 {
		fmt.Fprintf(w, "(none saved; every session defaults to identity)\t\t\t\t\t\n")
	}
	indices := make([]int, 0, len(set.Sessions))
	for i := range set.Sessions {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		p := set.Sessions[i]
		mark := ""
		if i == set.Reference {
			mark = "  (reference)"
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%g\t%g\t%s\n", i, p.XShift, p.YShift, p.Rotation, p.Scale, mark)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	r.printInfo(fmt.Sprintf("reference session: %d", set.Reference))
	return nil
}

// paramUpdate carries one params set invocation. Unset fields keep the
// session's current value.
type paramUpdate struct {
	XShift   *int
	YShift   *int
	Rotation *float64
	Scale    *float64
}

func (r *Root) runParamsSet(folder string, index int, upd paramUpdate) error {
	if index < 0 {
		return fmt.Errorf("session index must not be negative")
	}
	set, err := loadOrNewParams(folder)
	if err != nil {
		return err
	}

	p := set.Get(index)
	if upd.XShift != nil {
		p.XShift = *upd.XShift
	}
	if upd.YShift != nil {
		p.YShift = *upd.YShift
	}
	if upd.Rotation != nil {
		p.Rotation = *upd.Rotation
	}
	if upd.Scale != nil {
		p.Scale = *upd.Scale
	}
	if p.Scale <= 0 {
		return fmt.Errorf("scale must be positive, got %g", p.Scale)
	}
	set.Set(index, p)

	if err := cache.SaveParams(folder, set); err != nil {
		return err
	}
	r.printSuccess(fmt.Sprintf("session %d: x=%d y=%d rotation=%g scale=%g",
		index, p.XShift, p.YShift, p.Rotation, p.Scale))
	return nil
}

func (r *Root) runParamsRef(folder string, index int) error {
	if index < 0 {
		return fmt.Errorf("session index must not be negative")
	}
	set, err := loadOrNewParams(folder)
	if err != nil {
		return err
	}
	set.SetReference(index)
	if err := cache.SaveParams(folder, set); err != nil {
		return err
	}
	r.printSuccess(fmt.Sprintf("reference session is now %d", index))
	return nil
}

func (r *Root) runHistory(limit int) error {
	recs, err := r.store.RecentRuns(limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		r.printInfo("no runs recorded yet")
		return nil
	}

	r.printHeader(fmt.Sprintf("last %d run(s)", len(recs)))
	w := tabwriter.NewWriter(r.out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tSESSIONS\tFRAMES\tCREATED\tFOLDER")
	for _, rec := range recs {
		status := rec.Status
		if isTerminal(r.out) {
			switch rec.Status {
			case "completed":
				status = successStyle.Render(rec.Status)
			case "failed":
				status = errorStyle.Render(rec.Status)
			default:
				status = dimStyle.Render(rec.Status)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			rec.ID, rec.Kind, status, rec.Sessions, rec.Frames,
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"), rec.Folder)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Error != "" {
			r.printWarning(fmt.Sprintf("%s: %s", rec.ID, rec.Error))
		}
	}
	return nil
}

func (r *Root) runWatch(ctx context.Context, folder string, format session.Format, evict bool) error {
	w, err := watch.New(folder, format, 0, r.log)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	r.printInfo(fmt.Sprintf("watching %s for session changes (ctrl-c to stop)", folder))
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-w.Notices:
			r.printNotice(n)
			if n.Stale && evict {
				if err := cache.EvictReduction(folder); err != nil {
					r.printError(fmt.Sprintf("evicting cached reduction: %v", err))
				} else {
					r.printInfo("evicted cached reduction; the next reduce recomputes")
				}
			}
		}
	}
}

func (r *Root) printNotice(n watch.Notice) {
	detail := fmt.Sprintf("%s (%d file(s) changed)", n.Reason, len(n.Changed))
	if n.Stale {
		r.printWarning(detail)
	} else {
		r.printInfo(detail)
	}
}

func (r *Root) configShow() error {
	path, err := config.Path()
	if err != nil {
		path = fmt.Sprintf("(unresolvable: %v)", err)
	}
	fmt.Fprintf(r.out, "Configuration (%s):\n\n", path)
	fmt.Fprintf(r.out, "Sample Limit:  %d\n", r.cfg.Reduction.SampleLimit)
	fmt.Fprintf(r.out, "Output Name:   %s\n", r.cfg.Export.OutputName)
	fmt.Fprintf(r.out, "Log Level:     %s\n", r.cfg.Logging.Level)
	fmt.Fprintf(r.out, "Log Format:    %s\n", r.cfg.Logging.Format)
	fmt.Fprintf(r.out, "Database Path: %s\n", r.cfg.Paths.DatabasePath)
	return nil
}

func (r *Root) configValidate() error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	r.printSuccess("configuration is valid")
	return nil
}

func relPath(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return rel
}
