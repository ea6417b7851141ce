package workflow

import (
	"context"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/semaphore"

	"github.com/ceresfs/mgm/cmn"
)

// RetryLimits resolves the per-workflow retry ceiling and delay from
// parent-container attributes (sys.workflow.<event>.<workflow>.retry.max
// / .retry.delay), falling back to the space-wide config defaults.
type RetryLimits interface {
	RetryMax(event, workflowName string) (int, bool)
	RetryDelay(event, workflowName string) (time.Duration, bool)
}

// Dispatcher runs method bodies; Engine calls into it rather than
// knowing about mail/bash/proto/notify concretely.
type Dispatcher interface {
	// Dispatch runs job's action. transient indicates a retryable
	// failure (only meaningful when err != nil); sync jobs never retry
	// regardless of this flag.
	Dispatch(ctx context.Context, j *Job) (transient bool, err error)
}

// SyncProtoEvents names the proto-method events that must run inline
// rather than on the shared async pool, per 4.J ("sync jobs execute
// inline"): create is always a synchronous gate; closew's sync/async
// split is a per-deployment config this engine doesn't surface, so it
// defaults to async here.
var SyncProtoEvents = map[string]bool{
	"create": true,
}

// Engine drives one space's workflow dispatch loop.
type Engine struct {
	Store      Store
	Dispatch   Dispatcher
	Retry      RetryLimits
	Booted     func() bool
	IsMaster   func() bool

	sem *semaphore.Weighted
}

func New(store Store, dispatch Dispatcher, retry RetryLimits) *Engine {
	return &Engine{Store: store, Dispatch: dispatch, Retry: retry}
}

// Run loops ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	cleanupTicker := time.NewTicker(cmn.GCO.Get().Workflow.CleanupInterval.D())
	defer cleanupTicker.Stop()

	for {
		if e.IsMaster == nil || e.IsMaster() {
			e.Tick(ctx)
		}
		select {
		case <-time.After(time.Second):
		case <-cleanupTicker.C:
			if e.IsMaster == nil || e.IsMaster() {
				if err := e.Cleanup(); err != nil {
					glog.Errorf("workflow: cleanup failed: %v", err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Tick queries today's and yesterday's q and e directories and
// dispatches every entry whose scheduled time has arrived.
func (e *Engine) Tick(ctx context.Context) {
	cfg := cmn.GCO.Get().Workflow
	ntx := cfg.Ntx
	if ntx <= 0 {
		ntx = 8
	}
	if e.sem == nil {
		e.sem = semaphore.NewWeighted(int64(ntx))
	}

	now := time.Now()
	days := []string{now.Format("2006-01-02"), now.Add(-24 * time.Hour).Format("2006-01-02")}

	for _, day := range days {
		for _, queue := range []Queue{QueuePending, QueueError} {
			e.tickQueue(ctx, day, queue, now)
		}
	}
}

func (e *Engine) tickQueue(ctx context.Context, day string, queue Queue, now time.Time) {
	workflows, err := e.Store.Workflows(day, queue)
	if err != nil {
		glog.Errorf("workflow: list workflows in %s/%s: %v", day, queue, err)
		return
	}
	for _, wf := range workflows {
		entries, err := e.Store.List(day, queue, wf)
		if err != nil {
			glog.Errorf("workflow: list entries %s/%s/%s: %v", day, queue, wf, err)
			continue
		}
		for _, entryName := range entries {
			when, _, _, ok := ParseEntryName(entryName)
			if !ok || when.After(now) {
				continue
			}
			e.runEntry(ctx, day, queue, wf, entryName)
		}
	}
}

func (e *Engine) runEntry(ctx context.Context, day string, queue Queue, wf, entryName string) {
	j, err := e.Store.Load(day, queue, wf, entryName)
	if err != nil {
		glog.Errorf("workflow: load %s/%s/%s/%s: %v", day, queue, wf, entryName, err)
		return
	}

	if j.IsAsync(SyncProtoEvents) {
		if !e.sem.TryAcquire(1) {
			return
		}
		// an async job first atomically moves itself to the r queue,
		// recording a new scheduled-time (now, so a crash mid-flight
		// surfaces it immediately on restart rather than silently).
		if err := Move(e.Store, j, day, QueueRunning, time.Now()); err != nil {
			e.sem.Release(1)
			glog.Errorf("workflow: move to running %s: %v", entryName, err)
			return
		}
		go func() {
			defer e.sem.Release(1)
			e.runAndFinish(ctx, j)
		}()
		return
	}

	e.runAndFinish(ctx, j)
}

func (e *Engine) runAndFinish(ctx context.Context, j *Job) {
	transient, err := e.Dispatch.Dispatch(ctx, j)
	if err == nil {
		_ = e.Store.Results(j, 0, "")
		_ = Move(e.Store, j, j.Day, QueueDone, j.When)
		return
	}

	_ = e.Store.Results(j, -1, err.Error())
	j.ErrMsg = err.Error()

	if !transient || !j.IsAsync(SyncProtoEvents) {
		_ = Move(e.Store, j, j.Day, QueueFailed, j.When)
		return
	}

	maxRetry := cmn.GCO.Get().Workflow.DefaultRetryMax
	if e.Retry != nil {
		if v, ok := e.Retry.RetryMax(j.Event, j.Name); ok {
			maxRetry = v
		}
	}
	if maxRetry == 0 {
		maxRetry = 25
	}

	j.Retry++
	if j.Retry >= maxRetry {
		_ = Move(e.Store, j, j.Day, QueueFailed, j.When)
		return
	}

	delay := cmn.GCO.Get().Workflow.DefaultRetryDelay.D()
	if j.Retry >= maxRetry-1 {
		delay = cmn.GCO.Get().Workflow.FinalRetryDelay.D()
	}
	if e.Retry != nil {
		if d, ok := e.Retry.RetryDelay(j.Event, j.Name); ok {
			delay = d
		}
	}

	nextWhen := time.Now().Add(delay)
	_ = Move(e.Store, j, nextWhen.Format("2006-01-02"), QueueError, nextWhen)
}

// Cleanup removes day-directories older than wfe.keepDays, run once per
// hour on master.
func (e *Engine) Cleanup() error {
	days := cmn.GCO.Get().Workflow.KeepDays
	if days == 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	return e.Store.RemoveDayOlderThan(cutoff)
}

// MoveFromRBackToQ resurrects entries stuck in the r queue, run on
// master transition (a prior master may have crashed mid-dispatch).
func (e *Engine) MoveFromRBackToQ() error {
	days, err := e.Store.Days()
	if err != nil {
		return err
	}
	for _, day := range days {
		workflows, err := e.Store.Workflows(day, QueueRunning)
		if err != nil {
			continue
		}
		for _, wf := range workflows {
			entries, err := e.Store.List(day, QueueRunning, wf)
			if err != nil {
				continue
			}
			for _, entryName := range entries {
				j, err := e.Store.Load(day, QueueRunning, wf, entryName)
				if err != nil {
					continue
				}
				if err := Move(e.Store, j, j.Day, QueuePending, time.Now()); err != nil {
					glog.Errorf("workflow: resurrect %s/%s/%s: %v", day, wf, entryName, err)
				}
			}
		}
	}
	return nil
}
