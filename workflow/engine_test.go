package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ceresfs/mgm/cmn"
)

type storedEntry struct {
	job *Job
}

type fakeStore struct {
	mu      sync.Mutex
	byLoc   map[string]*storedEntry // day/queue/workflow/entry -> job
	removed []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{byLoc: map[string]*storedEntry{}}
}

func locKey(day string, queue Queue, wf, entry string) string {
	return day + "/" + string(queue) + "/" + wf + "/" + entry
}

func (s *fakeStore) Save(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byLoc[locKey(j.Day, j.Queue, j.Name, j.EntryName())] = &storedEntry{job: cloneJob(j)}
	return nil
}

func cloneJob(j *Job) *Job {
	c := *j
	return &c
}

func (s *fakeStore) Load(day string, queue Queue, wf, entry string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byLoc[locKey(day, queue, wf, entry)]
	if !ok {
		return nil, cmn.ErrNotFound("no such entry")
	}
	return cloneJob(e.job), nil
}

func (s *fakeStore) Delete(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byLoc, locKey(j.Day, j.Queue, j.Name, j.EntryName()))
	s.removed = append(s.removed, locKey(j.Day, j.Queue, j.Name, j.EntryName()))
	return nil
}

func (s *fakeStore) Results(j *Job, retCode int, log string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := locKey(j.Day, j.Queue, j.Name, j.EntryName())
	if e, ok := s.byLoc[key]; ok {
		e.job.RetCode = retCode
		e.job.Log = log
	}
	return nil
}

func (s *fakeStore) List(day string, queue Queue, wf string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := day + "/" + string(queue) + "/" + wf + "/"
	var out []string
	for k, e := range s.byLoc {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, e.job.EntryName())
		}
	}
	return out, nil
}

func (s *fakeStore) Workflows(day string, queue Queue) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	prefix := day + "/" + string(queue) + "/"
	for k, e := range s.byLoc {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix && !seen[e.job.Name] {
			seen[e.job.Name] = true
			out = append(out, e.job.Name)
		}
	}
	return out, nil
}

func (s *fakeStore) Days() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, e := range s.byLoc {
		if !seen[e.job.Day] {
			seen[e.job.Day] = true
			out = append(out, e.job.Day)
		}
	}
	return out, nil
}

func (s *fakeStore) RemoveDayOlderThan(cutoff time.Time) error { return nil }

type fakeDispatcher struct {
	mu        sync.Mutex
	calls     int
	transient bool
	err       error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, j *Job) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.transient, d.err
}

func TestTickDispatchesDueEntryAndMovesToDone(t *testing.T) {
	store := newFakeStore()
	day := time.Now().Format("2006-01-02")
	j := &Job{Day: day, Queue: QueuePending, Name: "wf1", Event: "create", Action: "proto", Fid: 1, When: time.Now().Add(-time.Minute)}
	_ = store.Save(j)

	dispatch := &fakeDispatcher{}
	e := New(store, dispatch, nil)
	e.Tick(context.Background())

	time.Sleep(20 * time.Millisecond)

	if dispatch.calls != 1 {
		t.Fatalf("expected dispatch called once, got %d", dispatch.calls)
	}
	if _, err := store.Load(day, QueueDone, "wf1", j.EntryName()); err != nil {
		t.Fatalf("expected job moved to done: %v", err)
	}
}

func TestTickSkipsNotYetDueEntry(t *testing.T) {
	store := newFakeStore()
	j := &Job{Day: time.Now().Format("2006-01-02"), Queue: QueuePending, Name: "wf1", Event: "notify", Action: "notify", Fid: 2, When: time.Now().Add(time.Hour)}
	_ = store.Save(j)

	dispatch := &fakeDispatcher{}
	e := New(store, dispatch, nil)
	e.Tick(context.Background())
	time.Sleep(10 * time.Millisecond)

	if dispatch.calls != 0 {
		t.Fatalf("expected no dispatch for a not-yet-due entry")
	}
}

func TestRunAndFinishRetriesTransientFailure(t *testing.T) {
	store := newFakeStore()
	j := &Job{Day: "2026-07-30", Queue: QueuePending, Name: "wf1", Event: "bash", Action: "bash:script", Fid: 3, When: time.Now()}
	_ = store.Save(j)

	dispatch := &fakeDispatcher{transient: true, err: cmn.ErrTransient("boom")}
	e := New(store, dispatch, nil)
	e.runAndFinish(context.Background(), j)

	if j.Retry != 1 {
		t.Fatalf("expected retry count incremented, got %d", j.Retry)
	}
	if j.Queue != QueueError {
		t.Fatalf("expected job moved to error queue, got %v", j.Queue)
	}
}

func TestRunAndFinishFailsPermanentlyAfterRetryCeiling(t *testing.T) {
	store := newFakeStore()
	j := &Job{Day: "2026-07-30", Queue: QueueError, Name: "wf1", Event: "bash", Action: "bash:script", Fid: 4, When: time.Now(), Retry: 24}
	_ = store.Save(j)

	dispatch := &fakeDispatcher{transient: true, err: cmn.ErrTransient("boom")}
	e := New(store, dispatch, nil)
	e.runAndFinish(context.Background(), j)

	if j.Queue != QueueFailed {
		t.Fatalf("expected job moved to failed queue after ceiling, got %v", j.Queue)
	}
}

func TestRunAndFinishNonTransientFailsImmediately(t *testing.T) {
	store := newFakeStore()
	j := &Job{Day: "2026-07-30", Queue: QueuePending, Name: "wf1", Event: "bash", Action: "bash:script", Fid: 5, When: time.Now()}
	_ = store.Save(j)

	dispatch := &fakeDispatcher{transient: false, err: cmn.ErrInvalidArg("bad args")}
	e := New(store, dispatch, nil)
	e.runAndFinish(context.Background(), j)

	if j.Queue != QueueFailed {
		t.Fatalf("expected non-transient failure to go straight to failed, got %v", j.Queue)
	}
	if j.Retry != 0 {
		t.Fatalf("sync/non-transient failures should not increment retry")
	}
}

func TestMoveFromRBackToQResurrectsRunningEntries(t *testing.T) {
	store := newFakeStore()
	j := &Job{Day: "2026-07-30", Queue: QueueRunning, Name: "wf1", Event: "notify", Action: "notify", Fid: 6, When: time.Now()}
	_ = store.Save(j)

	e := New(store, &fakeDispatcher{}, nil)
	if err := e.MoveFromRBackToQ(); err != nil {
		t.Fatalf("MoveFromRBackToQ: %v", err)
	}

	entries, err := store.List("2026-07-30", QueuePending, "wf1")
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one entry resurrected into q, got %v err=%v", entries, err)
	}
	if running, _ := store.List("2026-07-30", QueueRunning, "wf1"); len(running) != 0 {
		t.Fatalf("expected r queue drained, still has %v", running)
	}
}
