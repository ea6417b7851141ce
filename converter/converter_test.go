package converter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ceresfs/mgm/cmn"
	"github.com/ceresfs/mgm/namespace"
)

type fakeEntry struct {
	uid, gid int64
}

type fakeBox struct {
	mu      sync.Mutex
	entries map[string]*fakeEntry
	created []string
}

func newFakeBox() *fakeBox { return &fakeBox{entries: make(map[string]*fakeEntry)} }

func (b *fakeBox) List() ([]DropboxEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DropboxEntry, 0, len(b.entries))
	for name, e := range b.entries {
		out = append(out, DropboxEntry{Name: name, Uid: e.uid, Gid: e.gid})
	}
	return out, nil
}

func (b *fakeBox) Chown(name string, uid, gid int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[name]
	if !ok {
		return nil
	}
	e.uid, e.gid = uid, gid
	return nil
}

func (b *fakeBox) Remove(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, name)
	return nil
}

func (b *fakeBox) Create(entry string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entry] = &fakeEntry{}
	b.created = append(b.created, entry)
	return nil
}

func (b *fakeBox) Exists(entry string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[entry]
	return ok
}

type fakeCopier struct {
	checksum string
	err      error
	calls    int
	during   func() // runs inside Copy, while the job is mid-copy
}

func (c *fakeCopier) Copy(ctx context.Context, src, dst string) (string, error) {
	c.calls++
	if c.during != nil {
		c.during()
	}
	return c.checksum, c.err
}

func enableConverter(t *testing.T, ntx int) {
	t.Helper()
	cfg := cmn.GCO.BeginUpdate()
	cfg.Converter.Enabled = true
	cfg.Converter.Ntx = ntx
	cmn.GCO.CommitUpdate(cfg)
}

func TestTickSkipsAlreadyScheduledEntries(t *testing.T) {
	enableConverter(t, 4)
	box := newFakeBox()
	box.entries["1234:default"] = &fakeEntry{uid: SentinelUID, gid: SentinelGID}

	view := namespace.NewMemView()
	c := New("default", box, view, &fakeCopier{}, ViewResolver{View: view})
	c.Tick(context.Background())

	time.Sleep(20 * time.Millisecond)
	if c.ActiveJobs() != 0 {
		t.Fatalf("expected no jobs spawned for an already-scheduled entry")
	}
}

func TestTickRemovesInvalidEntry(t *testing.T) {
	enableConverter(t, 4)
	box := newFakeBox()
	box.entries["not-valid"] = &fakeEntry{}
	view := namespace.NewMemView()
	c := New("default", box, view, &fakeCopier{}, ViewResolver{View: view})
	c.Tick(context.Background())

	if _, ok := box.entries["not-valid"]; ok {
		t.Fatalf("expected invalid entry to be removed")
	}
}

func TestRunJobNoOpWhenAlreadyAtTargetLayout(t *testing.T) {
	view := namespace.NewMemView()
	_ = view.CreateFile(&namespace.FileMD{Fid: 0x1234, Name: "f", ParentID: 1, Checksum: "abc", LayoutID: 2})
	view.PutContainer(&namespace.ContainerMD{ID: 1})

	copier := &fakeCopier{checksum: "abc"}
	box := newFakeBox()
	c := New("default", box, view, copier, ViewResolver{View: view})

	c.runJob(context.Background(), "1234:2", 0x1234, "2")

	if copier.calls != 0 {
		t.Fatalf("expected no copy call when already at target layout")
	}
}

func TestRunJobMergesOnSuccess(t *testing.T) {
	view := namespace.NewMemView()
	_ = view.CreateFile(&namespace.FileMD{Fid: 0x1234, Name: "f", ParentID: 1, Checksum: "abc", LayoutID: 0})
	view.PutContainer(&namespace.ContainerMD{ID: 1})

	copier := &fakeCopier{checksum: "abc"}
	box := newFakeBox()
	c := New("default", box, view, copier, ViewResolver{View: view})

	c.runJob(context.Background(), "1234:3", 0x1234, "3")

	f, ok := view.GetFile(0x1234)
	if !ok {
		t.Fatalf("file vanished")
	}
	if f.LayoutID != 3 {
		t.Fatalf("expected layout merged to 3, got %d", f.LayoutID)
	}
}

func TestRunJobAbortsWhenChecksumChangedMidCopy(t *testing.T) {
	view := namespace.NewMemView()
	_ = view.CreateFile(&namespace.FileMD{Fid: 0x1234, Name: "f", ParentID: 1, Checksum: "abc", LayoutID: 0})
	view.PutContainer(&namespace.ContainerMD{ID: 1})

	copier := &fakeCopier{checksum: "abc"}
	box := newFakeBox()
	c := New("default", box, view, copier, ViewResolver{View: view})

	// mutate the file's checksum mid-flight with a direct write made from
	// inside the copy, simulating a concurrent commit.
	copier.during = func() {
		_ = view.WithFile(0x1234, func(f *namespace.FileMD) error {
			f.Checksum = "changed"
			return nil
		})
	}

	c.runJob(context.Background(), "1234:3", 0x1234, "3")

	f, _ := view.GetFile(0x1234)
	if f.LayoutID != 0 {
		t.Fatalf("expected merge to be aborted, got layout %d", f.LayoutID)
	}
}

func TestRunJobResolvesBalancerScheduledLayout(t *testing.T) {
	view := namespace.NewMemView()
	_ = view.CreateFile(&namespace.FileMD{Fid: 0x1234, Name: "f", ParentID: 1, Checksum: "abc", LayoutID: 0})
	view.PutContainer(&namespace.ContainerMD{ID: 1})

	copier := &fakeCopier{checksum: "abc"}
	box := newFakeBox()
	c := New("default", box, view, copier, ViewResolver{View: view})

	// shaped the way balancer.Balancer names a scheduled swap:
	// "<hexfid>:<group>#<layoutid>".
	c.runJob(context.Background(), "1234:g1#3", 0x1234, "g1#3")

	if copier.calls != 1 {
		t.Fatalf("expected copy to run for a balancer-scheduled entry, got %d calls", copier.calls)
	}
	f, ok := view.GetFile(0x1234)
	if !ok {
		t.Fatalf("file vanished")
	}
	if f.LayoutID != 3 {
		t.Fatalf("expected layout merged to 3 from balancer-shaped attr, got %d", f.LayoutID)
	}
}

func TestResetJobsChownsEverythingToRoot(t *testing.T) {
	box := newFakeBox()
	box.entries["1234:default"] = &fakeEntry{uid: SentinelUID, gid: SentinelGID}
	box.entries["5678:default"] = &fakeEntry{uid: SentinelUID, gid: SentinelGID}

	view := namespace.NewMemView()
	c := New("default", box, view, &fakeCopier{}, ViewResolver{View: view})
	if err := c.ResetJobs(); err != nil {
		t.Fatalf("ResetJobs: %v", err)
	}
	for name, e := range box.entries {
		if e.uid != RootUID || e.gid != RootGID {
			t.Fatalf("entry %s not reset to root: %+v", name, e)
		}
	}
}
