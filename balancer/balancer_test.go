package balancer

import (
	"testing"

	"github.com/ceresfs/mgm/cluster"
	"github.com/ceresfs/mgm/cmn"
)

type fakeBox struct {
	entries map[string]bool
}

func newFakeBox() *fakeBox { return &fakeBox{entries: make(map[string]bool)} }

func (b *fakeBox) Create(entry string) error { b.entries[entry] = true; return nil }
func (b *fakeBox) Exists(entry string) bool  { return b.entries[entry] }

type fakeFiles struct {
	byTarget map[int64]uint64
	sizes    map[uint64]int64
}

func (f *fakeFiles) RandomFileOnTarget(fsid int64) (uint64, int64, bool) {
	fid, ok := f.byTarget[fsid]
	return fid, f.sizes[fid], ok
}

func TestBalancerSchedulesSwapFromOverToUnderGroup(t *testing.T) {
	fs := cluster.NewFsView(nil)
	fs.AddTarget(&cluster.Target{Fsid: 1, Node: "n0", Group: "g0", Space: "default", Active: cluster.ActiveOnline, UsedBytes: 8 << 30, CapacityBytes: 10 << 30})
	fs.AddTarget(&cluster.Target{Fsid: 2, Node: "n1", Group: "g1", Space: "default", Active: cluster.ActiveOnline, UsedBytes: 2 << 30, CapacityBytes: 10 << 30})

	box := newFakeBox()
	files := &fakeFiles{byTarget: map[int64]uint64{1: 0x1234}}

	bal := New(fs, "default", box, files)
	cfg := cmn.GCO.BeginUpdate()
	cfg.Balancer.ThresholdPct = 5
	cfg.Converter.Enabled = true
	cfg.Balancer.Enabled = true
	cmn.GCO.CommitUpdate(cfg)

	bal.Tick()

	if len(box.entries) != 1 {
		t.Fatalf("expected exactly one scheduled entry, got %d: %+v", len(box.entries), box.entries)
	}
	for entry := range box.entries {
		if entry != "1234:g1#0" {
			t.Fatalf("unexpected entry name %q", entry)
		}
	}
}

func TestBalancerSpeculativeUpdateUsesRealFileSize(t *testing.T) {
	fs := cluster.NewFsView(nil)
	fs.AddTarget(&cluster.Target{Fsid: 1, Node: "n0", Group: "g0", Space: "default", Active: cluster.ActiveOnline, UsedBytes: 8 << 30, CapacityBytes: 10 << 30})
	fs.AddTarget(&cluster.Target{Fsid: 2, Node: "n1", Group: "g1", Space: "default", Active: cluster.ActiveOnline, UsedBytes: 2 << 30, CapacityBytes: 10 << 30})

	box := newFakeBox()
	const fileSize = 1 << 20
	files := &fakeFiles{byTarget: map[int64]uint64{1: 0x1234}, sizes: map[uint64]int64{0x1234: fileSize}}

	bal := New(fs, "default", box, files)
	cfg := cmn.GCO.BeginUpdate()
	cfg.Balancer.ThresholdPct = 5
	cfg.Converter.Enabled = true
	cfg.Balancer.Enabled = true
	cmn.GCO.CommitUpdate(cfg)

	bal.mu.Lock()
	bal.refreshCacheLocked(0)
	srcBefore, dstBefore := bal.cache["g0"].used, bal.cache["g1"].used
	bal.mu.Unlock()

	bal.Tick()

	bal.mu.Lock()
	defer bal.mu.Unlock()
	if got := bal.cache["g0"].used; got != srcBefore-fileSize {
		t.Fatalf("expected src group used to drop by the file's real size, got %d want %d", got, srcBefore-fileSize)
	}
	if got := bal.cache["g1"].used; got != dstBefore+fileSize {
		t.Fatalf("expected dst group used to grow by the file's real size, got %d want %d", got, dstBefore+fileSize)
	}
}

func TestBalancerSkipsWhenConverterDisabled(t *testing.T) {
	fs := cluster.NewFsView(nil)
	fs.AddTarget(&cluster.Target{Fsid: 1, Node: "n0", Group: "g0", Space: "default", Active: cluster.ActiveOnline, UsedBytes: 8 << 30, CapacityBytes: 10 << 30})
	fs.AddTarget(&cluster.Target{Fsid: 2, Node: "n1", Group: "g1", Space: "default", Active: cluster.ActiveOnline, UsedBytes: 2 << 30, CapacityBytes: 10 << 30})

	box := newFakeBox()
	files := &fakeFiles{byTarget: map[int64]uint64{1: 0x1234}}
	bal := New(fs, "default", box, files)

	cfg := cmn.GCO.BeginUpdate()
	cfg.Converter.Enabled = false
	cmn.GCO.CommitUpdate(cfg)

	bal.Tick()
	if len(box.entries) != 0 {
		t.Fatalf("expected no scheduling while converter disabled, got %+v", box.entries)
	}

	cfg = cmn.GCO.BeginUpdate()
	cfg.Converter.Enabled = true
	cmn.GCO.CommitUpdate(cfg)
}
