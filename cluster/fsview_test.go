package cluster

import "testing"

type fakeStore struct{ calls int }

func (f *fakeStore) StoreFsConfig(fsid int64, key, value string) error {
	f.calls++
	return nil
}

func newTestTarget(fsid int64, node, group, space string) *Target {
	return &Target{Fsid: fsid, Node: node, Group: group, Space: space, Configured: StatusOnline, Active: ActiveOnline}
}

func TestAddRemoveTargetAllIndices(t *testing.T) {
	store := &fakeStore{}
	v := NewFsView(store)
	v.AddTarget(newTestTarget(1, "n1", "g0", "default"))
	v.AddTarget(newTestTarget(2, "n1", "g1", "default"))

	if !v.CheckInvariant() {
		t.Fatal("invariant broken after add")
	}
	if len(v.ByNode("n1")) != 2 {
		t.Fatalf("expected 2 targets on n1, got %d", len(v.ByNode("n1")))
	}
	if len(v.ByGroup("g0")) != 1 {
		t.Fatalf("expected 1 target in g0")
	}

	v.RemoveTarget(1)
	if !v.CheckInvariant() {
		t.Fatal("invariant broken after remove")
	}
	if g := v.Get(1); g != nil {
		t.Fatal("expected fsid 1 gone")
	}
	if len(v.ByNode("n1")) != 1 {
		t.Fatalf("expected 1 target left on n1, got %d", len(v.ByNode("n1")))
	}
}

func TestSetTargetKeyWritesThrough(t *testing.T) {
	store := &fakeStore{}
	v := NewFsView(store)
	v.AddTarget(newTestTarget(5, "n2", "g0", "default"))

	if err := v.SetTargetKey(5, "lru", "on"); err != nil {
		t.Fatal(err)
	}
	if store.calls != 1 {
		t.Fatalf("expected 1 write-through call, got %d", store.calls)
	}
	val, ok := v.GetTargetKey(5, "lru")
	if !ok || val != "on" {
		t.Fatalf("expected lru=on, got %q ok=%v", val, ok)
	}
}

func TestSnapshotConsistentCopy(t *testing.T) {
	v := NewFsView(nil)
	v.AddTarget(newTestTarget(9, "n3", "g0", "default"))
	v.SetTargetKey(9, "foo", "bar")

	snap, ok := v.Snap(9)
	if !ok {
		t.Fatal("expected snapshot")
	}
	if snap.Config["foo"] != "bar" {
		t.Fatalf("expected config carried into snapshot, got %+v", snap.Config)
	}
}

func TestSetNodeKeyBroadcastsToAllTargetsOnNode(t *testing.T) {
	v := NewFsView(nil)
	v.AddTarget(newTestTarget(1, "n1", "g0", "default"))
	v.AddTarget(newTestTarget(2, "n1", "g1", "default"))
	v.AddTarget(newTestTarget(3, "n2", "g0", "default"))

	if err := v.SetNodeKey("n1", "drainer", "on"); err != nil {
		t.Fatal(err)
	}
	for _, fsid := range []int64{1, 2} {
		val, ok := v.GetTargetKey(fsid, "drainer")
		if !ok || val != "on" {
			t.Fatalf("fsid %d: expected drainer=on, got %q", fsid, val)
		}
	}
	if _, ok := v.GetTargetKey(3, "drainer"); ok {
		t.Fatal("fsid 3 on n2 should not have received the n1 broadcast")
	}
}
