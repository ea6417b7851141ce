package recycle

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ceresfs/mgm/cmn"
)

type fakeStore struct {
	mu       sync.Mutex
	entries  map[string]Entry
	owners   map[string]int64
	usedB    int64
	capB     int64
	usedI    int64
	capI     int64
	removed  []string
	recurRm  []string
	idxCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: map[string]Entry{}, owners: map[string]int64{}}
}

func (s *fakeStore) Enumerate() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) RemoveRecursive(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
	s.recurRm = append(s.recurRm, path)
	return nil
}

func (s *fakeStore) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
	s.removed = append(s.removed, path)
	return nil
}

func (s *fakeStore) Rename(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[from]
	if ok {
		delete(s.entries, from)
		e.Path = to
		s.entries[to] = e
	}
	if uid, ok := s.owners[from]; ok {
		delete(s.owners, from)
		s.owners[to] = uid
	}
	return nil
}

func (s *fakeStore) Exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[path]
	return ok
}

func (s *fakeStore) OwnerOf(path string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.owners[path]
	return uid, ok
}

func (s *fakeStore) QuotaUsage() (int64, int64, int64, int64, bool) {
	return s.usedB, s.capB, s.usedI, s.capI, true
}

func (s *fakeStore) IndexDir(uid int64, date time.Time, cap int) (string, error) {
	s.idxCalls++
	return "0", nil
}

var _ = Describe("Recycle tick eviction", func() {
	var store *fakeStore

	BeforeEach(func() {
		store = newFakeStore()
		cfg := cmn.GCO.BeginUpdate()
		cfg.Recycle.KeepTime = cmn.NewDuration(3600 * time.Second)
		cfg.Recycle.KeepRatio = 0
		cfg.Recycle.MinSnooze = cmn.NewDuration(time.Second)
		cmn.GCO.CommitUpdate(cfg)
	})

	It("removes entries older than keeptime oldest-first", func() {
		store.entries["/a"] = Entry{Path: "/a", Ctime: time.Now().Add(-2 * time.Hour)}
		store.entries["/b"] = Entry{Path: "/b", Ctime: time.Now()}

		bin := New(store)
		bin.Tick()

		Expect(store.Exists("/a")).To(BeFalse())
		Expect(store.Exists("/b")).To(BeTrue())
	})

	It("removes directory entries via RemoveRecursive", func() {
		store.entries["/d.d"] = Entry{Path: "/d.d", Ctime: time.Now().Add(-2 * time.Hour), IsDir: true}

		bin := New(store)
		bin.Tick()

		Expect(store.recurRm).To(ContainElement("/d.d"))
	})

	It("skips the tick when usage is below keepratio", func() {
		cfg := cmn.GCO.BeginUpdate()
		cfg.Recycle.KeepRatio = 0.9
		cmn.GCO.CommitUpdate(cfg)

		store.usedB, store.capB = 10, 100 // 10% used, well below 90%
		store.entries["/a"] = Entry{Path: "/a", Ctime: time.Now().Add(-2 * time.Hour)}

		bin := New(store)
		bin.Tick()

		Expect(store.Exists("/a")).To(BeTrue())

		cfg = cmn.GCO.BeginUpdate()
		cfg.Recycle.KeepRatio = 0
		cmn.GCO.CommitUpdate(cfg)
	})
})

var _ = Describe("ToGarbage and Restore", func() {
	var store *fakeStore
	var bin *Bin

	BeforeEach(func() {
		store = newFakeStore()
		bin = New(store)
	})

	It("moves a file into the recycle bin and restores it", func() {
		store.entries["/eos/user/foo.txt"] = Entry{Path: "/eos/user/foo.txt"}
		store.owners["/eos/user/foo.txt"] = 7
		store.entries["/eos/user"] = Entry{Path: "/eos/user"}

		err := bin.ToGarbage("/eos/user/foo.txt", 0x1a2b, false, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Exists("/eos/user/foo.txt")).To(BeFalse())

		var recyclePath string
		for p := range store.entries {
			if p != "/eos/user" {
				recyclePath = p
			}
		}
		Expect(recyclePath).NotTo(BeEmpty())
		store.owners[recyclePath] = 7

		err = bin.Restore("fxid:1a2b", 7, recyclePath, RestoreOpts{})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Exists("/eos/user/foo.txt")).To(BeTrue())
	})

	It("rejects restore by a non-owner", func() {
		store.entries["/r/entry.1"] = Entry{Path: "/r/entry.1"}
		store.owners["/r/entry.1"] = 7

		err := bin.Restore("fxid:1", 9, "/r/entry.1", RestoreOpts{})
		Expect(err).To(HaveOccurred())
		Expect(cmn.IsKind(err, cmn.KindPermissionDenied)).To(BeTrue())
	})
})

var _ = Describe("Purge", func() {
	It("only purges bulk and individual counts for requested uids", func() {
		store := newFakeStore()
		date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
		store.entries["/uid:7/2026/01/15/entry.1"] = Entry{Path: "/uid:7/2026/01/15/entry.1"}
		store.entries["/uid:7/2026/01/15/dir.1.d"] = Entry{Path: "/uid:7/2026/01/15/dir.1.d", IsDir: true}
		store.entries["/uid:9/2026/01/15/entry.2"] = Entry{Path: "/uid:9/2026/01/15/entry.2"}

		bin := New(store)
		counts, err := bin.Purge([]int64{7}, date, false, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(counts.IndividualRemoved).To(Equal(1))
		Expect(counts.BulkRemoved).To(Equal(1))
		Expect(store.Exists("/uid:9/2026/01/15/entry.2")).To(BeTrue())
	})

	It("rejects a non-admin purging another uid", func() {
		store := newFakeStore()
		bin := New(store)
		_, err := bin.Purge([]int64{9}, time.Now(), false, 7)
		Expect(err).To(HaveOccurred())
		Expect(cmn.IsKind(err, cmn.KindPermissionDenied)).To(BeTrue())
	})
})
