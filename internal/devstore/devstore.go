// Package devstore provides in-memory stand-ins for every storage seam
// the control-plane packages declare as "out of scope" (lease.KV,
// cluster.ConfigStore, recycle.Store, workflow.Store, converter's
// dropbox/copier/resolver trio, lru.Walker, balancer.FileSource,
// drain.FileCounter) plus the workflow method seams (mail/bash/notify/
// proto). None of this talks to a real external KV store — it exists so
// cmd/mgm can boot and exercise every engine end to end on a single
// process, the same role the teacher's dry-run mode plays for mock I/O.
package devstore

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/glog"

	"github.com/ceresfs/mgm/converter"
	"github.com/ceresfs/mgm/lru"
	"github.com/ceresfs/mgm/namespace"
	"github.com/ceresfs/mgm/recycle"
	"github.com/ceresfs/mgm/workflow"
)

// Lease is an in-memory lease.KV: a single named holder with a
// deadline, enough to let one process's Supervisor always win election
// (the only topology a single-process deployment has).
type Lease struct {
	mu       sync.Mutex
	holder   string
	deadline time.Time
}

func NewLease() *Lease { return &Lease{} }

func (l *Lease) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if l.holder == "" || l.holder == holder || now.After(l.deadline) {
		l.holder = holder
		l.deadline = now.Add(ttl)
		return true, l.holder, nil
	}
	return false, l.holder, nil
}

func (l *Lease) Release(ctx context.Context, name, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == holder {
		l.holder = ""
	}
	return nil
}

func (l *Lease) Get(ctx context.Context, name string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder, nil
}

// ConfigStore is an in-memory cluster.ConfigStore: every StoreFsConfig
// call is just remembered, since FsView already keeps the authoritative
// in-memory copy and this seam only exists to mirror it onto the
// external store.
type ConfigStore struct {
	mu   sync.Mutex
	kvs  map[string]string
}

func NewConfigStore() *ConfigStore { return &ConfigStore{kvs: make(map[string]string)} }

func (s *ConfigStore) StoreFsConfig(fsid int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kvs[fmt.Sprintf("%d/%s", fsid, key)] = value
	return nil
}

// Dropbox is the shared proc-dropbox both balancer.Dropbox and
// converter.ProcDropbox need; balancer.Create schedules an entry,
// converter.List/Chown/Remove/Exists drain it.
type Dropbox struct {
	mu      sync.Mutex
	entries map[string]struct{ uid, gid int64 }
}

func NewDropbox() *Dropbox { return &Dropbox{entries: make(map[string]struct{ uid, gid int64 })} }

func (d *Dropbox) Create(entry string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[entry]; ok {
		return fmt.Errorf("devstore: dropbox entry %q already exists", entry)
	}
	d.entries[entry] = struct{ uid, gid int64 }{}
	return nil
}

func (d *Dropbox) Exists(entry string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[entry]
	return ok
}

func (d *Dropbox) List() ([]converter.DropboxEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]converter.DropboxEntry, 0, len(d.entries))
	for name, ids := range d.entries {
		out = append(out, converter.DropboxEntry{Name: name, Uid: ids.uid, Gid: ids.gid})
	}
	return out, nil
}

func (d *Dropbox) Chown(name string, uid, gid int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[name]; !ok {
		return fmt.Errorf("devstore: dropbox entry %q not found", name)
	}
	d.entries[name] = struct{ uid, gid int64 }{uid, gid}
	return nil
}

func (d *Dropbox) Remove(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, name)
	return nil
}

// Copier is a no-op converter.Copier: it reports success immediately
// without moving any bytes, since the real third-party-copy transport
// is out of scope for this module.
type Copier struct{}

// Copy doesn't move any bytes, but still returns a non-empty checksum
// derived from the two URLs via xxhash. The converter does not read the
// returned checksum: its verify step compares the namespace checksum
// before and after the copy.
func (Copier) Copy(ctx context.Context, srcURL, dstURL string) (string, error) {
	sum := xxhash.ChecksumString64S(srcURL+"->"+dstURL, 0)
	return fmt.Sprintf("%016x", sum), nil
}

// FidResolver adapts a namespace.View into converter.FidResolver.
type FidResolver struct{ View namespace.View }

func (r FidResolver) FileForEntry(fid uint64) (*namespace.FileMD, bool) {
	return r.View.GetFile(fid)
}

// MemViewSnapshot is the minimal extra seam devstore needs from
// namespace.MemView beyond the View interface: a listing of every fid's
// current locations, used for the random placement picks FileSource and
// FileCounter make.
type MemViewSnapshot interface {
	Snapshot() map[uint64][]int64
	GetFile(fid uint64) (*namespace.FileMD, bool)
}

// FileSource adapts a namespace.View into balancer.FileSource by
// picking uniformly among the files currently placed on fsid — an
// O(n) scan acceptable only because dev mode never holds more than a
// handful of files.
type FileSource struct {
	mu   sync.Mutex
	rng  *rand.Rand
	View MemViewSnapshot
}

func NewFileSource(view MemViewSnapshot) *FileSource {
	return &FileSource{rng: rand.New(rand.NewSource(time.Now().UnixNano())), View: view}
}

func (f *FileSource) RandomFileOnTarget(fsid int64) (fid uint64, size int64, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var candidates []uint64
	for candidate, locs := range f.View.Snapshot() {
		for _, l := range locs {
			if l == fsid {
				candidates = append(candidates, candidate)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return 0, 0, false
	}
	fid = candidates[f.rng.Intn(len(candidates))]
	if md, found := f.View.GetFile(fid); found {
		size = md.Size
	}
	return fid, size, true
}

// FileCounter adapts the same snapshot into drain.FileCounter; open
// writers are always reported as zero since this module's control
// plane doesn't model in-flight uploads.
type FileCounter struct{ View MemViewSnapshot }

func (c FileCounter) FilesOnTarget(fsid int64) int {
	n := 0
	for _, locs := range c.View.Snapshot() {
		for _, l := range locs {
			if l == fsid {
				n++
				break
			}
		}
	}
	return n
}

func (c FileCounter) OpenWriters(fsid int64) int { return 0 }

// Walker is an in-memory lru.Walker over the directories and files
// registered with PutDir/PutFile. WalkReverse returns every registered
// directory, newest ctime first, with no sys.lru.* filtering and no
// depth ordering — a real deployment walks the namespace's recursive
// find instead.
type Walker struct {
	mu    sync.Mutex
	dirs  map[uint64]dirRecord
	files map[uint64][]fileRecord
}

type dirRecord struct {
	ctime time.Time
	attrs map[string]string
}

type fileRecord struct {
	fid      uint64
	name     string
	ctime    time.Time
	size     int64
	layoutID int
}

func NewWalker() *Walker {
	return &Walker{dirs: make(map[uint64]dirRecord), files: make(map[uint64][]fileRecord)}
}

func (w *Walker) PutDir(id uint64, ctime time.Time, attrs map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirs[id] = dirRecord{ctime: ctime, attrs: attrs}
}

func (w *Walker) PutFile(dirID uint64, fid uint64, name string, ctime time.Time, size int64, layoutID int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[dirID] = append(w.files[dirID], fileRecord{fid: fid, name: name, ctime: ctime, size: size, layoutID: layoutID})
}

func (w *Walker) WalkReverse(space string) ([]lru.DirInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]lru.DirInfo, 0, len(w.dirs))
	for id, d := range w.dirs {
		out = append(out, lru.DirInfo{ID: id, Ctime: d.ctime, ChildCount: len(w.files[id]), Attrs: d.attrs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ctime.After(out[j].Ctime) })
	return out, nil
}

func (w *Walker) Files(dirID uint64) ([]lru.FileInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	recs := w.files[dirID]
	out := make([]lru.FileInfo, 0, len(recs))
	for _, r := range recs {
		out = append(out, lru.FileInfo{Fid: r.fid, Name: r.name, Ctime: r.ctime, Size: r.size, LayoutID: r.layoutID})
	}
	return out, nil
}

func (w *Walker) RemoveDir(dirID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.dirs, dirID)
	delete(w.files, dirID)
	return nil
}

func (w *Walker) RemoveFile(fid uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dirID, recs := range w.files {
		for i, r := range recs {
			if r.fid == fid {
				w.files[dirID] = append(recs[:i], recs[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (w *Walker) QuotaUsage(dirID uint64) (int64, int64, bool) { return 0, 0, false }

// RecycleStore is an in-memory recycle.Store over a flat path->entry map.
type RecycleStore struct {
	mu      sync.Mutex
	entries map[string]recycle.Entry
	indexes map[string]int
}

func NewRecycleStore() *RecycleStore {
	return &RecycleStore{entries: make(map[string]recycle.Entry), indexes: make(map[string]int)}
}

func (s *RecycleStore) Enumerate() ([]recycle.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recycle.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *RecycleStore) RemoveRecursive(path string) error { return s.Remove(path) }

func (s *RecycleStore) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
	return nil
}

func (s *RecycleStore) Rename(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[from]
	if !ok {
		return fmt.Errorf("devstore: recycle entry %q not found", from)
	}
	delete(s.entries, from)
	e.Path = to
	s.entries[to] = e
	return nil
}

func (s *RecycleStore) Exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[path]
	return ok
}

func (s *RecycleStore) OwnerOf(path string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[path]
	if !ok {
		return 0, false
	}
	return e.Uid, true
}

func (s *RecycleStore) QuotaUsage() (int64, int64, int64, int64, bool) { return 0, 0, 0, 0, false }

func (s *RecycleStore) IndexDir(uid int64, date time.Time, entriesCap int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%d/%s", uid, date.Format("2006/01/02"))
	idx := s.indexes[key]
	dir := fmt.Sprintf("/uid:%d/%s/%d", uid, date.Format("2006/01/02"), idx)
	count := 0
	for p := range s.entries {
		if strings.HasPrefix(p, dir+"/") {
			count++
		}
	}
	if count >= entriesCap {
		idx++
		s.indexes[key] = idx
	}
	return fmt.Sprintf("%d", idx), nil
}

// Put installs an entry directly — used by ToGarbage's caller (the
// commit/delete path in a real deployment) since devstore has no
// namespace-delete hook of its own to drive this automatically.
func (s *RecycleStore) Put(e recycle.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Path] = e
}

// WorkflowStore is an in-memory workflow.Store keyed by
// day/queue/workflow/entry.
type WorkflowStore struct {
	mu  sync.Mutex
	jobs map[string]*workflow.Job
}

func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{jobs: make(map[string]*workflow.Job)}
}

func jobKey(day string, queue workflow.Queue, wf, entry string) string {
	return day + "/" + string(queue) + "/" + wf + "/" + entry
}

func (s *WorkflowStore) List(day string, queue workflow.Queue, wf string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := day + "/" + string(queue) + "/" + wf + "/"
	var out []string
	for k := range s.jobs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *WorkflowStore) Days() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	for k := range s.jobs {
		seen[strings.SplitN(k, "/", 2)[0]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func (s *WorkflowStore) Workflows(day string, queue workflow.Queue) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := day + "/" + string(queue) + "/"
	seen := map[string]struct{}{}
	for k := range s.jobs {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		seen[strings.SplitN(rest, "/", 2)[0]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for wf := range seen {
		out = append(out, wf)
	}
	sort.Strings(out)
	return out, nil
}

func (s *WorkflowStore) Save(j *workflow.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[jobKey(j.Day, j.Queue, j.Name, j.EntryName())] = &cp
	return nil
}

func (s *WorkflowStore) Load(day string, queue workflow.Queue, wf, entry string) (*workflow.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobKey(day, queue, wf, entry)]
	if !ok {
		return nil, fmt.Errorf("devstore: workflow entry not found")
	}
	cp := *j
	return &cp, nil
}

func (s *WorkflowStore) Delete(j *workflow.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobKey(j.Day, j.Queue, j.Name, j.EntryName()))
	return nil
}

func (s *WorkflowStore) Results(j *workflow.Job, retCode int, log string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobKey(j.Day, j.Queue, j.Name, j.EntryName())
	if stored, ok := s.jobs[key]; ok {
		stored.RetCode = retCode
		stored.Log = log
	}
	return nil
}

func (s *WorkflowStore) RemoveDayOlderThan(cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.jobs {
		day := strings.SplitN(k, "/", 2)[0]
		t, err := time.Parse("2006-01-02", day)
		if err == nil && t.Before(cutoff) {
			delete(s.jobs, k)
		}
	}
	return nil
}

// Mailer logs a workflow "mail" action instead of sending real mail —
// there is no SMTP transport in this module's dependency set.
type Mailer struct{}

func (Mailer) Send(addr, text string) error {
	glog.Infof("workflow: mail -> %s: %s", addr, text)
	return nil
}

// Notifier logs a workflow "notify" action.
type Notifier struct{}

func (Notifier) Notify(fid uint64, event string) error {
	glog.Infof("workflow: notify fid=%x event=%s", fid, event)
	return nil
}

// BashRunner logs the command it would have run instead of executing
// anything, since sandboxing an arbitrary shell script is out of scope
// for this control-plane module.
type BashRunner struct{}

func (BashRunner) Run(exe, expandedArgs string) (map[string]string, error) {
	glog.Infof("workflow: bash %s %s (not executed: no sandbox configured)", exe, expandedArgs)
	return nil, nil
}

// ProtoTransport replies OK to every archival dialogue without
// contacting any endpoint, standing in for the XRootD SSI transport.
type ProtoTransport struct{}

func (ProtoTransport) Send(ctx context.Context, endpoint, resource string, req []byte) ([]byte, error) {
	return workflow.EncodeResponse(workflow.ProtoResponse{OK: true}), nil
}

// FileContext adapts a namespace.View into workflow.FileContext. Path
// is reconstructed by walking ParentID up to the root, since FileMD only
// carries a basename; a real deployment's path comes from the
// namespace's own cached full-path resolution instead of this O(depth)
// walk.
type FileContext struct{ View namespace.View }

func (c FileContext) Path(fid uint64) (string, bool) {
	f, ok := c.View.GetFile(fid)
	if !ok {
		return "", false
	}
	var parts []string
	parts = append(parts, f.Name)
	parentID := f.ParentID
	for parentID != 0 {
		cont, ok := c.View.GetContainer(parentID)
		if !ok {
			break
		}
		if cont.Name != "" {
			parts = append([]string{cont.Name}, parts...)
		}
		parentID = cont.ParentID
	}
	return "/" + strings.Join(parts, "/"), true
}

func (c FileContext) Owner(fid uint64) (int64, int64, bool) {
	f, ok := c.View.GetFile(fid)
	if !ok {
		return 0, 0, false
	}
	return f.Uid, f.Gid, true
}

func (c FileContext) Checksum(fid uint64) (string, bool) {
	f, ok := c.View.GetFile(fid)
	if !ok {
		return "", false
	}
	return f.Checksum, true
}

func (c FileContext) Size(fid uint64) (int64, bool) {
	f, ok := c.View.GetFile(fid)
	if !ok {
		return 0, false
	}
	return f.Size, true
}

func (c FileContext) Ctime(fid uint64) (int64, int64, bool) {
	f, ok := c.View.GetFile(fid)
	if !ok {
		return 0, 0, false
	}
	return f.Mtime, f.MtimeNs, true
}

func (c FileContext) ContainerName(fid uint64) (string, bool) {
	f, ok := c.View.GetFile(fid)
	if !ok {
		return "", false
	}
	cont, ok := c.View.GetContainer(f.ParentID)
	if !ok {
		return "", false
	}
	return cont.Name, true
}

func (c FileContext) FileAttr(fid uint64, key string) (string, bool) {
	f, ok := c.View.GetFile(fid)
	if !ok {
		return "", false
	}
	v, ok := f.Attrs[key]
	return v, ok
}

func (c FileContext) SetFileAttr(fid uint64, key, value string) error {
	return c.View.WithFile(fid, func(f *namespace.FileMD) error {
		if f.Attrs == nil {
			f.Attrs = map[string]string{}
		}
		f.Attrs[key] = value
		return nil
	})
}

func (c FileContext) ContainerAttr(fid uint64, key string) (string, bool) {
	f, ok := c.View.GetFile(fid)
	if !ok {
		return "", false
	}
	cont, ok := c.View.GetContainer(f.ParentID)
	if !ok {
		return "", false
	}
	v, ok := cont.Attrs[key]
	return v, ok
}

func (c FileContext) HasDiskReplica(fid uint64) bool {
	f, ok := c.View.GetFile(fid)
	return ok && len(f.Locations) > 0
}

func (c FileContext) AddTapeReplica(fid uint64) error {
	return c.View.WithFile(fid, func(f *namespace.FileMD) error {
		f.Attrs["sys.tape"] = "1"
		return nil
	})
}

func (c FileContext) RemoveDiskReplicas(fid uint64) error {
	return c.View.WithFile(fid, func(f *namespace.FileMD) error {
		f.Unlinked = append(f.Unlinked, f.Locations...)
		f.Locations = nil
		return nil
	})
}

func (c FileContext) IncrRetrieveCounter(fid uint64) (int, error) {
	var n int
	err := c.View.WithFile(fid, func(f *namespace.FileMD) error {
		if f.Attrs == nil {
			f.Attrs = map[string]string{}
		}
		cur := 0
		fmt.Sscanf(f.Attrs["sys.retrieve.req"], "%d", &cur)
		cur++
		f.Attrs["sys.retrieve.req"] = fmt.Sprintf("%d", cur)
		n = cur
		return nil
	})
	return n, err
}

func (c FileContext) DecrRetrieveCounter(fid uint64) (int, error) {
	var n int
	err := c.View.WithFile(fid, func(f *namespace.FileMD) error {
		cur := 0
		fmt.Sscanf(f.Attrs["sys.retrieve.req"], "%d", &cur)
		if cur > 0 {
			cur--
		}
		f.Attrs["sys.retrieve.req"] = fmt.Sprintf("%d", cur)
		n = cur
		return nil
	})
	return n, err
}

var _ workflow.FileContext = FileContext{}
