package namespace

import (
	"sync"

	"github.com/ceresfs/mgm/cmn"
)

// View is the namespace seam every component above it depends on. The
// locking hierarchy (spec §5) requires any caller already holding
// FsView.ViewMutex to acquire View's own lock next, then any QuotaNode
// lock last — View enforces its half of that order internally and never
// calls back into FsView.
type View interface {
	GetFile(fid uint64) (*FileMD, bool)
	GetContainer(id uint64) (*ContainerMD, bool)

	// WithFile runs fn under the namespace write lock with the current
	// FileMD, persisting any mutation fn makes. fn returning an error
	// aborts the mutation.
	WithFile(fid uint64, fn func(*FileMD) error) error
	// WithContainer is WithFile's analogue for a container.
	WithContainer(id uint64, fn func(*ContainerMD) error) error

	RemoveFile(fid uint64) error
	CreateFile(f *FileMD) error

	// ResolveByName looks up a child of parentID by name — used by
	// CommitProtocol's atomic-upload de-atomization to find a sibling
	// occupying the target name.
	ResolveByName(parentID uint64, name string) (fid uint64, ok bool)
	// RenameFile moves fid to a new parent/name, the same "rename in
	// place" operation ToGarbage and de-atomization both rely on.
	RenameFile(fid uint64, newParentID uint64, newName string) error

	AttachQuota(containerID uint64, size int64) error
	DetachQuota(containerID uint64, size int64) error
	QuotaUsage(containerID uint64) (QuotaNode, bool)

	Booted() bool
}

// MemView is an in-memory View: the production namespace is the external
// store QdbMaster.cc's BootNamespace wires up (ContainerMDSvc, FileMDSvc,
// HierarchicalView, FileSystemView, ContainerAccounting); out of scope to
// implement here (see glossary), so MemView stands in for it in tests and
// for single-process operation.
type MemView struct {
	mu     sync.RWMutex
	files  map[uint64]*FileMD
	conts  map[uint64]*ContainerMD
	quotas map[uint64]*QuotaNode
	booted bool
}

func NewMemView() *MemView {
	return &MemView{
		files:  make(map[uint64]*FileMD),
		conts:  make(map[uint64]*ContainerMD),
		quotas: make(map[uint64]*QuotaNode),
		booted: true,
	}
}

func (v *MemView) SetBooted(b bool) { v.mu.Lock(); v.booted = b; v.mu.Unlock() }
func (v *MemView) Booted() bool     { v.mu.RLock(); defer v.mu.RUnlock(); return v.booted }

func cloneFile(f *FileMD) *FileMD {
	clone := *f
	clone.Locations = append([]int64(nil), f.Locations...)
	clone.Unlinked = append([]int64(nil), f.Unlinked...)
	clone.Attrs = make(map[string]string, len(f.Attrs))
	for k, val := range f.Attrs {
		clone.Attrs[k] = val
	}
	return &clone
}

func (v *MemView) GetFile(fid uint64) (*FileMD, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	f, ok := v.files[fid]
	if !ok {
		return nil, false
	}
	return cloneFile(f), true
}

func (v *MemView) GetContainer(id uint64) (*ContainerMD, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.conts[id]
	if !ok {
		return nil, false
	}
	clone := *c
	clone.Attrs = make(map[string]string, len(c.Attrs))
	for k, val := range c.Attrs {
		clone.Attrs[k] = val
	}
	return &clone, true
}

func (v *MemView) CreateFile(f *FileMD) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.files[f.Fid]; exists {
		return cmn.ErrConflict("fid %d already exists", f.Fid)
	}
	v.files[f.Fid] = cloneFile(f)
	return nil
}

func (v *MemView) WithFile(fid uint64, fn func(*FileMD) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.files[fid]
	if !ok {
		return cmn.ErrNotFound("fid %d", fid)
	}
	work := cloneFile(f)
	if err := fn(work); err != nil {
		return err
	}
	v.files[fid] = work
	return nil
}

func (v *MemView) WithContainer(id uint64, fn func(*ContainerMD) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.conts[id]
	if !ok {
		return cmn.ErrNotFound("container %d", id)
	}
	work := *c
	work.Attrs = make(map[string]string, len(c.Attrs))
	for k, val := range c.Attrs {
		work.Attrs[k] = val
	}
	if err := fn(&work); err != nil {
		return err
	}
	v.conts[id] = &work
	return nil
}

func (v *MemView) RemoveFile(fid uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.files, fid)
	return nil
}

func (v *MemView) ResolveByName(parentID uint64, name string) (uint64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for fid, f := range v.files {
		if f.ParentID == parentID && f.Name == name {
			return fid, true
		}
	}
	return 0, false
}

func (v *MemView) RenameFile(fid uint64, newParentID uint64, newName string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.files[fid]
	if !ok {
		return cmn.ErrNotFound("fid %d", fid)
	}
	f.ParentID = newParentID
	f.Name = newName
	return nil
}

func (v *MemView) AttachQuota(containerID uint64, size int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	q, ok := v.quotas[containerID]
	if !ok {
		q = &QuotaNode{ContainerID: containerID}
		v.quotas[containerID] = q
	}
	q.UsedBytes += size
	q.UsedInodes++
	return nil
}

func (v *MemView) DetachQuota(containerID uint64, size int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	q, ok := v.quotas[containerID]
	if !ok {
		q = &QuotaNode{ContainerID: containerID}
		v.quotas[containerID] = q
	}
	q.UsedBytes -= size
	q.UsedInodes--
	return nil
}

func (v *MemView) QuotaUsage(containerID uint64) (QuotaNode, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	q, ok := v.quotas[containerID]
	if !ok {
		return QuotaNode{}, false
	}
	return *q, true
}

// PutContainer and SetQuotaCapacity are test/bootstrap helpers, not part
// of View — seeding data doesn't need the same lock discipline real
// mutation paths do.
func (v *MemView) PutContainer(c *ContainerMD) {
	v.mu.Lock()
	defer v.mu.Unlock()
	clone := *c
	if clone.Attrs == nil {
		clone.Attrs = map[string]string{}
	}
	v.conts[c.ID] = &clone
}

func (v *MemView) SetQuotaCapacity(containerID uint64, capacity int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	q, ok := v.quotas[containerID]
	if !ok {
		q = &QuotaNode{ContainerID: containerID}
		v.quotas[containerID] = q
	}
	q.CapacityBytes = capacity
}

// Snapshot returns every file's current replica locations, keyed by
// fid. It exists for callers outside this package that need to scan
// placement in bulk (balancer/drain's in-memory stand-ins) without
// reaching into MemView's internals or paying a GetFile round trip per
// fid.
func (v *MemView) Snapshot() map[uint64][]int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[uint64][]int64, len(v.files))
	for fid, f := range v.files {
		out[fid] = append([]int64(nil), f.Locations...)
	}
	return out
}

// AllFiles returns a clone of every FileMD currently known, for callers
// that need to scan the whole namespace (the CLI's find predicate
// engine) rather than resolve one fid at a time.
func (v *MemView) AllFiles() []*FileMD {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*FileMD, 0, len(v.files))
	for _, f := range v.files {
		out = append(out, cloneFile(f))
	}
	return out
}

// Children returns every container whose ParentID is parentID, for the
// CLI's tree walk. Root containers (no parent in this tree) pass 0.
func (v *MemView) Children(parentID uint64) []*ContainerMD {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*ContainerMD, 0)
	for _, c := range v.conts {
		if c.ParentID == parentID {
			clone := *c
			out = append(out, &clone)
		}
	}
	return out
}
