// Package namespace abstracts the metadata store FsView, CommitProtocol,
// and every background engine operate against: files, containers, and the
// quota nodes that track per-directory usage. The real store is an
// external strongly-consistent service (see the glossary's "KV store"
// entry) reached through this interface; MemView is an in-memory
// implementation used by tests and by single-process deployments.
package namespace

import "time"

// FileMD is a file's metadata: identity, placement, and the handful of
// attributes CommitProtocol/Converter/LRU/WorkflowEngine read or mutate.
type FileMD struct {
	Fid         uint64
	Name        string
	ParentID    uint64
	Size        int64
	Mtime       int64
	MtimeNs     int64
	Checksum    string
	LayoutID    int
	Locations   []int64 // fsids currently holding a replica
	Unlinked    []int64 // fsids pending removal
	Uid, Gid    int64
	Attrs       map[string]string
	ChunkIndex  int
	TotalChunks int
	InProgress  bool
	ETag        string
}

// HasLocation reports whether fsid is among the file's current locations.
func (f *FileMD) HasLocation(fsid int64) bool { return containsInt64(f.Locations, fsid) }
func (f *FileMD) HasUnlinked(fsid int64) bool { return containsInt64(f.Unlinked, fsid) }

func containsInt64(s []int64, v int64) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func removeInt64(s []int64, v int64) []int64 {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func appendUniqueInt64(s []int64, v int64) []int64 {
	if containsInt64(s, v) {
		return s
	}
	return append(s, v)
}

// ContainerMD is a directory's metadata: the handful of fields the
// background engines need (mtime, attributes).
type ContainerMD struct {
	ID       uint64
	Name     string
	ParentID uint64
	Mtime    int64
	Attrs    map[string]string
}

// QuotaNode accumulates per-directory (project quota) usage; files are
// attached/detached from it as they are created, moved, or resized.
type QuotaNode struct {
	ContainerID  uint64
	UsedBytes    int64
	UsedInodes   int64
	CapacityBytes int64
}

// now is overridable in tests that need deterministic ctime comparisons.
var now = func() time.Time { return time.Now() }
