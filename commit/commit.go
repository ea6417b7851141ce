// Package commit implements CommitProtocol: the storage-node-facing
// messages (commit, drop, schedule-delete) carried over the file-access
// protocol's plugin channel, per 4.D.
package commit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/ceresfs/mgm/cluster"
	"github.com/ceresfs/mgm/cmn"
	"github.com/ceresfs/mgm/namespace"
)

// Flags selects the behavior of a commit message, per 4.D.
type Flags uint32

const (
	FlagVerifySize Flags = 1 << iota
	FlagVerifyChecksum
	FlagCommitSize
	FlagCommitChecksum
	FlagReplication
	FlagReconstruction
	FlagModified
	FlagFusex
	FlagDropFsid
)

func (f Flags) has(x Flags) bool { return f&x != 0 }

// Msg is one commit(fid, fsid, size, mtime, checksum, flags) message.
type Msg struct {
	Fid         uint64
	Fsid        int64
	Size        int64
	Mtime       int64
	MtimeNs     int64
	Checksum    string
	Flags       Flags
	DropFsid    int64
	ChunkIndex  int
	TotalChunks int // 0 means "not a chunked upload"
}

// ScheduleSets is the balancer/drain in-flight bookkeeping a successful
// replication commit clears the file from, so neither engine re-schedules
// a swap or drain that already landed.
type ScheduleSets interface {
	ClearScheduledToDrain(fid uint64)
	ClearScheduledToBalance(fid uint64)
}

// Protocol wires CommitProtocol against a live FsView and namespace View.
type Protocol struct {
	Fs       *cluster.FsView
	View     namespace.View
	Schedule ScheduleSets
}

// Commit runs the seven-step algorithm in 4.D.
func (p *Protocol) Commit(msg Msg) error {
	// 1. fsid must be writable.
	t := p.Fs.Get(msg.Fsid)
	if t == nil || t.Configured != cluster.StatusOnline {
		return cmn.ErrPermissionDenied("fsid %d not writable: non-operational", msg.Fsid)
	}

	f, ok := p.View.GetFile(msg.Fid)
	if !ok {
		// 2. missing FileMD.
		return cmn.ErrNotFound("fid %d already removed", msg.Fid)
	}

	// 3. replication-commit consistency check against the existing FileMD.
	if msg.Flags.has(FlagReplication) && !msg.Flags.has(FlagReconstruction) {
		if f.HasUnlinked(msg.Fsid) && msg.Flags.has(FlagFusex) {
			return cmn.ErrConflict("stale fusex recovery replica for fid %d fsid %d", msg.Fid, msg.Fsid)
		}
		sizeDisagrees := msg.Flags.has(FlagVerifySize) && f.Size != 0 && f.Size != msg.Size
		cksumDisagrees := msg.Flags.has(FlagVerifyChecksum) && f.Checksum != "" && f.Checksum != msg.Checksum
		if sizeDisagrees || cksumDisagrees {
			if err := p.View.WithFile(msg.Fid, func(work *namespace.FileMD) error {
				work.Locations = removeLoc(work.Locations, msg.Fsid)
				return nil
			}); err != nil {
				return err
			}
			if sizeDisagrees {
				return cmn.ErrInvalidArg("replica commit size mismatch fid=%d fsid=%d", msg.Fid, msg.Fsid)
			}
			return cmn.ErrChecksumMismatch("replica commit checksum mismatch fid=%d fsid=%d", msg.Fid, msg.Fsid)
		}
	}

	var updated bool
	var sizeChanged bool
	var parentID uint64
	var finalName string
	oldSize := f.Size

	err := p.View.WithFile(msg.Fid, func(work *namespace.FileMD) error {
		parentID = work.ParentID
		// 4. detach/reattach around the mutation, add/drop locations.
		work.Locations = appendLoc(work.Locations, msg.Fsid)
		work.Unlinked = removeLoc(work.Unlinked, msg.Fsid)
		if msg.Flags.has(FlagDropFsid) {
			work.Locations = removeLoc(work.Locations, msg.DropFsid)
		}
		if msg.Flags.has(FlagCommitSize) && (work.Size != msg.Size || msg.Flags.has(FlagModified)) {
			work.Size = msg.Size
			updated = true
			sizeChanged = work.Size != oldSize
		}
		if msg.Flags.has(FlagCommitChecksum) && work.Checksum != msg.Checksum {
			work.Checksum = msg.Checksum
			updated = true
		}

		// 5. chunked-upload bookkeeping.
		if msg.TotalChunks > 0 {
			if msg.ChunkIndex+1 == msg.TotalChunks {
				work.InProgress = false
			} else {
				work.InProgress = true
				work.ChunkIndex = msg.ChunkIndex
			}
		}
		finalName = work.Name
		return nil
	})
	if err != nil {
		return err
	}
	if p.View != nil && sizeChanged {
		// detach the old size, reattach the new one: UsedInodes nets to zero,
		// UsedBytes moves by exactly the resize delta.
		_ = p.View.DetachQuota(parentID, oldSize)
		_ = p.View.AttachQuota(parentID, msg.Size)
	}

	// 6. mtime / parent mtime / ETag / fusex invalidation.
	if updated && msg.Mtime != 0 {
		if err := p.View.WithFile(msg.Fid, func(work *namespace.FileMD) error {
			work.Mtime, work.MtimeNs = msg.Mtime, msg.MtimeNs
			delete(work.Attrs, "sys.tmp.etag")
			return nil
		}); err != nil {
			return err
		}
		if parentID != 0 {
			_ = p.View.WithContainer(parentID, func(c *namespace.ContainerMD) error {
				c.Mtime = msg.Mtime
				return nil
			})
		}
		if !msg.Flags.has(FlagFusex) {
			glog.Infof("fusex invalidate container=%d (commit fid=%d)", parentID, msg.Fid)
		}
	}

	// 7. atomic-upload de-atomization.
	if !msg.Flags.has(FlagFusex) || true { // de-atomization applies regardless of mutator type
		isComplete := msg.TotalChunks == 0 || msg.ChunkIndex+1 == msg.TotalChunks
		if isComplete {
			if err := p.handleAtomicUpload(parentID, msg.Fid, finalName); err != nil {
				return err
			}
		}
	}

	if msg.Flags.has(FlagReplication) && p.Schedule != nil {
		p.Schedule.ClearScheduledToDrain(msg.Fid)
		p.Schedule.ClearScheduledToBalance(msg.Fid)
	}
	return nil
}

const atomicPrefix = ".sys.a#."

// IsAtomicName reports whether name carries the atomic-upload prefix.
func IsAtomicName(name string) bool { return strings.HasPrefix(name, atomicPrefix) }

// DemangleAtomicName strips the atomic-upload prefix and tie-breaker
// suffix, returning the real target name.
func DemangleAtomicName(name string) (target string, ok bool) {
	if !IsAtomicName(name) {
		return name, false
	}
	rest := strings.TrimPrefix(name, atomicPrefix)
	idx := strings.LastIndex(rest, ".")
	if idx < 0 {
		return rest, true
	}
	return rest[:idx], true
}

// EncodeAtomicName builds the mangled upload name for target with tie
// as the disambiguating suffix.
func EncodeAtomicName(target, tie string) string {
	return atomicPrefix + target + "." + tie
}

// handleAtomicUpload is Commit.cc's versioning dance: it fails with a
// conflict if another atomic upload is tagged as latest for the target,
// otherwise renames any pre-existing target to "<target>.<hex fid>" and
// renames the atomic temp into place. The prior occupant stays under its
// versioned name; it is not stashed under ".delete" and is not removed.
func (p *Protocol) handleAtomicUpload(parentID uint64, fid uint64, name string) error {
	target, isAtomic := DemangleAtomicName(name)
	if !isAtomic {
		return nil
	}

	var stale uint64
	var hasStale bool
	err := p.View.WithContainer(parentID, func(c *namespace.ContainerMD) error {
		tag, tagged := c.Attrs["sys.tmp.atomic"]
		if tagged && tag != name {
			return cmn.ErrConflict("overlapping atomic upload [EREMCHG]: %s not latest for %s", name, target)
		}
		c.Attrs["sys.tmp.atomic"] = ""
		return nil
	})
	if err != nil {
		return err
	}

	if existing, found := p.View.ResolveByName(parentID, target); found {
		existingMD, ok := p.View.GetFile(existing)
		if ok {
			versioned := fmt.Sprintf("%s.%x", target, existingMD.Fid)
			if err := p.View.RenameFile(existing, parentID, versioned); err != nil {
				return err
			}
			stale = existing
			hasStale = true
		}
	}

	if err := p.View.RenameFile(fid, parentID, target); err != nil {
		return err
	}
	_ = p.View.WithContainer(parentID, func(c *namespace.ContainerMD) error {
		delete(c.Attrs, "sys.tmp.atomic")
		return nil
	})

	if hasStale {
		glog.Infof("de-atomize fid=%d target=%s versioned-prior=%d", fid, target, stale)
	}
	return nil
}

func appendLoc(locs []int64, fsid int64) []int64 {
	for _, l := range locs {
		if l == fsid {
			return locs
		}
	}
	return append(locs, fsid)
}

func removeLoc(locs []int64, fsid int64) []int64 {
	out := locs[:0]
	for _, l := range locs {
		if l != fsid {
			out = append(out, l)
		}
	}
	return out
}

// Drop implements drop(fid, fsid[, dropall]): remove fsid (or every
// location) from locations/unlinked; if both sets become empty the file
// is removed from the namespace. Missing fid/fsid succeeds silently.
func (p *Protocol) Drop(fid uint64, fsid int64, dropAll bool) error {
	f, ok := p.View.GetFile(fid)
	if !ok {
		return nil // already gone: silent success
	}

	var parentID uint64
	var empty bool
	err := p.View.WithFile(fid, func(work *namespace.FileMD) error {
		parentID = work.ParentID
		if dropAll {
			work.Locations = nil
			work.Unlinked = nil
		} else {
			work.Locations = removeLoc(work.Locations, fsid)
			work.Unlinked = removeLoc(work.Unlinked, fsid)
		}
		empty = len(work.Locations) == 0 && len(work.Unlinked) == 0
		return nil
	})
	if err != nil {
		return nil // target gone mid-operation: silent success
	}

	if empty {
		if err := p.View.RemoveFile(fid); err != nil {
			return nil
		}
		if parentID != 0 {
			_ = p.View.WithContainer(parentID, func(c *namespace.ContainerMD) error {
				c.Mtime = time.Now().Unix()
				return nil
			})
			_ = p.View.DetachQuota(parentID, f.Size)
		}
	}
	return nil
}

// EncodeIDList renders the schedule-delete id-list entry format:
// hexfid[:lpath:ctime][,...].
func EncodeIDList(entries []ScheduleEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		s := strconv.FormatUint(e.Fid, 16)
		if e.LocalPath != "" {
			s += ":" + e.LocalPath + ":" + strconv.FormatInt(e.Ctime, 10)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ",")
}

// ScheduleEntry is one unlinked-location record destined for a
// schedule-delete batch.
type ScheduleEntry struct {
	Fid       uint64
	LocalPath string
	Ctime     int64
}
