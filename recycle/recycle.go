// Package recycle implements RecycleBin: ToGarbage/Restore/Purge and the
// keeptime/keepratio eviction loop, per 4.I.
package recycle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/golang/glog"

	"github.com/ceresfs/mgm/cmn"
	"github.com/ceresfs/mgm/procfmt"
)

// Entry is one occupant of the recycle tree, already carrying the
// bookkeeping Tick needs to decide whether to expire it.
type Entry struct {
	Path  string // full recycle-resident path
	Uid   int64
	Ctime time.Time
	IsDir bool // suffix ".d": a recursive-directory entry
}

// Store is the recycle tree's storage seam: out of scope to implement
// against a real namespace (see the glossary's "KV store" entry), same
// division of labor as namespace.View and lease.KV.
type Store interface {
	// Enumerate walks both the legacy (/<gid>/<uid>/<entry>) and current
	// (/uid:<uid>/<yyyy>/<mm>/<dd>/<idx>/<entry>) layouts.
	Enumerate() ([]Entry, error)
	// RemoveRecursive deletes path depth-first (used for ".d" entries).
	RemoveRecursive(path string) error
	Remove(path string) error

	Rename(from, to string) error
	Exists(path string) bool
	OwnerOf(path string) (uid int64, ok bool)

	// QuotaUsage returns the recycle root's project-quota usage.
	QuotaUsage() (usedBytes, capacityBytes, usedInodes, capacityInodes int64, ok bool)

	// IndexDir returns the "<idx>" subdirectory under
	// /uid:<uid>/<yyyy>/<mm>/<dd> whose entry count is below cap,
	// creating it on demand with uid ownership.
	IndexDir(uid int64, date time.Time, entriesCap int) (idx string, err error)
}

// Bin runs the recycle bin for one mount.
type Bin struct {
	Store Store
}

func New(store Store) *Bin { return &Bin{Store: store} }

// Run loops ticks until ctx is cancelled.
func (b *Bin) Run(ctx context.Context) {
	for {
		snooze := b.Tick()
		select {
		case <-time.After(snooze):
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs a single pass and returns how long to snooze before the next.
func (b *Bin) Tick() time.Duration {
	cfg := cmn.GCO.Get().Recycle
	keepTime := cfg.KeepTime.D()
	if keepTime == 0 {
		keepTime = 86400 * time.Second
	}
	minSnooze := cfg.MinSnooze.D()
	if minSnooze == 0 {
		minSnooze = 30 * time.Second
	}

	if cfg.KeepRatio > 0 {
		usedBytes, capBytes, usedInodes, capInodes, ok := b.Store.QuotaUsage()
		if ok {
			ratio := maxRatio(usedBytes, capBytes, usedInodes, capInodes)
			if ratio < cfg.KeepRatio {
				return minSnooze
			}
		}
	}

	entries, err := b.Store.Enumerate()
	if err != nil {
		glog.Errorf("recycle: enumerate failed: %v", err)
		return minSnooze
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Ctime.Before(entries[j].Ctime) })

	now := time.Now()
	var nextExpiry time.Duration = keepTime
	for _, e := range entries {
		age := now.Sub(e.Ctime)
		if age < keepTime {
			if remaining := keepTime - age; remaining < nextExpiry {
				nextExpiry = remaining
			}
			break // oldest-first: nothing older remains expired
		}

		if e.IsDir {
			err = b.Store.RemoveRecursive(e.Path)
		} else {
			err = b.Store.Remove(e.Path)
		}
		if err != nil {
			glog.Errorf("recycle: remove %s: %v", e.Path, err)
			continue
		}

		if cfg.KeepRatio > 0 {
			usedBytes, capBytes, usedInodes, capInodes, ok := b.Store.QuotaUsage()
			if ok && maxRatio(usedBytes, capBytes, usedInodes, capInodes) < cfg.KeepRatio-0.1 {
				break
			}
		}
	}

	snooze := nextExpiry
	if snooze > keepTime {
		snooze = keepTime
	}
	if snooze < minSnooze {
		snooze = minSnooze
	}
	return snooze
}

func maxRatio(usedBytes, capBytes, usedInodes, capInodes int64) float64 {
	var byteRatio, inodeRatio float64
	if capBytes > 0 {
		byteRatio = float64(usedBytes) / float64(capBytes)
	}
	if capInodes > 0 {
		inodeRatio = float64(usedInodes) / float64(capInodes)
	}
	if byteRatio > inodeRatio {
		return byteRatio
	}
	return inodeRatio
}

// ToGarbage moves path (file or directory) into the recycle bin by
// renaming in place, choosing the first index subdirectory under the
// cap.
func (b *Bin) ToGarbage(originalPath string, fid uint64, isDir bool, uid int64) error {
	cfg := cmn.GCO.Get().Recycle
	entriesCap := cfg.EntriesCap
	if entriesCap == 0 {
		entriesCap = 100_000
	}
	idx, err := b.Store.IndexDir(uid, time.Now(), entriesCap)
	if err != nil {
		return cmn.WrapErr(cmn.KindFatal, err, "recycle: allocate index dir")
	}
	name := procfmt.EncodeRecycleName(originalPath, fid, isDir)
	dest := fmt.Sprintf("/uid:%d/%s/%s/%s", uid, dateComponents(time.Now()), idx, name)
	if err := b.Store.Rename(originalPath, dest); err != nil {
		return cmn.WrapErr(cmn.KindTransient, err, "recycle: move to garbage")
	}
	return nil
}

func dateComponents(t time.Time) string {
	return fmt.Sprintf("%04d/%02d/%02d", t.Year(), int(t.Month()), t.Day())
}

// RestoreOpts controls restore's collision and version-following behavior.
type RestoreOpts struct {
	ForceOriginalName bool
	RestoreVersions   bool
}

// Restore resolves key ("fxid:<hex>" / "pxid:<hex>"), reconstructs the
// original path, and renames the recycle entry back into place.
func (b *Bin) Restore(key string, callerUid int64, recyclePath string, opts RestoreOpts) error {
	parsed, ok := procfmt.ParseRestoreKey(key)
	if !ok {
		return cmn.ErrInvalidArg("recycle: malformed key %q", key)
	}

	owner, ok := b.Store.OwnerOf(recyclePath)
	if !ok {
		return cmn.ErrNotFound("recycle: entry for key %q", key)
	}
	if owner != callerUid {
		return cmn.ErrPermissionDenied("recycle: %q is not owned by caller", key)
	}

	origPath, fid, isDir, ok := procfmt.DecodeRecycleName(lastComponent(recyclePath))
	if !ok || fid != parsed.Fid || isDir != parsed.IsDir {
		return cmn.ErrInvalidArg("recycle: could not decode entry name for key %q", key)
	}

	parentDir := parentOf(origPath)
	if !b.Store.Exists(parentDir) {
		return cmn.ErrNotFound("recycle: original parent %q no longer exists", parentDir)
	}

	target := origPath
	if b.Store.Exists(target) {
		if !opts.ForceOriginalName {
			return cmn.ErrConflict("recycle: %q already exists", target)
		}
		versioned := procfmt.VersionedName(target, fid)
		if err := b.Store.Rename(target, versioned); err != nil {
			return cmn.WrapErr(cmn.KindTransient, err, "recycle: rename occupant aside")
		}
	}

	if err := b.Store.Rename(recyclePath, target); err != nil {
		return cmn.WrapErr(cmn.KindTransient, err, "recycle: restore rename")
	}

	if opts.RestoreVersions {
		versionKey := recyclePath + ".version"
		if b.Store.Exists(versionKey) {
			if err := b.Store.Rename(versionKey, target+".version"); err != nil {
				if !cmn.IsKind(err, cmn.KindNotFound) {
					glog.Warningf("recycle: version restore for %s: %v", key, err)
				}
			}
		}
	}
	return nil
}

func lastComponent(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func parentOf(p string) string {
	last := -1
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			last = i
			break
		}
	}
	if last <= 0 {
		return "/"
	}
	return p[:last]
}

// PurgeCounts reports how many entries a Purge removed.
type PurgeCounts struct {
	BulkRemoved       int
	IndividualRemoved int
}

// Purge removes every top-level entry under /recycle/uid:<uid>/<date>/
// for each requested uid.
func (b *Bin) Purge(uids []int64, date time.Time, callerIsAdmin bool, callerUid int64) (PurgeCounts, error) {
	var counts PurgeCounts
	for _, uid := range uids {
		if uid != callerUid && !callerIsAdmin {
			return counts, cmn.ErrPermissionDenied("recycle: purge of uid %d requires admin", uid)
		}
	}

	entries, err := b.Store.Enumerate()
	if err != nil {
		return counts, err
	}
	wantPrefix := func(uid int64) string { return fmt.Sprintf("/uid:%d/%s/", uid, dateComponents(date)) }

	for _, uid := range uids {
		prefix := wantPrefix(uid)
		for _, e := range entries {
			if !hasPrefix(e.Path, prefix) {
				continue
			}
			if e.IsDir {
				if err := b.Store.RemoveRecursive(e.Path); err != nil {
					continue
				}
				counts.BulkRemoved++
			} else {
				if err := b.Store.Remove(e.Path); err != nil {
					continue
				}
				counts.IndividualRemoved++
			}
		}
	}
	return counts, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
