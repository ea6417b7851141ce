// Package converter implements Converter: one per space, turning
// proc-dropbox scheduling entries into layout-conversion jobs, per 4.G.
package converter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/glog"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/ceresfs/mgm/cmn"
	"github.com/ceresfs/mgm/namespace"
)

// sentinel uid/gid Converter.cc chowns a picked-up entry to, marking it
// scheduled; ResetJobs on (re)election chowns everything back to root.
const (
	SentinelUID = 3
	SentinelGID = 4
	RootUID     = 0
	RootGID     = 0
)

// DropboxEntry is one zero-length file under the converter proc-dropbox.
type DropboxEntry struct {
	Name string
	Uid  int64
	Gid  int64
}

// ProcDropbox is the converter's work queue: entries named
// `<hexfid>:<attribute>`, ownership doubling as the "already scheduled"
// lock (see DESIGN.md).
type ProcDropbox interface {
	List() ([]DropboxEntry, error)
	Chown(name string, uid, gid int64) error
	Remove(name string) error
	Create(entry string) error // satisfies balancer.Dropbox too
	Exists(entry string) bool
}

// Copier performs the third-party-copy between the source replica and
// the proc-target path; the real implementation drives an XRootD TPC
// the way Converter.cc does, out of scope for this module's control
// plane — here it is an injected seam.
type Copier interface {
	Copy(ctx context.Context, srcURL, dstURL string) (checksum string, err error)
}

// Converter runs one space's background conversion loop.
type Converter struct {
	Space string
	Box   ProcDropbox
	View  namespace.View
	Copy  Copier
	Fs    FidResolver

	active atomic.Int32
	mu     sync.Mutex
	sem    *semaphore.Weighted
	cfgNtx int64
}

// FidResolver maps an entry's fid-by-name and attribute to the FileMD
// and its parent container, and resolves a target layout id.
type FidResolver interface {
	FileForEntry(fid uint64) (*namespace.FileMD, bool)
}

func New(space string, box ProcDropbox, view namespace.View, copier Copier, resolver FidResolver) *Converter {
	return &Converter{Space: space, Box: box, View: view, Copy: copier, Fs: resolver}
}

// ActiveJobs returns the current in-flight job count.
func (c *Converter) ActiveJobs() int32 { return c.active.Load() }

// ResetJobs chowns every dropbox entry back to root so they are all
// reconsidered; run once after a (re)election per 4.G step 3.
func (c *Converter) ResetJobs() error {
	entries, err := c.Box.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := c.Box.Chown(e.Name, RootUID, RootGID); err != nil {
			glog.Errorf("converter: ResetJobs chown failed for %s: %v", e.Name, err)
		}
	}
	return nil
}

// Tick runs one pass: list the dropbox, pick up entries owned by root,
// spawn jobs up to ntx concurrency.
func (c *Converter) Tick(ctx context.Context) {
	cfg := cmn.GCO.Get().Converter
	if !cfg.Enabled {
		return
	}

	c.mu.Lock()
	if c.sem == nil || c.cfgNtx != int64(cfg.Ntx) {
		c.cfgNtx = int64(cfg.Ntx)
		c.sem = semaphore.NewWeighted(c.cfgNtx)
	}
	sem := c.sem
	c.mu.Unlock()

	entries, err := c.Box.List()
	if err != nil {
		glog.Errorf("converter: list dropbox failed: %v", err)
		return
	}

	for _, e := range entries {
		fidHex, attr, ok := parseEntry(e.Name)
		if !ok {
			glog.Warningf("converter: invalid entry %q, removing", e.Name)
			_ = c.Box.Remove(e.Name)
			continue
		}
		if e.Uid != RootUID || e.Gid != RootGID {
			continue // already scheduled
		}

		if !sem.TryAcquire(1) {
			break
		}
		if err := c.Box.Chown(e.Name, SentinelUID, SentinelGID); err != nil {
			sem.Release(1)
			glog.Errorf("converter: chown-as-lock failed for %s: %v", e.Name, err)
			continue
		}

		fid, err := strconv.ParseUint(fidHex, 16, 64)
		if err != nil {
			sem.Release(1)
			continue
		}
		entryName := e.Name
		c.active.Add(1)
		go func() {
			defer sem.Release(1)
			defer c.active.Add(-1)
			c.runJob(ctx, entryName, fid, attr)
		}()
	}
}

func parseEntry(name string) (fidHex, attr string, ok bool) {
	idx := strings.Index(name, ":")
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

// runJob is ConverterJob: resolve the file, resolve the target layout,
// "copy" via the injected Copier, verify the checksum hasn't moved, and
// merge the result over the source. On any failure it returns without
// merging; the dropbox entry is removed in every case, and no failure
// counter is incremented.
func (c *Converter) runJob(ctx context.Context, entry string, fid uint64, attr string) {
	defer func() { _ = c.Box.Remove(entry) }()

	f, ok := c.Fs.FileForEntry(fid)
	if !ok {
		glog.Warningf("converter: fid %x vanished before job start", fid)
		return
	}

	targetLayout, ok := c.resolveTargetLayout(f, attr)
	if !ok {
		glog.Warningf("converter: could not resolve target layout for fid %x attr=%s", fid, attr)
		return
	}
	if f.LayoutID == targetLayout {
		return // no-op: already at target layout
	}

	srcURL := fmt.Sprintf("root://localhost/%s?eos.ruid=0&eos.rgid=0&eos.app=converter", f.Name)
	dstURL := fmt.Sprintf("root://localhost/proc/conversion/%x?eos.targetsize=%d&eos.checksum=%s&eos.app=converter&eos.layout.id=%d",
		fid, f.Size, f.Checksum, targetLayout)

	if c.Copy == nil {
		glog.Errorf("converter: no copier configured, failing job for fid %x", fid)
		return
	}
	_, err := c.Copy.Copy(ctx, srcURL, dstURL)
	if err != nil {
		glog.Errorf("converter: copy failed for fid %x: %v", fid, err)
		return
	}

	current, ok := c.Fs.FileForEntry(fid)
	if !ok || current.Checksum != f.Checksum {
		glog.Warningf("converter: checksum changed mid-copy for fid %x, aborting merge", fid)
		return
	}

	if err := c.View.WithFile(fid, func(work *namespace.FileMD) error {
		work.LayoutID = targetLayout
		return nil
	}); err != nil {
		glog.Errorf("converter: merge failed for fid %x: %v", fid, err)
	}
}

func (c *Converter) resolveTargetLayout(f *namespace.FileMD, attr string) (int, bool) {
	// balancer.Balancer schedules entries shaped "<group>#<layoutid>": the
	// layout id is already decided, nothing to look up on the parent.
	if idx := strings.LastIndex(attr, "#"); idx >= 0 {
		n, err := strconv.Atoi(attr[idx+1:])
		return n, err == nil
	}

	parentAttrKey := "sys.conversion." + attr
	if parent, ok := c.parentAttrs(f.ParentID); ok {
		if v, found := parent[parentAttrKey]; found {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	if n, err := strconv.Atoi(attr); err == nil {
		return n, true
	}
	return 0, false
}

func (c *Converter) parentAttrs(parentID uint64) (map[string]string, bool) {
	cont, ok := c.View.GetContainer(parentID)
	if !ok {
		return nil, false
	}
	return cont.Attrs, true
}
