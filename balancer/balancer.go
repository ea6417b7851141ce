// Package balancer implements GroupBalancer: one instance per space,
// picking random over-/under-average scheduling groups and scheduling a
// conversion to move a file between them, per 4.F.
package balancer

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/ceresfs/mgm/cluster"
	"github.com/ceresfs/mgm/cmn"
)

// Dropbox is the converter proc-dropbox seam: Create installs a
// zero-length scheduling entry, Exists checks whether the Converter has
// already consumed (and thus deleted) it.
type Dropbox interface {
	Create(entry string) error
	Exists(entry string) bool
}

// FileSource supplies a random file id currently resident on fsid along
// with its size, used for the speculative group-size update.
type FileSource interface {
	RandomFileOnTarget(fsid int64) (fid uint64, size int64, ok bool)
}

type groupSize struct {
	used, capacity int64
	at             time.Time
}

func (g groupSize) fill() float64 {
	if g.capacity == 0 {
		return 0
	}
	return float64(g.used) / float64(g.capacity)
}

// Balancer runs one space's periodic balancing tick.
type Balancer struct {
	Fs    *cluster.FsView
	Space string
	Box   Dropbox
	Files FileSource

	mu       sync.Mutex
	cache    map[string]groupSize
	inFlight map[string]string // fid-hex -> dropbox entry name
	rng      *rand.Rand
}

func New(fs *cluster.FsView, space string, box Dropbox, files FileSource) *Balancer {
	return &Balancer{
		Fs: fs, Space: space, Box: box, Files: files,
		cache:    make(map[string]groupSize),
		inFlight: make(map[string]string),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Tick runs a single iteration: refresh stale cache entries, reconcile
// in-flight bookkeeping against the dropbox, then schedule up to ntx new
// conversions.
func (b *Balancer) Tick() {
	cfg := cmn.GCO.Get().Balancer
	if !cfg.Enabled {
		return
	}
	convCfg := cmn.GCO.Get().Converter
	if !convCfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.reconcileInFlightLocked()
	b.refreshCacheLocked(cfg.CacheTTL.D())

	avg := b.averageFillLocked()
	over, under := b.classifyLocked(avg, cfg.ThresholdPct/100.0)

	outstanding := len(b.inFlight)
	for outstanding < cfg.Ntx && len(over) > 0 && len(under) > 0 {
		srcGroup := over[b.rng.Intn(len(over))]
		dstGroup := under[b.rng.Intn(len(under))]

		targets := b.Fs.ByGroup(srcGroup)
		online := filterOnline(targets)
		if len(online) == 0 {
			break
		}
		src := online[b.rng.Intn(len(online))]

		fid, size, ok := b.Files.RandomFileOnTarget(src.Fsid)
		if !ok {
			break
		}
		key := fmt.Sprintf("%x", fid)
		if _, scheduled := b.inFlight[key]; scheduled {
			// the pick landed on a file already in flight: skip it and end
			// this tick, so a source holding a single file cannot spin.
			break
		}

		entry := fmt.Sprintf("%x:%s#%d", fid, dstGroup, 0)
		if err := b.Box.Create(entry); err != nil {
			glog.Errorf("balancer: failed to schedule %s: %v", entry, err)
			break
		}
		b.inFlight[key] = entry
		b.applySpeculative(srcGroup, dstGroup, size)
		outstanding++
	}
}

// ClearScheduledToBalance drops fid's in-flight bookkeeping early, on a
// successful replication commit, so a balancer tick that hasn't yet
// reconciled against the dropbox doesn't keep treating fid as scheduled.
// Satisfies commit.ScheduleSets.
func (b *Balancer) ClearScheduledToBalance(fid uint64) {
	key := fmt.Sprintf("%x", fid)
	b.mu.Lock()
	delete(b.inFlight, key)
	b.mu.Unlock()
}

func (b *Balancer) reconcileInFlightLocked() {
	for key, entry := range b.inFlight {
		if b.Box != nil && !b.Box.Exists(entry) {
			delete(b.inFlight, key)
		}
	}
}

func (b *Balancer) refreshCacheLocked(ttl time.Duration) {
	now := time.Now()
	spaces := b.Fs.BySpace(b.Space)
	groups := make(map[string][2]int64) // group -> [used, capacity]
	for _, t := range spaces {
		g := groups[t.Group]
		g[0] += t.UsedBytes
		g[1] += t.CapacityBytes
		groups[t.Group] = g
	}
	for name, sizes := range groups {
		cur, ok := b.cache[name]
		if ok && now.Sub(cur.at) < ttl {
			continue
		}
		b.cache[name] = groupSize{used: sizes[0], capacity: sizes[1], at: now}
	}
}

func (b *Balancer) averageFillLocked() float64 {
	if len(b.cache) == 0 {
		return 0
	}
	var sum float64
	for _, g := range b.cache {
		sum += g.fill()
	}
	return sum / float64(len(b.cache))
}

func (b *Balancer) classifyLocked(avg, threshold float64) (over, under []string) {
	for name, g := range b.cache {
		diff := g.fill() - avg
		if diff > threshold {
			over = append(over, name)
		} else if diff < -threshold {
			under = append(under, name)
		}
	}
	return
}

// applySpeculative updates the cached group sizes immediately on
// scheduling (not on completion), per GroupBalancer.cc's bookkeeping — it
// stops a second tick from double-scheduling the same swap before the
// converter has actually run.
func (b *Balancer) applySpeculative(src, dst string, size int64) {
	if g, ok := b.cache[src]; ok {
		g.used -= size
		b.cache[src] = g
	}
	if g, ok := b.cache[dst]; ok {
		g.used += size
		b.cache[dst] = g
	}
}

func filterOnline(targets []*cluster.Target) []*cluster.Target {
	out := make([]*cluster.Target, 0, len(targets))
	for _, t := range targets {
		if t.Active == cluster.ActiveOnline {
			out = append(out, t)
		}
	}
	return out
}
