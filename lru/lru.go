// Package lru implements LRUEngine: a per-space singleton periodic walk
// applying sys.lru.* directory policies, per 4.H.
package lru

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/ceresfs/mgm/cmn"
)

// DirInfo is one directory surfaced by a walk, already carrying its
// sys.lru.* attributes.
type DirInfo struct {
	ID         uint64
	Ctime      time.Time
	ChildCount int
	Attrs      map[string]string
}

// FileInfo is one file within a walked directory.
type FileInfo struct {
	Fid      uint64
	Name     string
	Ctime    time.Time
	Size     int64
	LayoutID int
}

// Walker surfaces the directories and files an LRU pass needs. Real
// walks are the namespace's recursive find, reverse-sorted so that an
// emptied directory's parent is visited in the same pass — out of scope
// for this module's control-plane code to implement against a real
// store (see the glossary's "KV store" entry); only the interface plus
// test fakes exist here.
type Walker interface {
	// WalkReverse returns every directory under space holding any
	// sys.lru.* attribute, deepest-first.
	WalkReverse(space string) ([]DirInfo, error)
	Files(dirID uint64) ([]FileInfo, error)
	RemoveDir(dirID uint64) error
	RemoveFile(fid uint64) error
	QuotaUsage(dirID uint64) (usedBytes, capacityBytes int64, ok bool)
}

// Dropbox is the converter proc-dropbox seam sys.lru.convert.match
// schedules entries into.
type Dropbox interface {
	Create(entry string) error
}

// Engine runs one space's periodic LRU pass.
type Engine struct {
	Space string
	Walk  Walker
	Box   Dropbox
}

func New(space string, walk Walker, box Dropbox) *Engine {
	return &Engine{Space: space, Walk: walk, Box: box}
}

// Run loops ticks until ctx is cancelled, sleeping the configured
// interval between passes broken into 60s wake-ups that re-check
// whether lru has been turned off.
func (e *Engine) Run(ctx context.Context) {
	for {
		cfg := cmn.GCO.Get().LRU
		if cfg.Enabled {
			start := time.Now()
			if err := e.Tick(); err != nil {
				glog.Errorf("lru[%s]: pass failed: %v", e.Space, err)
			}
			elapsed := time.Since(start)
			interval := cfg.Interval.D()
			remaining := interval - elapsed
			if remaining < 0 {
				remaining = 0
			}
			if !e.sleepInChunks(ctx, remaining) {
				return
			}
			continue
		}
		if !e.sleepInChunks(ctx, 60*time.Second) {
			return
		}
	}
}

func (e *Engine) sleepInChunks(ctx context.Context, d time.Duration) bool {
	for d > 0 {
		chunk := d
		if chunk > 60*time.Second {
			chunk = 60 * time.Second
		}
		select {
		case <-time.After(chunk):
			d -= chunk
			if !cmn.GCO.Get().LRU.Enabled {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Tick runs a single full pass over the space.
func (e *Engine) Tick() error {
	dirs, err := e.Walk.WalkReverse(e.Space)
	if err != nil {
		return err
	}

	lruCfg := cmn.GCO.Get().LRU
	ms := 0 * time.Millisecond
	threshold := lruCfg.DirSleepBelowThreshold
	if threshold == 0 {
		threshold = 10_000_000
	}
	if int64(len(dirs)) >= threshold {
		ms = lruCfg.DirSleep.D()
	}

	now := time.Now()
	for _, d := range dirs {
		e.applyExpireEmpty(d, now)
		e.applyExpireMatch(d, now)
		e.applyWatermarks(d)
		e.applyConvertMatch(d, now)
		if ms > 0 {
			time.Sleep(ms)
		}
	}
	return nil
}

func (e *Engine) applyExpireEmpty(d DirInfo, now time.Time) {
	v, ok := d.Attrs["sys.lru.expire.empty"]
	if !ok {
		return
	}
	dur, err := time.ParseDuration(v + "s")
	if err != nil {
		return
	}
	if d.ChildCount == 0 && d.Ctime.Add(dur).Before(now) {
		if err := e.Walk.RemoveDir(d.ID); err != nil {
			glog.Errorf("lru[%s]: remove empty dir %d: %v", e.Space, d.ID, err)
		}
	}
}

type globRule struct {
	pattern string
	dur     time.Duration
}

func parseGlobRules(v string) []globRule {
	var rules []globRule
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.LastIndex(part, ":")
		if idx < 0 {
			continue
		}
		pattern := part[:idx]
		dur, err := time.ParseDuration(part[idx+1:] + "s")
		if err != nil {
			continue
		}
		rules = append(rules, globRule{pattern: pattern, dur: dur})
	}
	return rules
}

func (e *Engine) applyExpireMatch(d DirInfo, now time.Time) {
	v, ok := d.Attrs["sys.lru.expire.match"]
	if !ok {
		return
	}
	rules := parseGlobRules(v)
	if len(rules) == 0 {
		return
	}
	files, err := e.Walk.Files(d.ID)
	if err != nil {
		glog.Errorf("lru[%s]: list files in %d: %v", e.Space, d.ID, err)
		return
	}
	for _, f := range files {
		for _, r := range rules {
			matched, _ := path.Match(r.pattern, f.Name)
			if matched && f.Ctime.Add(r.dur).Before(now) {
				if err := e.Walk.RemoveFile(f.Fid); err != nil {
					glog.Errorf("lru[%s]: remove %x: %v", e.Space, f.Fid, err)
				}
				break
			}
		}
	}
}

func (e *Engine) applyWatermarks(d DirInfo) {
	lowStr, lowOK := d.Attrs["sys.lru.lowwatermark"]
	highStr, highOK := d.Attrs["sys.lru.highwatermark"]
	if !lowOK || !highOK {
		return
	}
	low, err1 := strconv.ParseFloat(lowStr, 64)
	high, err2 := strconv.ParseFloat(highStr, 64)
	if err1 != nil || err2 != nil {
		return
	}

	used, capacity, ok := e.Walk.QuotaUsage(d.ID)
	if !ok || capacity == 0 {
		return
	}
	currentPct := float64(used) / float64(capacity) * 100
	if currentPct < high {
		return
	}

	targetBytes := used - int64((low/100.0)*float64(capacity))
	if targetBytes <= 0 {
		return
	}

	files, err := e.Walk.Files(d.ID)
	if err != nil {
		glog.Errorf("lru[%s]: list files for watermark in %d: %v", e.Space, d.ID, err)
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Ctime.Before(files[j].Ctime) })

	var freed int64
	for _, f := range files {
		if freed >= targetBytes {
			break
		}
		if err := e.Walk.RemoveFile(f.Fid); err != nil {
			glog.Errorf("lru[%s]: watermark evict %x: %v", e.Space, f.Fid, err)
			continue
		}
		freed += f.Size
	}
}

func (e *Engine) applyConvertMatch(d DirInfo, now time.Time) {
	v, ok := d.Attrs["sys.lru.convert.match"]
	if !ok {
		return
	}
	rules := parseGlobRules(v)
	if len(rules) == 0 {
		return
	}
	files, err := e.Walk.Files(d.ID)
	if err != nil {
		return
	}
	for _, f := range files {
		for _, r := range rules {
			matched, _ := path.Match(r.pattern, f.Name)
			if !matched || !f.Ctime.Add(r.dur).Before(now) {
				continue
			}
			attrKey := "sys.conversion." + r.pattern
			targetStr, ok := d.Attrs[attrKey]
			if !ok {
				continue
			}
			target, err := strconv.Atoi(targetStr)
			if err != nil || target == f.LayoutID {
				continue
			}
			entry := fmt.Sprintf("%x:%s#%d", f.Fid, e.Space, target)
			if err := e.Box.Create(entry); err != nil {
				glog.Errorf("lru[%s]: schedule convert %x: %v", e.Space, f.Fid, err)
			}
			break
		}
	}
}
