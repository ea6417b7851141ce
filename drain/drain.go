// Package drain implements DrainEngine: one state machine per draining
// target, per 4.E.
package drain

import (
	"context"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/ceresfs/mgm/cluster"
	"github.com/ceresfs/mgm/cmn"
)

// State is the drain state machine's node set.
type State int

const (
	StateNoDrain State = iota
	StateDrainPrepare
	StateDrainWait
	StateDraining
	StateDrainStalling
	StateDrained
	StateDrainExpired
)

func (s State) String() string {
	switch s {
	case StateNoDrain:
		return "kNoDrain"
	case StateDrainPrepare:
		return "kDrainPrepare"
	case StateDrainWait:
		return "kDrainWait"
	case StateDraining:
		return "kDraining"
	case StateDrainStalling:
		return "kDrainStalling"
	case StateDrained:
		return "kDrained"
	case StateDrainExpired:
		return "kDrainExpired"
	default:
		return "kUnknown"
	}
}

// FileCounter reports how many files and open writers currently sit on a
// target; the real implementation reads the namespace's FileSystemView.
type FileCounter interface {
	FilesOnTarget(fsid int64) int
	OpenWriters(fsid int64) int
}

// Engine drives one target's drain state machine.
type Engine struct {
	Fs       *cluster.FsView
	Files    FileCounter
	Booted   func() bool
	Fsid     int64

	// ServiceDelay overrides the config-derived service delay when set;
	// the design's 60s floor only applies to the config-derived value.
	ServiceDelay time.Duration

	state              State
	drainStart         time.Time
	lastFilesLeft      int
	lastChange         time.Time
	retry              int
	shuttingDown       func() bool
}

func New(fs *cluster.FsView, files FileCounter, fsid int64, booted func() bool, shuttingDown func() bool) *Engine {
	return &Engine{Fs: fs, Files: files, Fsid: fsid, Booted: booted, shuttingDown: shuttingDown, state: StateNoDrain}
}

func (e *Engine) State() State { return e.state }

// Run drives the state machine to completion (kDrained or kDrainExpired,
// or an early return if the target disappears mid-drain), cooperatively
// cancellable at ~100ms granularity.
func (e *Engine) Run(ctx context.Context) {
	cfg := cmn.GCO.Get()

	if !e.stillExists() {
		return
	}

	e.resetCounters()
	e.state = StateDrainPrepare

	serviceDelay := e.ServiceDelay
	if serviceDelay == 0 {
		serviceDelay = cfg.Drain.ServiceDelay.D()
		if serviceDelay < 60*time.Second {
			serviceDelay = 60 * time.Second
		}
	}
	if !e.sleepTicking(ctx, serviceDelay) {
		return
	}

	e.state = StateDrainWait
	for !e.bootDone() {
		if !e.sleepTicking(ctx, 100*time.Millisecond) {
			return
		}
		if !e.stillExists() {
			return
		}
	}

	totalFiles := e.Files.FilesOnTarget(e.Fsid)
	openWriters := e.Files.OpenWriters(e.Fsid)
	if totalFiles == 0 && openWriters == 0 {
		e.finishDrained()
		return
	}

	e.enableDrainerPull(cfg)
	e.drainStart = time.Now()
	e.lastFilesLeft = totalFiles
	e.lastChange = time.Now()

	maxTry := cfg.Drain.MaxTry
	if maxTry == 0 {
		maxTry = 1
	}
	drainPeriod := e.drainPeriod(cfg)
	stallThreshold := cfg.Drain.StallThreshold.D()
	if stallThreshold == 0 {
		stallThreshold = 600 * time.Second
	}

	e.state = StateDraining
	for {
		if !e.sleepTicking(ctx, 100*time.Millisecond) {
			return
		}
		if !e.stillExists() {
			return
		}

		filesLeft := e.Files.FilesOnTarget(e.Fsid)
		now := time.Now()
		if filesLeft != e.lastFilesLeft {
			e.lastFilesLeft = filesLeft
			e.lastChange = now
			if e.state == StateDrainStalling {
				e.state = StateDraining
			}
		} else if now.Sub(e.lastChange) >= stallThreshold {
			e.state = StateDrainStalling
		}

		e.updateProgress(totalFiles, filesLeft, drainPeriod)

		if filesLeft == 0 {
			e.finishDrained()
			return
		}

		if now.Sub(e.drainStart) >= drainPeriod {
			e.retry++
			if e.retry >= maxTry {
				e.state = StateDrainExpired
				e.disableDrainerPull()
				glog.Warningf("drain fsid=%d expired after %d tries", e.Fsid, e.retry)
				return
			}
			e.drainStart = time.Now()
		}
	}
}

func (e *Engine) stillExists() bool { return e.Fs.Get(e.Fsid) != nil }
func (e *Engine) bootDone() bool {
	if e.Booted == nil {
		return true
	}
	return e.Booted()
}

func (e *Engine) resetCounters() {
	_ = e.Fs.SetTargetKey(e.Fsid, "stat.drainbytesleft", "0")
	_ = e.Fs.SetTargetKey(e.Fsid, "stat.drainfiles", "0")
	_ = e.Fs.SetTargetKey(e.Fsid, "stat.timeleft", "0")
	_ = e.Fs.SetTargetKey(e.Fsid, "stat.drainretry", "0")
	_ = e.Fs.SetTargetKey(e.Fsid, "stat.drainprogress", "0")
}

func (e *Engine) drainPeriod(cfg *cmn.Config) time.Duration {
	if v, ok := e.Fs.GetTargetKey(e.Fsid, "drainperiod"); ok {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return cfg.Drain.ServiceDelay.D() * 5
}

func (e *Engine) enableDrainerPull(cfg *cmn.Config) {
	t := e.Fs.Get(e.Fsid)
	if t == nil {
		return
	}
	for _, peer := range e.Fs.ByGroup(t.Group) {
		if peer.Fsid == e.Fsid {
			continue
		}
		_ = e.Fs.SetTargetKey(peer.Fsid, "stat.drainer", "on")
		_ = e.Fs.SetTargetKey(peer.Fsid, "drainer.node.ntx", "1")
	}
}

func (e *Engine) disableDrainerPull() {
	t := e.Fs.Get(e.Fsid)
	if t == nil {
		return
	}
	for _, peer := range e.Fs.ByGroup(t.Group) {
		_ = e.Fs.SetTargetKey(peer.Fsid, "stat.drainer", "off")
	}
}

func (e *Engine) updateProgress(total, left int, period time.Duration) {
	progress := 1.0
	if total > 0 {
		progress = 1.0 - float64(left)/float64(total)
	}
	_ = e.Fs.SetTargetKey(e.Fsid, "stat.drainfiles", itoa(left))
	_ = e.Fs.SetTargetKey(e.Fsid, "stat.drainprogress", ftoa(progress))
	_ = e.Fs.SetTargetKey(e.Fsid, "stat.drainretry", itoa(e.retry))
	remaining := period - time.Since(e.drainStart)
	if remaining < 0 {
		remaining = 0
	}
	_ = e.Fs.SetTargetKey(e.Fsid, "stat.timeleft", itoa(int(remaining.Seconds())))
}

func (e *Engine) finishDrained() {
	e.state = StateDrained
	e.resetCounters()
	e.disableDrainerPull()
	if e.shuttingDown != nil && e.shuttingDown() {
		return
	}
	t := e.Fs.Get(e.Fsid)
	if t != nil {
		t.Empty = true
	}
}

func (e *Engine) sleepTicking(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func itoa(v int) string { return strconv.Itoa(v) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 4, 64) }
