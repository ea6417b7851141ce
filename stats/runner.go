package stats

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/ceresfs/mgm/cmn"
)

// Runner drives the periodic stats log line, the same cadence the
// teacher's Trunner/Prunner log on (cfg.Periodic.StatsTime), except it
// prints a flat counter snapshot rather than a StatsD-formatted JSON
// tracker line, since there's no statsd.Client wired into this module.
type Runner struct {
	Reg     *Registry
	start   time.Time
}

func NewRunner(reg *Registry) *Runner {
	return &Runner{Reg: reg, start: time.Now()}
}

// Run loops logging a stats summary every cfg.Periodic.StatsTime until
// ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	interval := cmn.GCO.Get().Periodic.StatsTime.D()
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reg.Add(Uptime, int64(time.Since(r.start)))
			r.log()
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) log() {
	mfs, err := r.Reg.Prometheus().Gather()
	if err != nil {
		glog.Errorf("stats: gather: %v", err)
		return
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			var v float64
			if c := m.GetCounter(); c != nil {
				v = c.GetValue()
			} else if g := m.GetGauge(); g != nil {
				v = g.GetValue()
			}
			if v == 0 {
				continue
			}
			glog.Infof("%s: %v", mf.GetName(), v)
		}
	}
}
