package stats

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// NamedVal64 is one sample posted to a Tracker — the same shape the
// teacher's statsRunner work channel carries (NamedVal64{Name, Value}),
// kept here as the public posting API instead of a private work channel
// since this daemon has no single statsRunner goroutine serializing
// updates (Prometheus collectors are already safe for concurrent use).
type NamedVal64 struct {
	Name  string
	Value int64
}

// Tracker is what every background engine posts samples to; cmd/mgm
// wires a *Registry in, tests wire in a no-op fake.
type Tracker interface {
	Add(name string, val int64)
	AddMany(nv ...NamedVal64)
}

type metric struct {
	kind    Kind
	counter prometheus.Counter
	gauge   prometheus.Gauge
}

// Registry is the process-wide stats tracker: every name in names.go is
// registered once at startup, then posted to by the engines that own it.
// Prometheus names are derived from the dotted name by replacing "."
// with "_" and prefixing "mgm_", e.g. "lru.evict.n" -> "mgm_lru_evict_n".
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*metric
	reg     *prometheus.Registry
}

func NewRegistry() *Registry {
	r := &Registry{metrics: make(map[string]*metric, 64), reg: prometheus.NewRegistry()}
	r.registerCommon()
	return r
}

// Prometheus exposes the underlying registry for promhttp.HandlerFor.
func (r *Registry) Prometheus() *prometheus.Registry { return r.reg }

func promName(name string) string {
	return "mgm_" + strings.ReplaceAll(name, ".", "_")
}

// Reg registers a new tracked name; a second Reg of the same name is a
// no-op (engines call Reg defensively from Init without coordinating).
func (r *Registry) Reg(name string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[name]; ok {
		return
	}
	m := &metric{kind: kind}
	pname := promName(name)
	switch kind {
	case KindGauge:
		m.gauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: pname, Help: name})
		r.reg.MustRegister(m.gauge)
	default:
		m.counter = prometheus.NewCounter(prometheus.CounterOpts{Name: pname, Help: name})
		r.reg.MustRegister(m.counter)
	}
	r.metrics[name] = m
}

func (r *Registry) registerCommon() {
	for _, n := range []string{
		LeaseAcquireCount, LeaseLostCount, CommitOKCount, CommitAbortCount,
		DrainStartCount, DrainDoneCount, DrainFileCount, DrainFailCount,
		BalancerScheduleCount, BalancerFailCount, ConverterScheduleCount,
		ConverterOKCount, ConverterFailCount, LruEvictCount, LruConvertCount,
		RecycleExpireCount, RecycleRestoreCount, RecyclePurgeCount,
		WorkflowDispatchCount, WorkflowOKCount, WorkflowFailCount,
		WorkflowRetryCount, ReqCount, ReqDeniedCount,
	} {
		r.Reg(n, KindCounter)
	}
	for _, n := range []string{
		LeaseAcquireLatency, CommitLatency, ConverterLatency, WorkflowLatency,
		ReqLatency, Uptime,
	} {
		r.Reg(n, KindLatency)
	}
	for _, n := range []string{
		CommitSize, DrainFileSize, BalancerMoveSize, LruEvictSize, RecycleExpireSize,
	} {
		r.Reg(n, KindSize)
	}
	for _, n := range []string{LeaseEpoch, BalancerSkewPct} {
		r.Reg(n, KindGauge)
	}
}

// Add posts one sample by name, panicking-free on an unregistered name
// (falls back to registering it as a counter) so an engine that forgets
// to Reg a one-off name in Init doesn't crash the daemon.
func (r *Registry) Add(name string, val int64) {
	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()
	if !ok {
		r.Reg(name, KindCounter)
		r.mu.RLock()
		m = r.metrics[name]
		r.mu.RUnlock()
	}
	switch m.kind {
	case KindGauge:
		m.gauge.Set(float64(val))
	default:
		if val > 0 {
			m.counter.Add(float64(val))
		}
	}
}

func (r *Registry) AddMany(nv ...NamedVal64) {
	for _, v := range nv {
		r.Add(v.Name, v.Value)
	}
}

// interface guard
var _ Tracker = (*Registry)(nil)
