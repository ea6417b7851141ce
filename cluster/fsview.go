// Package cluster provides the FsView registry: every storage target
// indexed by fsid, by node, by scheduling group, and by space, plus the
// per-target status/config/counter snapshot used by every background
// engine in this module.
package cluster

import (
	"sync"

	"github.com/ceresfs/mgm/cmn"
	"github.com/ceresfs/mgm/cmn/debug"
)

// TargetFlags mirrors the teacher's SnodeFlags bitmask idiom: a target can
// carry any combination of these at once.
type TargetFlags uint64

const (
	FlagGateway TargetFlags = 1 << iota
	FlagMaintenance
	FlagDecommission
)

func (f TargetFlags) Set(flags TargetFlags) TargetFlags   { return f | flags }
func (f TargetFlags) Clear(flags TargetFlags) TargetFlags { return f &^ flags }
func (f TargetFlags) IsSet(flags TargetFlags) bool        { return f&flags == flags }
func (f TargetFlags) IsAnySet(flags TargetFlags) bool     { return f&flags != 0 }

// ConfiguredStatus is the administrative state of a target, ordered so
// that "≥ drain" comparisons in CommitProtocol's schedule-delete hold.
type ConfiguredStatus int

const (
	StatusOffline ConfiguredStatus = iota
	StatusDrain
	StatusOnline
)

func (s ConfiguredStatus) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusDrain:
		return "drain"
	case StatusOnline:
		return "online"
	default:
		return "unknown"
	}
}

type BootStatus int

const (
	BootNotBooted BootStatus = iota
	BootBooting
	BootBooted
)

func (s BootStatus) String() string {
	switch s {
	case BootNotBooted:
		return "notbooted"
	case BootBooting:
		return "booting"
	case BootBooted:
		return "booted"
	default:
		return "unknown"
	}
}

type ActiveStatus int

const (
	ActiveOffline ActiveStatus = iota
	ActiveOnline
)

func (s ActiveStatus) String() string {
	if s == ActiveOnline {
		return "online"
	}
	return "offline"
}

// Counters holds the per-target mutable bookkeeping every background
// engine bumps: drain progress, balancer in-flight state, etc.
type Counters struct {
	DrainBytesLeft int64
	DrainFiles     int64
	DrainTimeLeft  int64
	DrainRetry     int
	DrainProgress  float64
}

// Target is one storage node, reachable through all four FsView indices
// at once (by fsid, by node name, by group, by space) or through none —
// that is the registry's central invariant.
type Target struct {
	Fsid             int64
	Node             string
	Group            string
	Space            string
	Flags            TargetFlags
	Configured       ConfiguredStatus
	Boot             BootStatus
	Active           ActiveStatus
	Empty            bool
	UsedBytes        int64
	CapacityBytes    int64
	Counters         Counters
	perTargetConfig  map[string]string
}

// Snapshot is a consistent, point-in-time copy of a target's status,
// config, and counters, taken under a single lock acquisition.
type Snapshot struct {
	Fsid       int64
	Node       string
	Group      string
	Space      string
	Flags      TargetFlags
	Configured ConfiguredStatus
	Boot       BootStatus
	Active     ActiveStatus
	Empty      bool
	UsedBytes  int64
	Capacity   int64
	Counters   Counters
	Config     map[string]string
}

// ConfigStore is the write-through destination for FsView config
// mutations (StoreFsConfig); an in-memory fake satisfies it for tests,
// the real implementation forwards to the external KV store.
type ConfigStore interface {
	StoreFsConfig(fsid int64, key, value string) error
}

// FsView is the registry described in 4.A: a single reader-writer lock
// guards four indices over the same set of targets.
type FsView struct {
	ViewMutex sync.RWMutex

	byFsid  map[int64]*Target
	byNode  map[string]map[int64]*Target
	byGroup map[string]map[int64]*Target
	bySpace map[string]map[int64]*Target
	gateways map[int64]*Target

	store ConfigStore

	nodeConfig map[string]map[string]string // node-level keys, broadcast to all its targets
}

func NewFsView(store ConfigStore) *FsView {
	return &FsView{
		byFsid:     make(map[int64]*Target),
		byNode:     make(map[string]map[int64]*Target),
		byGroup:    make(map[string]map[int64]*Target),
		bySpace:    make(map[string]map[int64]*Target),
		gateways:   make(map[int64]*Target),
		store:      store,
		nodeConfig: make(map[string]map[string]string),
	}
}

func index(m map[string]map[int64]*Target, key string, t *Target) {
	sub, ok := m[key]
	if !ok {
		sub = make(map[int64]*Target)
		m[key] = sub
	}
	sub[t.Fsid] = t
}

func unindex(m map[string]map[int64]*Target, key string, fsid int64) {
	sub, ok := m[key]
	if !ok {
		return
	}
	delete(sub, fsid)
	if len(sub) == 0 {
		delete(m, key)
	}
}

// AddTarget installs t in all four indices atomically.
func (v *FsView) AddTarget(t *Target) {
	v.ViewMutex.Lock()
	defer v.ViewMutex.Unlock()

	if t.perTargetConfig == nil {
		t.perTargetConfig = make(map[string]string)
	}
	v.byFsid[t.Fsid] = t
	index(v.byNode, t.Node, t)
	index(v.byGroup, t.Group, t)
	index(v.bySpace, t.Space, t)
	if t.Flags.IsSet(FlagGateway) {
		v.gateways[t.Fsid] = t
	}
}

// RemoveTarget drops t from every index; it is a programmer error to call
// this on an fsid whose target only exists in some of the four.
func (v *FsView) RemoveTarget(fsid int64) {
	v.ViewMutex.Lock()
	defer v.ViewMutex.Unlock()
	v.removeTargetLocked(fsid)
}

func (v *FsView) removeTargetLocked(fsid int64) {
	t, ok := v.byFsid[fsid]
	if !ok {
		return
	}
	delete(v.byFsid, fsid)
	unindex(v.byNode, t.Node, fsid)
	unindex(v.byGroup, t.Group, fsid)
	unindex(v.bySpace, t.Space, fsid)
	delete(v.gateways, fsid)
}

// Get returns the target for fsid, or nil. Callers iterating must hold
// the read lock for the duration of the loop, not just this call.
func (v *FsView) Get(fsid int64) *Target {
	v.ViewMutex.RLock()
	defer v.ViewMutex.RUnlock()
	return v.byFsid[fsid]
}

func (v *FsView) ByNode(node string) []*Target {
	v.ViewMutex.RLock()
	defer v.ViewMutex.RUnlock()
	return toSlice(v.byNode[node])
}

func (v *FsView) ByGroup(group string) []*Target {
	v.ViewMutex.RLock()
	defer v.ViewMutex.RUnlock()
	return toSlice(v.byGroup[group])
}

func (v *FsView) BySpace(space string) []*Target {
	v.ViewMutex.RLock()
	defer v.ViewMutex.RUnlock()
	return toSlice(v.bySpace[space])
}

func (v *FsView) Gateways() []*Target {
	v.ViewMutex.RLock()
	defer v.ViewMutex.RUnlock()
	return toSlice(v.gateways)
}

func toSlice(m map[int64]*Target) []*Target {
	out := make([]*Target, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	return out
}

// Snap takes a consistent copy of t's status/config/counters under one
// lock acquisition.
func (v *FsView) Snap(fsid int64) (Snapshot, bool) {
	v.ViewMutex.RLock()
	defer v.ViewMutex.RUnlock()
	t, ok := v.byFsid[fsid]
	if !ok {
		return Snapshot{}, false
	}
	cfg := make(map[string]string, len(t.perTargetConfig))
	for k, val := range t.perTargetConfig {
		cfg[k] = val
	}
	return Snapshot{
		Fsid: t.Fsid, Node: t.Node, Group: t.Group, Space: t.Space,
		Flags: t.Flags, Configured: t.Configured, Boot: t.Boot,
		Active: t.Active, Empty: t.Empty, UsedBytes: t.UsedBytes,
		Capacity: t.CapacityBytes, Counters: t.Counters, Config: cfg,
	}, true
}

// SetTargetKey sets a per-target config key and writes it through to the
// config store synchronously.
func (v *FsView) SetTargetKey(fsid int64, key, value string) error {
	v.ViewMutex.Lock()
	defer v.ViewMutex.Unlock()
	t, ok := v.byFsid[fsid]
	if !ok {
		return cmn.ErrNotFound("fsid %d", fsid)
	}
	t.perTargetConfig[key] = value
	if v.store != nil {
		if err := v.store.StoreFsConfig(fsid, key, value); err != nil {
			return cmn.WrapErr(cmn.KindTransient, err, "StoreFsConfig fsid=%d key=%s", fsid, key)
		}
	}
	return nil
}

func (v *FsView) GetTargetKey(fsid int64, key string) (string, bool) {
	v.ViewMutex.RLock()
	defer v.ViewMutex.RUnlock()
	t, ok := v.byFsid[fsid]
	if !ok {
		return "", false
	}
	val, ok := t.perTargetConfig[key]
	return val, ok
}

// SetNodeKey broadcasts a node-level key to every target belonging to
// that node.
func (v *FsView) SetNodeKey(node, key, value string) error {
	v.ViewMutex.Lock()
	defer v.ViewMutex.Unlock()
	sub, ok := v.nodeConfig[node]
	if !ok {
		sub = make(map[string]string)
		v.nodeConfig[node] = sub
	}
	sub[key] = value
	for fsid, t := range v.byNode[node] {
		t.perTargetConfig[key] = value
		if v.store != nil {
			if err := v.store.StoreFsConfig(fsid, key, value); err != nil {
				return cmn.WrapErr(cmn.KindTransient, err, "StoreFsConfig node=%s key=%s", node, key)
			}
		}
	}
	return nil
}

// SetGroupKey, SetSpaceKey set a group-/space-level config key.
func (v *FsView) SetGroupKey(group, key, value string) {
	v.ViewMutex.Lock()
	defer v.ViewMutex.Unlock()
	for _, t := range v.byGroup[group] {
		t.perTargetConfig[key] = value
	}
}

func (v *FsView) SetSpaceKey(space, key, value string) {
	v.ViewMutex.Lock()
	defer v.ViewMutex.Unlock()
	for _, t := range v.bySpace[space] {
		t.perTargetConfig[key] = value
	}
}

// CheckInvariant walks all four indices and asserts every target is
// reachable through all of them or none — used by tests and by mgmctl's
// `ns mutex`; under the debug build tag a violation also panics.
func (v *FsView) CheckInvariant() bool {
	v.ViewMutex.RLock()
	defer v.ViewMutex.RUnlock()
	for fsid, t := range v.byFsid {
		if _, ok := v.byNode[t.Node][fsid]; !ok {
			debug.Assertf(false, "fsid %d missing from byNode[%s]", fsid, t.Node)
			return false
		}
		if _, ok := v.byGroup[t.Group][fsid]; !ok {
			debug.Assertf(false, "fsid %d missing from byGroup[%s]", fsid, t.Group)
			return false
		}
		if _, ok := v.bySpace[t.Space][fsid]; !ok {
			debug.Assertf(false, "fsid %d missing from bySpace[%s]", fsid, t.Space)
			return false
		}
	}
	return true
}
