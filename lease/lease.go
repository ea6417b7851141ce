// Package lease implements MasterLease: a supervisor loop that acquires
// or renews a named lease in an external KV store, tracks the current
// holder, and drives master/slave transitions for the rest of the MGM.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"

	"github.com/ceresfs/mgm/access"
	"github.com/ceresfs/mgm/cmn"
)

// KV is the narrow request/response client MasterLease needs from the
// external strongly-consistent store; the same store also backs
// namespace metadata. A real implementation talks to that store over
// whatever RPC it exposes — this package only depends on the interface.
type KV interface {
	// Acquire attempts to take or renew name for holder, with the given
	// ttl. It returns the (possibly unchanged) current holder.
	Acquire(ctx context.Context, name, holder string, ttl time.Duration) (acquired bool, currentHolder string, err error)
	// Release gives up the lease if we hold it.
	Release(ctx context.Context, name, holder string) error
	// Get returns the current holder without attempting to acquire.
	Get(ctx context.Context, name string) (holder string, err error)
}

// Transitions is the set of callbacks the supervisor invokes on a
// master/slave state change; QdbMaster.cc's SlaveToMaster/MasterToSlave.
type Transitions interface {
	SlaveToMaster(ctx context.Context) error
	MasterToSlave(ctx context.Context, newMasterID string) error
}

// Supervisor runs the MasterLease acquire/renew loop described in 4.C.
type Supervisor struct {
	kv       KV
	identity string
	policy   *access.Policy
	trans    Transitions

	isMaster atomic.Bool
	masterID atomic.String

	mu           sync.Mutex
	acquireDelay time.Time // zero means "no back-off in effect"

	bootedFn func() bool
	oneOff   bool

	stopCh chan struct{}
}

func NewSupervisor(kv KV, identity string, policy *access.Policy, trans Transitions, bootedFn func() bool) *Supervisor {
	return &Supervisor{
		kv:       kv,
		identity: identity,
		policy:   policy,
		trans:    trans,
		bootedFn: bootedFn,
		oneOff:   true,
		stopCh:   make(chan struct{}),
	}
}

func (s *Supervisor) IsMaster() bool     { return s.isMaster.Load() }
func (s *Supervisor) MasterID() string   { return s.masterID.Load() }

// SetMasterId points the cached holder elsewhere and arms the
// `2 × leaseTimeout` back-off so this instance doesn't immediately
// reacquire and fight the other candidate, per QdbMaster.cc's
// mAcquireDelay contract.
func (s *Supervisor) SetMasterId(ctx context.Context, newHolder string, leaseTimeout time.Duration) {
	s.mu.Lock()
	s.acquireDelay = time.Now().Add(2 * leaseTimeout)
	s.mu.Unlock()
	s.masterID.Store(newHolder)
	if s.isMaster.Swap(false) {
		_ = s.kv.Release(ctx, s.leaseName(), s.identity)
	}
}

func (s *Supervisor) leaseName() string { return cmn.GCO.Get().Lease.Name }

// Stop requests the supervisor loop to exit; Run returns once the
// current iteration completes.
func (s *Supervisor) Stop() { close(s.stopCh) }

// Run is the supervisor loop. It blocks until Stop is called or ctx is
// done, and should be started in its own goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	var bootStallKey = "*"
	prevStall, hadPrevStall := s.policy.SetStallRule(bootStallKey, access.Rule{
		Value: "100", Comment: "namespace is booting", IsGlobal: true,
	})
	glog.Infof("msg=\"set up booting stall rule\"")

	for !s.bootDone(ctx) {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(time.Second):
			glog.Infof("msg=\"waiting for namespace boot\"")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		oldIsMaster := s.isMaster.Load()
		oldMaster := s.masterID.Load()

		nowMaster := s.acquireLeaseWithDelay(ctx)
		s.isMaster.Store(nowMaster)
		holder, err := s.kv.Get(ctx, s.leaseName())
		if err != nil {
			glog.Errorf("lease get failed: %v", err)
		} else {
			s.masterID.Store(holder)
		}

		glog.Infof("old_is_master=%v, is_master=%v, old_master_id=%s, master_id=%s",
			oldIsMaster, nowMaster, oldMaster, s.masterID.Load())

		if s.oneOff {
			s.oneOff = false
			s.transition(ctx, nowMaster)
			if hadPrevStall {
				s.policy.SetStallRule(bootStallKey, prevStall)
			} else {
				s.policy.ClearStallRule(bootStallKey)
			}
			glog.Infof("msg=\"remove booting stall rule\"")
		} else if oldIsMaster != nowMaster {
			s.transition(ctx, nowMaster)
		} else {
			newMasterID := s.masterID.Load()
			if !nowMaster && newMasterID == s.identity {
				newMasterID = ""
				s.masterID.Store("")
			}
			if oldMaster != newMasterID {
				if err := s.trans.MasterToSlave(ctx, newMasterID); err != nil {
					glog.Errorf("MasterToSlave rule update failed: %v", err)
				}
			}
		}

		if s.masterID.Load() != "" {
			leaseTimeout := cmn.GCO.Get().Lease.Timeout.D()
			select {
			case <-time.After(leaseTimeout / 2):
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}
}

func (s *Supervisor) bootDone(ctx context.Context) bool {
	if s.bootedFn == nil {
		return true
	}
	return s.bootedFn()
}

func (s *Supervisor) transition(ctx context.Context, nowMaster bool) {
	var err error
	if nowMaster {
		err = s.trans.SlaveToMaster(ctx)
	} else {
		err = s.trans.MasterToSlave(ctx, s.masterID.Load())
	}
	if err != nil {
		glog.Errorf("lease transition failed: %v", err)
	}
}

// acquireLeaseWithDelay is QdbMaster.cc's AcquireLeaseWithDelay: honor
// the back-off window armed by SetMasterId before attempting to
// reacquire.
func (s *Supervisor) acquireLeaseWithDelay(ctx context.Context) bool {
	s.mu.Lock()
	delay := s.acquireDelay
	if !delay.IsZero() {
		if time.Now().Before(delay) {
			s.mu.Unlock()
			return false
		}
		s.acquireDelay = time.Time{}
	}
	s.mu.Unlock()

	leaseTimeout := cmn.GCO.Get().Lease.Timeout.D()
	acquired, _, err := s.kv.Acquire(ctx, s.leaseName(), s.identity, leaseTimeout)
	if err != nil {
		glog.Errorf("lease acquire failed: %v", err)
		return false
	}
	return acquired
}
