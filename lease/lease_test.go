package lease

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ceresfs/mgm/access"
)

type fakeKV struct {
	mu     sync.Mutex
	holder string
}

func (k *fakeKV) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.holder == "" || k.holder == holder {
		k.holder = holder
		return true, holder, nil
	}
	return false, k.holder, nil
}

func (k *fakeKV) Release(ctx context.Context, name, holder string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.holder == holder {
		k.holder = ""
	}
	return nil
}

func (k *fakeKV) Get(ctx context.Context, name string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.holder, nil
}

type recordingTransitions struct {
	mu              sync.Mutex
	slaveToMaster   int
	masterToSlave   int
	lastNewMasterID string
}

func (r *recordingTransitions) SlaveToMaster(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slaveToMaster++
	return nil
}

func (r *recordingTransitions) MasterToSlave(ctx context.Context, newMasterID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.masterToSlave++
	r.lastNewMasterID = newMasterID
	return nil
}

func TestAcquireLeaseBecomesMaster(t *testing.T) {
	kv := &fakeKV{}
	trans := &recordingTransitions{}
	policy := access.New()
	sup := NewSupervisor(kv, "node-a", policy, trans, func() bool { return true })

	if !sup.acquireLeaseWithDelay(context.Background()) {
		t.Fatal("expected lease acquired")
	}
	if kv.holder != "node-a" {
		t.Fatalf("expected kv holder node-a, got %q", kv.holder)
	}
}

func TestSetMasterIdArmsBackoff(t *testing.T) {
	kv := &fakeKV{holder: "node-a"}
	trans := &recordingTransitions{}
	policy := access.New()
	sup := NewSupervisor(kv, "node-a", policy, trans, func() bool { return true })
	sup.isMaster.Store(true)

	sup.SetMasterId(context.Background(), "node-b", 10*time.Second)

	if sup.acquireLeaseWithDelay(context.Background()) {
		t.Fatal("expected back-off to block reacquire immediately after SetMasterId")
	}
	if sup.IsMaster() {
		t.Fatal("expected isMaster cleared")
	}
}

func TestStallRuleInstalledDuringBoot(t *testing.T) {
	kv := &fakeKV{}
	trans := &recordingTransitions{}
	policy := access.New()
	booted := false
	sup := NewSupervisor(kv, "node-a", policy, trans, func() bool { return booted })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if !policy.StallGlobal() {
		t.Fatal("expected global stall rule installed while booting")
	}
	cancel()
	<-done
}
