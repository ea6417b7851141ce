package stats

import "testing"

func TestRegCommonMetricsOnlyOnce(t *testing.T) {
	r := NewRegistry()
	// registerCommon already registered LruEvictCount; a second Reg of
	// the same name must not panic (prometheus.MustRegister would panic
	// on a duplicate collector).
	r.Reg(LruEvictCount, KindCounter)
}

func TestAddAccumulatesCounter(t *testing.T) {
	r := NewRegistry()
	r.Add(LruEvictCount, 3)
	r.Add(LruEvictCount, 4)

	mfs, err := r.Prometheus().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() != promName(LruEvictCount) {
			continue
		}
		found = true
		got := mf.GetMetric()[0].GetCounter().GetValue()
		if got != 7 {
			t.Fatalf("expected accumulated value 7, got %v", got)
		}
	}
	if !found {
		t.Fatalf("metric %s not found in registry", promName(LruEvictCount))
	}
}

func TestAddOnUnregisteredNameAutoRegisters(t *testing.T) {
	r := NewRegistry()
	r.Add("custom.one.n", 1)

	mfs, err := r.Prometheus().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == promName("custom.one.n") {
			return
		}
	}
	t.Fatalf("expected auto-registered metric for custom.one.n")
}

func TestAddManyPostsEachSample(t *testing.T) {
	r := NewRegistry()
	r.AddMany(
		NamedVal64{Name: WorkflowOKCount, Value: 1},
		NamedVal64{Name: WorkflowDispatchCount, Value: 1},
	)

	mfs, _ := r.Prometheus().Gather()
	seen := map[string]float64{}
	for _, mf := range mfs {
		if len(mf.GetMetric()) == 0 {
			continue
		}
		seen[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue()
	}
	if seen[promName(WorkflowOKCount)] != 1 || seen[promName(WorkflowDispatchCount)] != 1 {
		t.Fatalf("got %v", seen)
	}
}

func TestGaugeSetOverwritesRatherThanAccumulates(t *testing.T) {
	r := NewRegistry()
	r.Add(LeaseEpoch, 5)
	r.Add(LeaseEpoch, 9)

	mfs, _ := r.Prometheus().Gather()
	for _, mf := range mfs {
		if mf.GetName() != promName(LeaseEpoch) {
			continue
		}
		got := mf.GetMetric()[0].GetGauge().GetValue()
		if got != 9 {
			t.Fatalf("expected gauge overwritten to 9, got %v", got)
		}
	}
}
