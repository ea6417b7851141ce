// Command mgm is the MGM control-plane daemon: it boots the process-wide
// singletons (AccessPolicy, FsView, MasterLease supervisor) and runs
// every background engine (DrainEngine per draining target,
// GroupBalancer/Converter/LRUEngine/RecycleBin/WorkflowEngine per
// space) behind a Prometheus metrics endpoint, the same rungroup
// lifecycle the teacher's aisnode daemon uses, adapted from Stop(err)
// signaling to context cancellation since every engine here already
// takes a context.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ceresfs/mgm/access"
	"github.com/ceresfs/mgm/balancer"
	"github.com/ceresfs/mgm/capability"
	"github.com/ceresfs/mgm/cluster"
	"github.com/ceresfs/mgm/cmn"
	"github.com/ceresfs/mgm/cmn/jsp"
	"github.com/ceresfs/mgm/commit"
	"github.com/ceresfs/mgm/converter"
	"github.com/ceresfs/mgm/internal/devstore"
	"github.com/ceresfs/mgm/lease"
	"github.com/ceresfs/mgm/lru"
	"github.com/ceresfs/mgm/namespace"
	"github.com/ceresfs/mgm/recycle"
	"github.com/ceresfs/mgm/stats"
	"github.com/ceresfs/mgm/workflow"
)

const usecli = `
   Usage:
        mgm -config=</path/to/config.json> -space=<name> -node=<name> ...`

type cliFlags struct {
	configPath string
	space      string
	node       string
	listenAddr string
	tokenTTL   time.Duration
	usage      bool
}

var cli cliFlags

func init() {
	flag.StringVar(&cli.configPath, "config", "", "config filename: JSON-encoded cmn.Config")
	flag.StringVar(&cli.space, "space", "default", "the single scheduling space this process manages")
	flag.StringVar(&cli.node, "node", "", "this daemon's node name, used as the lease identity")
	flag.StringVar(&cli.listenAddr, "listen", ":9190", "address the metrics/health endpoint listens on")
	flag.DurationVar(&cli.tokenTTL, "capability_ttl", time.Hour, "capability token lifetime")
	flag.BoolVar(&cli.usage, "h", false, "show usage and exit")
}

func loadConfig(path string) (*cmn.Config, error) {
	cfg := cmn.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := jsp.Load(path, cfg, jsp.Options{}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// rungroup runs a named set of context-driven background loops, the
// same named-runner shape as the teacher's rungroup except Stop()
// cancels a shared context instead of calling each runner's own
// Stop(err) — every engine here already takes a context, so there is
// no per-runner error to fan in, only a joint wait for every goroutine
// to notice cancellation and return.
type rungroup struct {
	mu    sync.Mutex
	names []string
	fns   []func(ctx context.Context)
}

func (g *rungroup) add(name string, fn func(ctx context.Context)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.names = append(g.names, name)
	g.fns = append(g.fns, fn)
}

func (g *rungroup) run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range g.fns {
		name, fn := g.names[i], g.fns[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			glog.Infof("runner [%s] exited", name)
		}()
	}
	wg.Wait()
}

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	flag.Parse()
	if cli.usage {
		flag.Usage()
		cmn.Exitf(usecli)
	}
	if cli.node == "" {
		cmn.ExitLogf("missing -node: this daemon needs a stable identity for lease acquisition")
	}

	config, err := loadConfig(cli.configPath)
	if err != nil {
		cmn.ExitLogf("failed to load config %q: %v", cli.configPath, err)
	}
	cmn.GCO.Put(config)

	glog.Infof("mgm starting: node=%s space=%s config=%q", cli.node, cli.space, cli.configPath)

	d := newDeployment(cli.space, cli.node, cli.tokenTTL)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		glog.Infof("received signal %v, shutting down", sig)
		cancel()
	}()

	go d.serveMetrics(cli.listenAddr)

	d.rg.run(ctx)
	return 0
}

// deployment wires every control-plane singleton and background engine
// against devstore's in-memory stand-ins for the storage seams this
// module's packages declare out of scope.
type deployment struct {
	policy  *access.Policy
	fs      *cluster.FsView
	view    *namespace.MemView
	kv      *devstore.Lease
	leaseSv *lease.Supervisor
	issuer  *capability.Issuer
	balancer *balancer.Balancer
	converter *converter.Converter
	lruEngine *lru.Engine
	recycleBin *recycle.Bin
	wfEngine  *workflow.Engine
	commitProto *commit.Protocol
	registry  *stats.Registry
	statsRunner *stats.Runner

	booted bool
	mu     sync.Mutex

	rg *rungroup
}

// scheduleAdapter satisfies commit.ScheduleSets by forwarding the
// balancer half to the real in-flight map and treating the drain half
// as a no-op: DrainEngine's state machine is per-target, not per-file,
// so it has no per-fid bookkeeping for a commit to clear early (a
// drained fid simply stops counting toward FilesOnTarget on its own).
type scheduleAdapter struct {
	bal *balancer.Balancer
}

func (s scheduleAdapter) ClearScheduledToDrain(fid uint64)   {}
func (s scheduleAdapter) ClearScheduledToBalance(fid uint64) { s.bal.ClearScheduledToBalance(fid) }

var _ commit.ScheduleSets = scheduleAdapter{}

func newDeployment(space, node string, tokenTTL time.Duration) *deployment {
	d := &deployment{rg: &rungroup{}}

	d.policy = access.New()
	cfg := cmn.GCO.Get()
	d.policy.ApplyAccessConfig(cfg.Access)

	d.fs = cluster.NewFsView(devstore.NewConfigStore())
	d.view = namespace.NewMemView()
	d.kv = devstore.NewLease()

	d.registry = stats.NewRegistry()
	d.statsRunner = stats.NewRunner(d.registry)

	box := devstore.NewDropbox()
	fileCtx := devstore.FileContext{View: d.view}

	d.balancer = balancer.New(d.fs, space, box, devstore.NewFileSource(d.view))
	d.converter = converter.New(space, box, d.view, devstore.Copier{}, devstore.FidResolver{View: d.view})

	d.lruEngine = lru.New(space, devstore.NewWalker(), box)
	d.recycleBin = recycle.New(devstore.NewRecycleStore())

	dispatch := &workflow.MethodDispatcher{
		Files:         fileCtx,
		Mail:          devstore.Mailer{},
		Bash:          devstore.BashRunner{},
		Notify:        devstore.Notifier{},
		Proto:         devstore.ProtoTransport{},
		ProtoEndpoint: cfg.Workflow.ProtoEndpoint,
		ProtoResource: cfg.Workflow.ProtoResource,
	}
	d.wfEngine = workflow.New(devstore.NewWorkflowStore(), dispatch, nil)
	d.wfEngine.Booted = func() bool { return d.Booted() }
	d.wfEngine.IsMaster = func() bool { return d.leaseSv.IsMaster() }

	d.commitProto = &commit.Protocol{Fs: d.fs, View: d.view, Schedule: scheduleAdapter{bal: d.balancer}}

	secret := []byte(node + "-capability-secret")
	d.issuer = capability.NewIssuer(secret, tokenTTL)

	d.leaseSv = lease.NewSupervisor(d.kv, node, d.policy, d, func() bool { return d.Booted() })

	d.mu.Lock()
	d.booted = true
	d.mu.Unlock()

	d.rg.add("lease", d.leaseSv.Run)
	d.rg.add("lru", d.lruEngine.Run)
	d.rg.add("recycle", d.recycleBin.Run)
	d.rg.add("workflow", d.wfEngine.Run)
	d.rg.add("balancer-tick", d.runBalancerTicks)
	d.rg.add("converter-tick", d.runConverterTicks)
	d.rg.add("stats", d.statsRunner.Run)

	return d
}

func (d *deployment) Booted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.booted && d.view.Booted()
}

// SlaveToMaster and MasterToSlave implement lease.Transitions: the
// control-plane engines this process runs are single-instance, so
// there is nothing extra to start or stop on an election change beyond
// what ResetJobs already handles for the converter and MoveFromRBackToQ
// handles for jobs a crashed prior master left stuck mid-dispatch.
func (d *deployment) SlaveToMaster(ctx context.Context) error {
	glog.Infof("mgm: now master")
	if err := d.converter.ResetJobs(); err != nil {
		return err
	}
	return d.wfEngine.MoveFromRBackToQ()
}

func (d *deployment) MasterToSlave(ctx context.Context, newMasterID string) error {
	glog.Infof("mgm: now slave, master=%s", newMasterID)
	return nil
}

func (d *deployment) runBalancerTicks(ctx context.Context) {
	interval := cmn.GCO.Get().Balancer.CacheTTL.D()
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.balancer.Tick()
		}
	}
}

func (d *deployment) runConverterTicks(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.converter.Tick(ctx)
		}
	}
}

func (d *deployment) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry.Prometheus(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Booted() {
			fmt.Fprintln(w, "ok")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "booting")
	})
	glog.Infof("mgm: metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		glog.Errorf("mgm: metrics server exited: %v", err)
	}
}
