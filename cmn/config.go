package cmn

import (
	"sync"

	"go.uber.org/atomic"
)

// Config is the cluster-wide, versioned configuration document every
// component reads through cmn.GCO. It splits into ClusterConfig (broadcast
// to every MGM instance and persisted) and LocalConfig (per-process,
// read from the environment / a local file and never broadcast),
// the same split the teacher uses for daemon vs. cluster settings.
type Config struct {
	ClusterConfig
	LocalConfig
}

type ClusterConfig struct {
	Lease        MasterLeaseConf   `json:"lease"`
	Access       AccessConf        `json:"access"`
	Drain        DrainConf         `json:"drain"`
	Balancer     GroupBalancerConf `json:"balancer"`
	Converter    ConverterConf     `json:"converter"`
	LRU          LRUConf           `json:"lru"`
	Recycle      RecycleConf       `json:"recycle"`
	Workflow     WorkflowConf      `json:"workflow"`
	Commit       CommitConf        `json:"commit"`
	Periodic     PeriodConf        `json:"periodic"`
	Timeout      TimeoutConf       `json:"timeout"`
	ConfigVersion int64            `json:"config_version"`
}

type LocalConfig struct {
	Log      LogConf `json:"log"`
	NodeName string  `json:"node_name"`
	ConfDir  string  `json:"confdir"`
}

// MasterLeaseConf controls the lease-supervisor cadence — see the
// `2 × leaseTimeout` back-off contract it feeds.
type MasterLeaseConf struct {
	Name         string   `json:"name"`
	Timeout      Duration `json:"timeout"` // fixed at 10s per the design, but kept configurable for tests
}

type MasterLeaseConfToUpdate struct {
	Name    *string `json:"name,omitempty"`
	Timeout *string `json:"timeout,omitempty"`
}

type AccessConf struct {
	BannedUsers    string `json:"banned_users"`    // ':'-separated
	BannedGroups   string `json:"banned_groups"`   // ':'-separated
	BannedHosts    string `json:"banned_hosts"`    // ':'-separated
	BannedDomains  string `json:"banned_domains"`  // ':'-separated
	AllowedUsers   string `json:"allowed_users"`
	AllowedGroups  string `json:"allowed_groups"`
	AllowedHosts   string `json:"allowed_hosts"`
	AllowedDomains string `json:"allowed_domains"`
	StallRules     string `json:"stall_rules"`    // ','-separated key~value~comment records
	RedirectRules  string `json:"redirect_rules"` // same format
}

type AccessConfToUpdate struct {
	BannedUsers    *string `json:"banned_users,omitempty"`
	BannedGroups   *string `json:"banned_groups,omitempty"`
	BannedHosts    *string `json:"banned_hosts,omitempty"`
	BannedDomains  *string `json:"banned_domains,omitempty"`
	AllowedUsers   *string `json:"allowed_users,omitempty"`
	AllowedGroups  *string `json:"allowed_groups,omitempty"`
	AllowedHosts   *string `json:"allowed_hosts,omitempty"`
	AllowedDomains *string `json:"allowed_domains,omitempty"`
	StallRules     *string `json:"stall_rules,omitempty"`
	RedirectRules  *string `json:"redirect_rules,omitempty"`
}

type DrainConf struct {
	ServiceDelay   Duration `json:"service_delay"`   // 60s floor
	StallThreshold Duration `json:"stall_threshold"` // 600s
	MaxTry         int      `json:"max_try"`         // default 1
}

type DrainConfToUpdate struct {
	ServiceDelay   *string `json:"service_delay,omitempty"`
	StallThreshold *string `json:"stall_threshold,omitempty"`
	MaxTry         *int    `json:"max_try,omitempty"`
}

type GroupBalancerConf struct {
	Enabled    bool    `json:"enabled"`
	Ntx        int     `json:"ntx"`
	ThresholdPct float64 `json:"threshold_pct"`
	CacheTTL   Duration `json:"cache_ttl"` // 60s
}

type GroupBalancerConfToUpdate struct {
	Enabled      *bool    `json:"enabled,omitempty"`
	Ntx          *int     `json:"ntx,omitempty"`
	ThresholdPct *float64 `json:"threshold_pct,omitempty"`
	CacheTTL     *string  `json:"cache_ttl,omitempty"`
}

type ConverterConf struct {
	Enabled bool `json:"enabled"`
	Ntx     int  `json:"ntx"`
}

type ConverterConfToUpdate struct {
	Enabled *bool `json:"enabled,omitempty"`
	Ntx     *int  `json:"ntx,omitempty"`
}

type LRUConf struct {
	Enabled      bool     `json:"enabled"`
	Interval     Duration `json:"interval"`
	DirSleepBelowThreshold int64 `json:"dir_sleep_below_threshold"` // 10M dirs
	DirSleep     Duration `json:"dir_sleep"`
}

type LRUConfToUpdate struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Interval *string `json:"interval,omitempty"`
}

type RecycleConf struct {
	KeepTime    Duration `json:"keep_time"`
	KeepRatio   float64  `json:"keep_ratio"` // 0 disables ratio mode
	MinSnooze   Duration `json:"min_snooze"` // 30s
	EntriesCap  int      `json:"entries_cap"` // ~100k per index dir
}

type RecycleConfToUpdate struct {
	KeepTime   *string  `json:"keep_time,omitempty"`
	KeepRatio  *float64 `json:"keep_ratio,omitempty"`
}

type WorkflowConf struct {
	Ntx             int      `json:"ntx"`
	DefaultRetryMax int      `json:"default_retry_max"`   // 25
	DefaultRetryDelay Duration `json:"default_retry_delay"` // 3600s
	FinalRetryDelay Duration `json:"final_retry_delay"`  // 7200s
	KeepDays        int      `json:"keep_days"`          // 7
	CleanupInterval Duration `json:"cleanup_interval"`   // 1h
	ProtoEndpoint   string   `json:"proto_endpoint"`
	ProtoResource   string   `json:"proto_resource"`
}

type WorkflowConfToUpdate struct {
	Ntx             *int    `json:"ntx,omitempty"`
	ProtoEndpoint   *string `json:"proto_endpoint,omitempty"`
	ProtoResource   *string `json:"proto_resource,omitempty"`
}

type CommitConf struct {
	MaxBatchEntries int     `json:"max_batch_entries"` // 1024
	MaxBatchPctOfMsg float64 `json:"max_batch_pct_of_msg"` // 0.75
}

type CommitConfToUpdate struct {
	MaxBatchEntries *int `json:"max_batch_entries,omitempty"`
}

type PeriodConf struct {
	StatsTime Duration `json:"stats_time"`
}

type PeriodConfToUpdate struct {
	StatsTime *string `json:"stats_time,omitempty"`
}

type TimeoutConf struct {
	CplaneOperation Duration `json:"cplane_operation"`
	MaxKeepalive    Duration `json:"max_keepalive"`
}

type TimeoutConfToUpdate struct {
	CplaneOperation *string `json:"cplane_operation,omitempty"`
	MaxKeepalive    *string `json:"max_keepalive,omitempty"`
}

type LogConf struct {
	Dir   string `json:"dir"`
	Level string `json:"level"`
}

// ConfigToUpdate is the union of every section's shadow struct, mirroring
// the teacher's single ConfigToUpdate envelope used for partial PATCH-style
// config updates.
type ConfigToUpdate struct {
	Lease    *MasterLeaseConfToUpdate   `json:"lease,omitempty"`
	Access   *AccessConfToUpdate        `json:"access,omitempty"`
	Drain    *DrainConfToUpdate         `json:"drain,omitempty"`
	Balancer *GroupBalancerConfToUpdate `json:"balancer,omitempty"`
	Converter *ConverterConfToUpdate    `json:"converter,omitempty"`
	LRU      *LRUConfToUpdate           `json:"lru,omitempty"`
	Recycle  *RecycleConfToUpdate       `json:"recycle,omitempty"`
	Workflow *WorkflowConfToUpdate      `json:"workflow,omitempty"`
	Commit   *CommitConfToUpdate        `json:"commit,omitempty"`
	Periodic *PeriodConfToUpdate        `json:"periodic,omitempty"`
	Timeout  *TimeoutConfToUpdate       `json:"timeout,omitempty"`
}

// Clone deep-copies the Config so BeginUpdate callers can mutate freely
// before CommitUpdate swaps the pointer in.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

func defaultDuration(s string) Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DefaultConfig returns the built-in defaults; every value referenced in
// the design notes (10s lease timeout, 600s drain stall, 60s balancer
// cache, 3600/7200s workflow retry, 25 retry max, 7 day cleanup, 100k
// recycle index cap, 1024/0.75 commit batching) is set here.
func DefaultConfig() *Config {
	return &Config{
		ClusterConfig: ClusterConfig{
			Lease: MasterLeaseConf{
				Name:    "master_lease",
				Timeout: defaultDuration("10s"),
			},
			Drain: DrainConf{
				ServiceDelay:   defaultDuration("60s"),
				StallThreshold: defaultDuration("600s"),
				MaxTry:         1,
			},
			Balancer: GroupBalancerConf{
				Enabled:      true,
				Ntx:          2,
				ThresholdPct: 5.0,
				CacheTTL:     defaultDuration("60s"),
			},
			Converter: ConverterConf{
				Enabled: true,
				Ntx:     4,
			},
			LRU: LRUConf{
				Enabled:                true,
				Interval:               defaultDuration("1h"),
				DirSleepBelowThreshold: 10_000_000,
			},
			Recycle: RecycleConf{
				KeepTime:   defaultDuration("86400s"),
				MinSnooze:  defaultDuration("30s"),
				EntriesCap: 100_000,
			},
			Workflow: WorkflowConf{
				Ntx:               8,
				DefaultRetryMax:   25,
				DefaultRetryDelay: defaultDuration("3600s"),
				FinalRetryDelay:   defaultDuration("7200s"),
				KeepDays:          7,
				CleanupInterval:   defaultDuration("1h"),
			},
			Commit: CommitConf{
				MaxBatchEntries:  1024,
				MaxBatchPctOfMsg: 0.75,
			},
			Periodic: PeriodConf{
				StatsTime: defaultDuration("10s"),
			},
			Timeout: TimeoutConf{
				CplaneOperation: defaultDuration("2s"),
				MaxKeepalive:    defaultDuration("4s"),
			},
		},
	}
}

// globalConfigOwner holds the process-wide Config behind an atomic
// pointer, the same shape as the teacher's cmn.GCO: readers never block,
// writers clone-mutate-commit under a mutex.
type globalConfigOwner struct {
	mtx sync.Mutex
	c   atomic.Pointer[Config]
}

func (gco *globalConfigOwner) Get() *Config {
	c := gco.c.Load()
	if c == nil {
		return DefaultConfig()
	}
	return c
}

func (gco *globalConfigOwner) Put(c *Config) { gco.c.Store(c) }

// BeginUpdate locks the owner and returns a clone for the caller to
// mutate; CommitUpdate installs it and unlocks.
func (gco *globalConfigOwner) BeginUpdate() *Config {
	gco.mtx.Lock()
	return gco.Get().Clone()
}

func (gco *globalConfigOwner) CommitUpdate(clone *Config) {
	clone.ConfigVersion++
	gco.c.Store(clone)
	gco.mtx.Unlock()
}

func (gco *globalConfigOwner) DiscardUpdate() { gco.mtx.Unlock() }

// GCO is the single process-wide config owner, reached via cmn.GCO.Get().
var GCO = &globalConfigOwner{}

func init() { GCO.Put(DefaultConfig()) }
