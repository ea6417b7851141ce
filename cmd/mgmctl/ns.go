package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ceresfs/mgm/cmn"
)

func newNsCmd(a *adminCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ns",
		Short: "namespace operations (stat, mutex, compact, master, tree, cache, quota)",
	}
	cmd.AddCommand(nsStatCmd(a), nsMutexCmd(a), nsCompactCmd(a), nsMasterCmd(a),
		nsTreeCmd(a), nsCacheCmd(a), nsQuotaCmd(a))
	return cmd
}

func nsStatCmd(a *adminCtx) *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "print namespace boot state and ban/stall summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("booted=%v\n", a.view.Booted())
			fmt.Printf("stall.global=%v stall.read=%v stall.write=%v stall.ratelimit=%v\n",
				a.policy.StallGlobal(), a.policy.StallRead(), a.policy.StallWrite(), a.policy.StallUserGroup())
			return nil
		},
	}
}

// nsMutexCmd reports FsView's four-index consistency check. The real
// `ns mutex` reports lock contention timings from the external
// metadata service's own instrumentation; out of scope here (see the
// glossary's "KV store" entry), so this checks the one invariant this
// module can assert on its own: every target reachable through all four
// indices or none (4.A).
func nsMutexCmd(a *adminCtx) *cobra.Command {
	return &cobra.Command{
		Use:   "mutex",
		Short: "check the FsView four-index invariant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.fs.CheckInvariant() {
				fmt.Println("ok: FsView indices consistent")
				return nil
			}
			return cmn.ErrFatal("FsView index invariant violated")
		},
	}
}

// nsCompactCmd: the real namespace-store compaction runs inside the
// external KV store this module never implements; this command exists
// only so the CLI surface matches §6 and reports that fact rather than
// silently doing nothing.
func nsCompactCmd(a *adminCtx) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "request namespace store compaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("compaction is performed by the metadata store itself; nothing to do in-process")
			return nil
		},
	}
}

func nsMasterCmd(a *adminCtx) *cobra.Command {
	var identity string
	var ttl time.Duration
	c := &cobra.Command{
		Use:   "master",
		Short: "show or force the current lease holder",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if identity != "" {
				acquired, holder, err := a.kv.Acquire(ctx, cmn.GCO.Get().Lease.Name, identity, ttl)
				if err != nil {
					return err
				}
				fmt.Printf("acquired=%v holder=%s\n", acquired, holder)
				return nil
			}
			holder, err := a.kv.Get(ctx, cmn.GCO.Get().Lease.Name)
			if err != nil {
				return err
			}
			if holder == "" {
				fmt.Println("no current master")
				return nil
			}
			fmt.Printf("master=%s\n", holder)
			return nil
		},
	}
	c.Flags().StringVar(&identity, "acquire", "", "attempt to acquire/renew the lease as this identity")
	c.Flags().DurationVar(&ttl, "ttl", 10*time.Second, "lease ttl for --acquire")
	return c
}

func nsTreeCmd(a *adminCtx) *cobra.Command {
	var root uint64
	c := &cobra.Command{
		Use:   "tree",
		Short: "print the container tree under --root (default 0)",
		RunE: func(cmd *cobra.Command, args []string) error {
			printTree(a, root, 0)
			return nil
		},
	}
	c.Flags().Uint64Var(&root, "root", 0, "container id to start from")
	return c
}

func printTree(a *adminCtx, id uint64, depth int) {
	for i := 0; i < depth; i++ {
		fmt.Print("  ")
	}
	if c, ok := a.view.GetContainer(id); ok {
		fmt.Printf("%s (id=%d)\n", c.Name, c.ID)
	} else {
		fmt.Printf("(id=%d)\n", id)
	}
	for _, child := range a.view.Children(id) {
		printTree(a, child.ID, depth+1)
	}
}

// nsCacheCmd reports the in-memory namespace's size, the closest
// analogue this module has to the real store's container/file cache
// hit-rate counters (out of scope — external store internals).
func nsCacheCmd(a *adminCtx) *cobra.Command {
	return &cobra.Command{
		Use:   "cache",
		Short: "print in-memory namespace cache size",
		RunE: func(cmd *cobra.Command, args []string) error {
			files := a.view.AllFiles()
			fmt.Printf("files=%d\n", len(files))
			return nil
		},
	}
}

func nsQuotaCmd(a *adminCtx) *cobra.Command {
	var set int64
	c := &cobra.Command{
		Use:   "quota <container-id>",
		Short: "show or set a container's quota capacity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0])
			if err != nil {
				return err
			}
			if set > 0 {
				a.view.SetQuotaCapacity(id, set)
			}
			q, ok := a.view.QuotaUsage(id)
			if !ok {
				return cmn.ErrNotFound("no quota node for container %d", id)
			}
			fmt.Printf("container=%d used_bytes=%d used_inodes=%d capacity_bytes=%d\n",
				q.ContainerID, q.UsedBytes, q.UsedInodes, q.CapacityBytes)
			return nil
		},
	}
	c.Flags().Int64Var(&set, "set-bytes", 0, "set capacity bytes")
	return c
}
