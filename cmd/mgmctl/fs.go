package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ceresfs/mgm/cluster"
	"github.com/ceresfs/mgm/cmn"
	"github.com/ceresfs/mgm/namespace"
)

func newFsCmd(a *adminCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fs",
		Short: "storage target operations (ls, add, mv, rm, dumpmd, config, boot, status, dropdeletion)",
	}
	cmd.AddCommand(fsLsCmd(a), fsAddCmd(a), fsMvCmd(a), fsRmCmd(a), fsDumpmdCmd(a),
		fsConfigCmd(a), fsBootCmd(a), fsStatusCmd(a), fsDropdeletionCmd(a))
	return cmd
}

func fsLsCmd(a *adminCtx) *cobra.Command {
	var group, space, node string
	c := &cobra.Command{
		Use:   "ls",
		Short: "list storage targets, optionally filtered by group/space/node",
		RunE: func(cmd *cobra.Command, args []string) error {
			var targets []*cluster.Target
			switch {
			case group != "":
				targets = a.fs.ByGroup(group)
			case space != "":
				targets = a.fs.BySpace(space)
			case node != "":
				targets = a.fs.ByNode(node)
			default:
				targets = allTargets(a)
			}
			for _, t := range targets {
				fmt.Printf("fsid=%d node=%s group=%s space=%s configured=%v boot=%v active=%v used=%d cap=%d\n",
					t.Fsid, t.Node, t.Group, t.Space, t.Configured, t.Boot, t.Active, t.UsedBytes, t.CapacityBytes)
			}
			return nil
		},
	}
	c.Flags().StringVar(&group, "group", "", "filter by group")
	c.Flags().StringVar(&space, "space", "", "filter by space")
	c.Flags().StringVar(&node, "node", "", "filter by node")
	return c
}

// allTargets has no direct FsView accessor (by design: 4.A only indexes
// by fsid/node/group/space, never "all"), so it returns the per-space
// index of the "default" space only: targets registered under any other
// space are not listed. No fifth FsView index is added just for listing.
func allTargets(a *adminCtx) []*cluster.Target {
	return a.fs.BySpace("default")
}

func fsAddCmd(a *adminCtx) *cobra.Command {
	var group, space, node string
	c := &cobra.Command{
		Use:   "add <fsid>",
		Short: "register a new storage target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsid, err := parseInt64(args[0])
			if err != nil {
				return err
			}
			if a.fs.Get(fsid) != nil {
				return cmn.ErrConflict("fsid %d already registered", fsid)
			}
			a.fs.AddTarget(&cluster.Target{
				Fsid: fsid, Node: node, Group: group, Space: space,
				Configured: cluster.StatusOffline, Boot: cluster.BootNotBooted, Active: cluster.ActiveOffline,
				Empty: true,
			})
			fmt.Printf("added fsid=%d\n", fsid)
			return nil
		},
	}
	c.Flags().StringVar(&node, "node", "", "owning node name")
	c.Flags().StringVar(&group, "group", "default.0", "placement group")
	c.Flags().StringVar(&space, "space", "default", "policy space")
	return c
}

// fsMvCmd re-homes a target to a new group/space by removing and
// re-adding it, the simplest way to honor FsView's "reachable through
// all four indices or none" invariant across a cross-index move.
func fsMvCmd(a *adminCtx) *cobra.Command {
	var group, space string
	c := &cobra.Command{
		Use:   "mv <fsid>",
		Short: "move a target to a new group and/or space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsid, err := parseInt64(args[0])
			if err != nil {
				return err
			}
			t := a.fs.Get(fsid)
			if t == nil {
				return cmn.ErrNotFound("fsid %d", fsid)
			}
			moved := *t
			if group != "" {
				moved.Group = group
			}
			if space != "" {
				moved.Space = space
			}
			a.fs.RemoveTarget(fsid)
			a.fs.AddTarget(&moved)
			fmt.Printf("moved fsid=%d group=%s space=%s\n", fsid, moved.Group, moved.Space)
			return nil
		},
	}
	c.Flags().StringVar(&group, "group", "", "new group (empty = unchanged)")
	c.Flags().StringVar(&space, "space", "", "new space (empty = unchanged)")
	return c
}

func fsRmCmd(a *adminCtx) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <fsid>",
		Short: "remove a drained, empty target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsid, err := parseInt64(args[0])
			if err != nil {
				return err
			}
			t := a.fs.Get(fsid)
			if t == nil {
				return cmn.ErrNotFound("fsid %d", fsid)
			}
			if t.Configured != cluster.StatusDrain || !t.Empty {
				return cmn.ErrInvalidArg("fsid %d must be drained and empty before removal", fsid)
			}
			a.fs.RemoveTarget(fsid)
			fmt.Printf("removed fsid=%d\n", fsid)
			return nil
		},
	}
}

func fsDumpmdCmd(a *adminCtx) *cobra.Command {
	return &cobra.Command{
		Use:   "dumpmd <fsid>",
		Short: "list every file with a replica on fsid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsid, err := parseInt64(args[0])
			if err != nil {
				return err
			}
			for _, f := range a.view.AllFiles() {
				if f.HasLocation(fsid) {
					fmt.Printf("fid=%016x name=%s size=%d checksum=%s\n", f.Fid, f.Name, f.Size, f.Checksum)
				}
			}
			return nil
		},
	}
}

func fsConfigCmd(a *adminCtx) *cobra.Command {
	var value string
	c := &cobra.Command{
		Use:   "config <fsid> <key>",
		Short: "get or set (with --set) a per-target config key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsid, err := parseInt64(args[0])
			if err != nil {
				return err
			}
			key := args[1]
			if value != "" {
				if err := a.fs.SetTargetKey(fsid, key, value); err != nil {
					return err
				}
				fmt.Printf("fsid=%d %s=%s\n", fsid, key, value)
				return nil
			}
			v, ok := a.fs.GetTargetKey(fsid, key)
			if !ok {
				return cmn.ErrNotFound("fsid %d has no key %q", fsid, key)
			}
			fmt.Printf("fsid=%d %s=%s\n", fsid, key, v)
			return nil
		},
	}
	c.Flags().StringVar(&value, "set", "", "new value")
	return c
}

func fsBootCmd(a *adminCtx) *cobra.Command {
	var status string
	c := &cobra.Command{
		Use:   "boot <fsid>",
		Short: "set a target's boot status (booting|booted|notbooted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsid, err := parseInt64(args[0])
			if err != nil {
				return err
			}
			t := a.fs.Get(fsid)
			if t == nil {
				return cmn.ErrNotFound("fsid %d", fsid)
			}
			switch status {
			case "booting":
				t.Boot = cluster.BootBooting
			case "booted":
				t.Boot = cluster.BootBooted
			case "notbooted":
				t.Boot = cluster.BootNotBooted
			default:
				return cmn.ErrInvalidArg("unknown boot status %q", status)
			}
			fmt.Printf("fsid=%d boot=%v\n", fsid, t.Boot)
			return nil
		},
	}
	c.Flags().StringVar(&status, "set", "booted", "booting|booted|notbooted")
	return c
}

func fsStatusCmd(a *adminCtx) *cobra.Command {
	var configured, active string
	c := &cobra.Command{
		Use:   "status <fsid>",
		Short: "show or set a target's configured/active status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsid, err := parseInt64(args[0])
			if err != nil {
				return err
			}
			t := a.fs.Get(fsid)
			if t == nil {
				return cmn.ErrNotFound("fsid %d", fsid)
			}
			if configured != "" {
				switch configured {
				case "offline":
					t.Configured = cluster.StatusOffline
				case "drain":
					t.Configured = cluster.StatusDrain
				case "online":
					t.Configured = cluster.StatusOnline
				default:
					return cmn.ErrInvalidArg("unknown configured status %q", configured)
				}
			}
			if active != "" {
				switch active {
				case "offline":
					t.Active = cluster.ActiveOffline
				case "online":
					t.Active = cluster.ActiveOnline
				default:
					return cmn.ErrInvalidArg("unknown active status %q", active)
				}
			}
			fmt.Printf("fsid=%d configured=%v active=%v\n", fsid, t.Configured, t.Active)
			return nil
		},
	}
	c.Flags().StringVar(&configured, "configured", "", "offline|drain|online")
	c.Flags().StringVar(&active, "active", "", "offline|online")
	return c
}

// fsDropdeletionCmd clears fsid from every file's pending-unlinked set
// without waiting for the storage node to ack the delete — the admin
// escape hatch for a target that will never come back to confirm.
func fsDropdeletionCmd(a *adminCtx) *cobra.Command {
	return &cobra.Command{
		Use:   "dropdeletion <fsid>",
		Short: "forget fsid's pending unlinked-replica deletions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsid, err := parseInt64(args[0])
			if err != nil {
				return err
			}
			var n int
			for _, f := range a.view.AllFiles() {
				if !f.HasUnlinked(fsid) {
					continue
				}
				err := a.view.WithFile(f.Fid, func(work *namespace.FileMD) error {
					kept := work.Unlinked[:0]
					for _, loc := range work.Unlinked {
						if loc != fsid {
							kept = append(kept, loc)
						}
					}
					work.Unlinked = kept
					return nil
				})
				if err != nil {
					return err
				}
				n++
			}
			fmt.Printf("fsid=%d: %d file(s) had a pending deletion on it (use fs dumpmd to inspect)\n", fsid, n)
			return nil
		},
	}
}
