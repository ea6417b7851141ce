// Command mgmctl is the admin CLI surface of the MGM (spec §6): `ns`,
// `fs`, and `find`. It does not dial a running mgm daemon — there is no
// wire protocol defined for that in this module, the same "out of
// scope, interface only" treatment as every other external collaborator
// (namespace.View, lease.KV, …) — so it boots its own devstore-backed
// instance of the same singletons cmd/mgm wires, seeded fresh on every
// invocation. That makes it a standalone inspection/exercise tool rather
// than a client of a live cluster; see DESIGN.md for the reasoning.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ceresfs/mgm/access"
	"github.com/ceresfs/mgm/balancer"
	"github.com/ceresfs/mgm/cluster"
	"github.com/ceresfs/mgm/cmn"
	"github.com/ceresfs/mgm/converter"
	"github.com/ceresfs/mgm/internal/devstore"
	"github.com/ceresfs/mgm/namespace"
	"github.com/ceresfs/mgm/recycle"
)

// adminCtx bundles the singletons every subcommand reads or mutates.
// Built fresh per process, it is the CLI's analogue of cmd/mgm's
// deployment, minus the background engines the daemon runs on a timer —
// an inspection tool drives each Tick by hand where it needs to.
type adminCtx struct {
	policy    *access.Policy
	fs        *cluster.FsView
	view      *namespace.MemView
	kv        *devstore.Lease
	balancer  *balancer.Balancer
	converter *converter.Converter
	recycleBin *recycle.Bin
}

func newAdminCtx() *adminCtx {
	cfg := cmn.GCO.Get()
	a := &adminCtx{}
	a.policy = access.New()
	a.policy.ApplyAccessConfig(cfg.Access)
	a.fs = cluster.NewFsView(devstore.NewConfigStore())
	a.view = namespace.NewMemView()
	a.kv = devstore.NewLease()

	box := devstore.NewDropbox()
	a.balancer = balancer.New(a.fs, "default", box, devstore.NewFileSource(a.view))
	a.converter = converter.New("default", box, a.view, devstore.Copier{}, devstore.FidResolver{View: a.view})
	a.recycleBin = recycle.New(devstore.NewRecycleStore())
	return a
}

func main() {
	root := &cobra.Command{
		Use:   "mgmctl",
		Short: "administrative CLI for the MGM control plane",
	}

	a := newAdminCtx()
	root.AddCommand(newNsCmd(a))
	root.AddCommand(newFsCmd(a))
	root.AddCommand(newFindCmd(a))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if e, ok := cmn.AsErr(err); ok {
			os.Exit(int(e.Errno()))
		}
		os.Exit(1)
	}
}
