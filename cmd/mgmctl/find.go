package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ceresfs/mgm/cmn"
	"github.com/ceresfs/mgm/namespace"
)

// findOpts mirrors the rich predicate set spec §6 lists for `find`: age
// and size filters, owner filters, and the mutating/diagnostic flags
// (--purge, -b, -z, -g) that turn a scan into an action.
type findOpts struct {
	mtimeOlderThan time.Duration
	ctimeOlderThan time.Duration
	minSize        int64
	uid, gid       int64
	hasUid, hasGid bool
	balance        bool // -b: only files whose locations span >1 group
	zeroSize       bool // -z
	mixedGroup     bool // -g: alias for balance in this implementation
	purge          string
}

func newFindCmd(a *adminCtx) *cobra.Command {
	var o findOpts
	c := &cobra.Command{
		Use:   "find",
		Short: "scan the namespace for files matching the given predicates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(a, o)
		},
	}
	c.Flags().DurationVar(&o.mtimeOlderThan, "mtime", 0, "only files whose mtime is older than this")
	c.Flags().DurationVar(&o.ctimeOlderThan, "ctime", 0, "only files whose ctime is older than this (same clock as mtime here)")
	c.Flags().Int64Var(&o.minSize, "size", -1, "only files at least this many bytes")
	c.Flags().Int64Var(&o.uid, "uid", -1, "only files owned by this uid")
	c.Flags().Int64Var(&o.gid, "gid", -1, "only files owned by this gid")
	c.Flags().BoolVar(&o.balance, "b", false, "only files spanning more than one group (candidates for balancing)")
	c.Flags().BoolVar(&o.zeroSize, "z", false, "only zero-size files")
	c.Flags().BoolVar(&o.mixedGroup, "g", false, "only files with replicas in more than one group")
	c.Flags().StringVar(&o.purge, "purge", "", "remove matches from the namespace instead of printing them: <n> or \"atomic\"")
	return c
}

func runFind(a *adminCtx, o findOpts) error {
	o.hasUid = o.uid >= 0
	o.hasGid = o.gid >= 0
	now := time.Now()

	var matches []*namespace.FileMD
	for _, f := range a.view.AllFiles() {
		if o.mtimeOlderThan > 0 && now.Sub(time.Unix(f.Mtime, f.MtimeNs)) < o.mtimeOlderThan {
			continue
		}
		if o.ctimeOlderThan > 0 && now.Sub(time.Unix(f.Mtime, f.MtimeNs)) < o.ctimeOlderThan {
			continue
		}
		if o.minSize >= 0 && f.Size < o.minSize {
			continue
		}
		if o.hasUid && f.Uid != o.uid {
			continue
		}
		if o.hasGid && f.Gid != o.gid {
			continue
		}
		if o.zeroSize && f.Size != 0 {
			continue
		}
		if (o.balance || o.mixedGroup) && !spansMultipleGroups(a, f) {
			continue
		}
		matches = append(matches, f)
	}

	if o.purge != "" {
		return purgeMatches(a, matches, o.purge)
	}
	for _, f := range matches {
		fmt.Printf("fid=%016x name=%s size=%d uid=%d gid=%d locations=%v\n",
			f.Fid, f.Name, f.Size, f.Uid, f.Gid, f.Locations)
	}
	fmt.Printf("%d match(es)\n", len(matches))
	return nil
}

// spansMultipleGroups resolves each location fsid to its FsView group
// and reports whether more than one distinct group is represented —
// the -b/-g predicate's notion of "unbalanced".
func spansMultipleGroups(a *adminCtx, f *namespace.FileMD) bool {
	groups := map[string]struct{}{}
	for _, fsid := range f.Locations {
		if t := a.fs.Get(fsid); t != nil {
			groups[t.Group] = struct{}{}
		}
	}
	return len(groups) > 1
}

// purgeMatches applies the --purge flag: "atomic" purges every match in
// one pass and reports a single count; a numeric n caps how many
// matches are purged this invocation, taken in scan order (no sorting
// by age is applied), the same
// "don't purge everything in one shot" throttle RecycleBin's own
// eviction loop uses for keep-ratio overshoot.
func purgeMatches(a *adminCtx, matches []*namespace.FileMD, purge string) error {
	limit := len(matches)
	if purge != "atomic" {
		n, err := parseInt64(purge)
		if err != nil {
			return cmn.ErrInvalidArg("--purge value must be a count or \"atomic\": %v", err)
		}
		if int(n) < limit {
			limit = int(n)
		}
	}
	var purged int
	for i := 0; i < limit; i++ {
		f := matches[i]
		if err := a.view.RemoveFile(f.Fid); err != nil {
			return err
		}
		purged++
	}
	fmt.Printf("purged %d of %d match(es)\n", purged, len(matches))
	return nil
}
