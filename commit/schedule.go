package commit

import (
	"github.com/ceresfs/mgm/capability"
	"github.com/ceresfs/mgm/cluster"
	"github.com/ceresfs/mgm/cmn"
)

// UnlinkedLister supplies the unlinked-location list for one target; the
// real implementation reads it out of the namespace's FileSystemView,
// out of scope here (see glossary).
type UnlinkedLister interface {
	UnlinkedEntries(fsid int64) []ScheduleEntry
}

// ScheduleDeleteBatch is one signed capability-bearing message destined
// for a storage node.
type ScheduleDeleteBatch struct {
	Fsid        int64
	LocalPrefix string
	Capability  string
	Entries     int
}

const (
	maxBatchEntries = 1024
	maxBatchPct     = 0.75
)

// ScheduleDelete builds the per-node deletion message described in 4.D:
// gather every target's unlinked-location list, skip targets that aren't
// drain-eligible/booted/online, and batch the remainder into ≤1024-entry
// (or ≤75%-of-max-message-size) capability-bearing messages. Returns the
// total entry count submitted.
func (p *Protocol) ScheduleDelete(nodeName string, lister UnlinkedLister, issuer *capability.Issuer, manager string, maxMsgBytes int, localPrefix func(fsid int64) string) (int, error) {
	targets := p.Fs.ByNode(nodeName)
	total := 0

	cfg := cmn.GCO.Get()
	maxEntries := cfg.Commit.MaxBatchEntries
	if maxEntries == 0 {
		maxEntries = maxBatchEntries
	}
	pct := cfg.Commit.MaxBatchPctOfMsg
	if pct == 0 {
		pct = maxBatchPct
	}

	for _, t := range targets {
		if t.Configured < cluster.StatusDrain {
			continue
		}
		if t.Boot != cluster.BootBooted {
			continue
		}
		if t.Active != cluster.ActiveOnline {
			continue
		}

		entries := lister.UnlinkedEntries(t.Fsid)
		if len(entries) == 0 {
			continue
		}

		batchCap := maxEntries
		if maxMsgBytes > 0 {
			if byBytes := approxEntriesPerMessage(maxMsgBytes, pct); byBytes < batchCap {
				batchCap = byBytes
			}
		}

		for start := 0; start < len(entries); start += batchCap {
			end := start + batchCap
			if end > len(entries) {
				end = len(entries)
			}
			batch := entries[start:end]
			idList := EncodeIDList(batch)
			prefix := ""
			if localPrefix != nil {
				prefix = localPrefix(t.Fsid)
			}
			if issuer != nil {
				if _, err := issuer.Issue(capability.AccessDelete, manager, t.Fsid, prefix, idList); err != nil {
					return total, err
				}
			}
			total += len(batch)
		}
	}
	return total, nil
}

// approxEntriesPerMessage estimates how many ~40-byte id-list entries fit
// in pct of maxMsgBytes; a conservative floor for the entry-count cap.
func approxEntriesPerMessage(maxMsgBytes int, pct float64) int {
	const avgEntryBytes = 40
	n := int(float64(maxMsgBytes) * pct / avgEntryBytes)
	if n < 1 {
		return 1
	}
	return n
}
