package workflow

import "time"

// Store is the /proc/workflow tree seam: out of scope to implement
// against a real namespace (see the glossary's "KV store" entry), the
// same division of labor as namespace.View, lease.KV, and recycle.Store.
type Store interface {
	// List returns every entry name under day/queue/workflowName.
	List(day string, queue Queue, workflowName string) ([]string, error)
	// Days returns every yyyy-mm-dd directory currently present, sorted.
	Days() ([]string, error)
	// Workflows returns every workflow name under day/queue.
	Workflows(day string, queue Queue) ([]string, error)

	// Save writes the job's entry (possibly under a new day/queue/name if
	// When or Queue changed) with its xattrs, overwriting a same-named
	// predecessor if present.
	Save(j *Job) error
	// Load reads back a job by its exact location.
	Load(day string, queue Queue, workflowName, entryName string) (*Job, error)
	// Delete removes the job's current location.
	Delete(j *Job) error
	// Results writes sys.wfe.retc / sys.wfe.log back onto the entry.
	Results(j *Job, retCode int, log string) error

	// RemoveDayOlderThan deletes day-directories whose date precedes cutoff.
	RemoveDayOlderThan(cutoff time.Time) error
}

// Move relocates j from its current day/queue/name to a new one,
// implemented as Save(to) + Delete(from) per 4.J's Job.Move contract.
func Move(store Store, j *Job, newDay string, newQueue Queue, newWhen time.Time) error {
	from := *j
	j.Day = newDay
	j.Queue = newQueue
	j.When = newWhen
	if err := store.Save(j); err != nil {
		*j = from
		return err
	}
	return store.Delete(&from)
}
