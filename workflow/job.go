// Package workflow implements WorkflowEngine: the /proc/workflow job
// queue, its dispatch loop, and the mail/bash/proto/notify methods, per
// 4.J.
package workflow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Queue is one of the six workflow queue letters.
type Queue string

const (
	QueuePending  Queue = "q" // waiting for its scheduled time
	QueueRunning  Queue = "r" // claimed by an async worker
	QueueError    Queue = "e" // retry-scheduled
	QueueDone     Queue = "d"
	QueueFailed   Queue = "f"
	QueueArchived Queue = "g"
)

// Job is one workflow entry: a scheduled action against a file.
type Job struct {
	When    time.Time
	Fid     uint64
	Event   string
	Queue   Queue
	Day     string // yyyy-mm-dd the entry currently lives under
	Name    string // the containing workflow name

	Action  string // "method[:args]", e.g. "bash:/script arg"
	Vid     string // serialized caller identity
	Retry   int
	ErrMsg  string
	RetCode int
	Log     string
}

// EntryName renders the "<when-unix>:<fxid>:<event>" file name Save
// writes under /proc/workflow/<day>/<queue>/<workflow>/.
func (j *Job) EntryName() string {
	return fmt.Sprintf("%d:%x:%s", j.When.Unix(), j.Fid, j.Event)
}

// ParseEntryName reverses EntryName.
func ParseEntryName(name string) (when time.Time, fid uint64, event string, ok bool) {
	parts := strings.SplitN(name, ":", 3)
	if len(parts) != 3 {
		return time.Time{}, 0, "", false
	}
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, 0, "", false
	}
	fid, err = strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return time.Time{}, 0, "", false
	}
	return time.Unix(sec, 0), fid, parts[2], true
}

// Method splits Action into its method name and raw argument string.
func (j *Job) Method() (name, args string) {
	idx := strings.Index(j.Action, ":")
	if idx < 0 {
		return j.Action, ""
	}
	return j.Action[:idx], j.Action[idx+1:]
}

// IsAsync reports whether this job's method runs on the shared pool
// rather than inline on the dispatching thread. mail/bash/notify are
// always async; proto is async except for its synchronous gates (named
// in syncProtoEvents, stripped of an optional "sync::" prefix), which
// run inline on the dispatching goroutine.
func (j *Job) IsAsync(syncProtoEvents map[string]bool) bool {
	method, _ := j.Method()
	if method != "proto" {
		return true
	}
	event := strings.TrimPrefix(j.Event, "sync::")
	return !syncProtoEvents[event]
}
