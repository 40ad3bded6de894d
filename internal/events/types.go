package events

import (
	"sort"
	"strings"
)

// Event types written to the log.
const (
	ProjectCreated      = "project.created"
	ProjectUpdated      = "project.updated"
	ConfigImported      = "config.imported"
	TaskCreated         = "task.created"
	TaskUpdated         = "task.updated"
	TaskDeleted         = "task.deleted"
	LinkAdded           = "link.added"
	LinkRemoved         = "link.removed"
	ScheduleComputed    = "schedule.computed"
	BaselineSet         = "baseline.set"
	RecurrenceEnabled   = "recurrence.enabled"
	RecurrenceDisabled  = "recurrence.disabled"
	RecurrenceGenerated = "recurrence.generated"
	InstanceDetached    = "recurrence.detached"
	SeriesUpdated       = "recurrence.series_updated"
	TaskSplit           = "task.split"
	TaskMerged          = "task.merged"
	PlanImported        = "plan.imported"
)

// Entity kinds.
const (
	KindProject = "project"
	KindTask    = "task"
	KindLink    = "link"
)

var known = map[string]bool{
	ProjectCreated:      true,
	ProjectUpdated:      true,
	ConfigImported:      true,
	TaskCreated:         true,
	TaskUpdated:         true,
	TaskDeleted:         true,
	LinkAdded:           true,
	LinkRemoved:         true,
	ScheduleComputed:    true,
	BaselineSet:         true,
	RecurrenceEnabled:   true,
	RecurrenceDisabled:  true,
	RecurrenceGenerated: true,
	InstanceDetached:    true,
	SeriesUpdated:       true,
	TaskSplit:           true,
	TaskMerged:          true,
	PlanImported:        true,
}

// Known reports whether t is an event type the engine writes.
func Known(t string) bool {
	return known[t]
}

// Types lists every event type in sorted order.
func Types() []string {
	out := make([]string, 0, len(known))
	for t := range known {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// KnownPattern reports whether p names a known type or is a "prefix.*"
// pattern matching at least one of them.
func KnownPattern(p string) bool {
	if Known(p) || p == "*" {
		return true
	}
	prefix, ok := strings.CutSuffix(p, "*")
	if !ok || !strings.HasSuffix(prefix, ".") {
		return false
	}
	for t := range known {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}
