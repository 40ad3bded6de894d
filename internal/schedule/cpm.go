package schedule

import (
	"time"

	"planline/internal/calendar"
	"planline/internal/domain"
)

// Timing holds the CPM dates of one task. Finish dates are exclusive, like
// task end dates.
type Timing struct {
	EarlyStart    time.Time `json:"early_start"`
	EarlyFinish   time.Time `json:"early_finish"`
	LateStart     time.Time `json:"late_start"`
	LateFinish    time.Time `json:"late_finish"`
	TotalFloat    int       `json:"total_float"`
	FreeFloat     int       `json:"free_float"`
	DrivingLinkID string    `json:"driving_link_id,omitempty"`
}

// timeline converts between dates and workday offsets from the project
// start. Offsets only make sense for workdays, so callers round dates with
// ceil or floor first.
type timeline struct {
	cal     *calendar.Calendar
	base    time.Time
	offsets map[time.Time]int
	dates   map[int]time.Time
}

func newTimeline(cal *calendar.Calendar, base time.Time) *timeline {
	return &timeline{
		cal:     cal,
		base:    cal.ClampToWorkdays(base),
		offsets: make(map[time.Time]int),
		dates:   make(map[int]time.Time),
	}
}

func (tl *timeline) offset(d time.Time) int {
	if off, ok := tl.offsets[d]; ok {
		return off
	}
	off := tl.cal.WorkdaysBetween(tl.base, d)
	tl.offsets[d] = off
	tl.dates[off] = d
	return off
}

func (tl *timeline) date(off int) time.Time {
	if d, ok := tl.dates[off]; ok {
		return d
	}
	d := tl.cal.AddWorkdays(tl.base, off)
	tl.dates[off] = d
	tl.offsets[d] = off
	return d
}

func (tl *timeline) ceil(off, lag int) int {
	return tl.offset(tl.cal.ClampToWorkdays(tl.date(off).AddDate(0, 0, lag)))
}

func (tl *timeline) floor(off, lag int) int {
	return tl.offset(tl.cal.FloorToWorkdays(tl.date(off).AddDate(0, 0, -lag)))
}

type cpmNode struct {
	es, ef, ls, lf int
	span           int
	totalFloat     int
	freeFloat      int
}

type cpmResult struct {
	nodes      map[string]*cpmNode
	tl         *timeline
	projectEnd int
	critical   []string
}

// forwardBound is the earliest start offset a link allows its successor.
func (tl *timeline) forwardBound(l domain.Link, pred *cpmNode, succSpan int) int {
	switch l.Type {
	case domain.StartToStart:
		return tl.ceil(pred.es, l.Lag)
	case domain.FinishToFinish:
		return tl.ceil(pred.ef, l.Lag) - succSpan
	case domain.StartToFinish:
		return tl.ceil(pred.es, l.Lag) - succSpan
	default:
		return tl.ceil(pred.ef, l.Lag)
	}
}

// backwardBound is the latest finish offset a link allows its predecessor.
func (tl *timeline) backwardBound(l domain.Link, pred, succ *cpmNode) int {
	switch l.Type {
	case domain.StartToStart:
		return tl.floor(succ.ls, l.Lag) + pred.span
	case domain.FinishToFinish:
		return tl.floor(succ.lf, l.Lag)
	case domain.StartToFinish:
		return tl.floor(succ.lf, l.Lag) + pred.span
	default:
		return tl.floor(succ.ls, l.Lag)
	}
}

// linkSlack is how far the predecessor can slip before the link pushes the
// successor's earliest dates.
func (tl *timeline) linkSlack(l domain.Link, pred, succ *cpmNode) int {
	switch l.Type {
	case domain.StartToStart:
		return tl.floor(succ.es, l.Lag) - pred.es
	case domain.FinishToFinish:
		return tl.floor(succ.ef, l.Lag) - pred.ef
	case domain.StartToFinish:
		return tl.floor(succ.ef, l.Lag) - pred.es
	default:
		return tl.floor(succ.es, l.Lag) - pred.ef
	}
}

// criticalPath runs the forward and backward passes over the dated tasks in
// topological order. Links to or from undated tasks are ignored.
func criticalPath(order []string, g *graph, dated map[string]domain.Task, cal *calendar.Calendar) cpmResult {
	res := cpmResult{nodes: make(map[string]*cpmNode, len(dated))}
	if len(dated) == 0 {
		return res
	}

	var base time.Time
	for _, id := range order {
		t, ok := dated[id]
		if !ok {
			continue
		}
		if base.IsZero() || t.Start.Before(base) {
			base = t.Start
		}
	}
	tl := newTimeline(cal, base)
	res.tl = tl

	// Forward pass.
	first := true
	for _, id := range order {
		t, ok := dated[id]
		if !ok {
			continue
		}
		n := &cpmNode{span: cal.WorkdaysBetween(t.Start, t.End)}
		if t.IsMilestone || n.span < 0 {
			n.span = 0
		}
		n.es = tl.offset(cal.ClampToWorkdays(t.Start))
		for _, l := range g.in[id] {
			pred, ok := res.nodes[l.FromID]
			if !ok {
				continue
			}
			if b := tl.forwardBound(l, pred, n.span); b > n.es {
				n.es = b
			}
		}
		n.ef = n.es + n.span
		res.nodes[id] = n
		if first || n.ef > res.projectEnd {
			res.projectEnd = n.ef
			first = false
		}
	}

	// Backward pass.
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		n, ok := res.nodes[id]
		if !ok {
			continue
		}
		n.lf = res.projectEnd
		for _, l := range g.out[id] {
			succ, ok := res.nodes[l.ToID]
			if !ok {
				continue
			}
			if b := tl.backwardBound(l, n, succ); b < n.lf {
				n.lf = b
			}
		}
		n.ls = n.lf - n.span
		n.totalFloat = n.ls - n.es
		if n.totalFloat < 0 {
			n.totalFloat = 0
		}

		hasSucc := false
		for _, l := range g.out[id] {
			succ, ok := res.nodes[l.ToID]
			if !ok {
				continue
			}
			slack := tl.linkSlack(l, n, succ)
			if !hasSucc || slack < n.freeFloat {
				n.freeFloat = slack
			}
			hasSucc = true
		}
		if n.freeFloat < 0 {
			n.freeFloat = 0
		}
		if n.freeFloat > n.totalFloat {
			n.freeFloat = n.totalFloat
		}
	}

	for _, id := range order {
		if n, ok := res.nodes[id]; ok && n.totalFloat == 0 {
			res.critical = append(res.critical, id)
		}
	}
	return res
}

func (r cpmResult) timing(id string) Timing {
	n := r.nodes[id]
	return Timing{
		EarlyStart:  r.tl.date(n.es),
		EarlyFinish: r.tl.date(n.ef),
		LateStart:   r.tl.date(n.ls),
		LateFinish:  r.tl.date(n.lf),
		TotalFloat:  n.totalFloat,
		FreeFloat:   n.freeFloat,
	}
}
