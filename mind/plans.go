package mind

import (
	"strconv"
	"strings"
)

// PlanLibrary keeps plans in the order they were added. Plans without a
// label receive a generated one. Adding a plan whose label already exists
// replaces the old plan in place.
type PlanLibrary struct {
	plans   []*Plan
	byLabel map[string]int
	nextID  int
}

// NewPlanLibrary returns an empty library.
func NewPlanLibrary() *PlanLibrary {
	return &PlanLibrary{byLabel: make(map[string]int)}
}

// Add stores plans and returns their labels.
func (pl *PlanLibrary) Add(plans ...*Plan) []string {
	labels := make([]string, 0, len(plans))
	for _, p := range plans {
		if p.Label == "" {
			p.Label = pl.generateLabel()
		}
		if idx, ok := pl.byLabel[p.Label]; ok {
			pl.plans[idx] = p
		} else {
			pl.byLabel[p.Label] = len(pl.plans)
			pl.plans = append(pl.plans, p)
		}
		labels = append(labels, p.Label)
	}
	return labels
}

func (pl *PlanLibrary) generateLabel() string {
	for {
		pl.nextID++
		label := "l__" + strconv.Itoa(pl.nextID)
		if _, taken := pl.byLabel[label]; !taken {
			return label
		}
	}
}

// Get returns the plan with the given label.
func (pl *PlanLibrary) Get(label string) (*Plan, bool) {
	idx, ok := pl.byLabel[label]
	if !ok {
		return nil, false
	}
	return pl.plans[idx], true
}

// Plans returns every plan in library order.
func (pl *PlanLibrary) Plans() []*Plan {
	return append([]*Plan(nil), pl.plans...)
}

// Len is the number of plans.
func (pl *PlanLibrary) Len() int {
	return len(pl.plans)
}

// Relevant returns the plans whose trigger has the same operator, type and
// predicate as trig.
func (pl *PlanLibrary) Relevant(trig Trigger) []*Plan {
	key := trig.Literal.Key()
	var out []*Plan
	for _, p := range pl.plans {
		if p.Trigger.Op == trig.Op && p.Trigger.Type == trig.Type && p.Trigger.Literal.Key() == key {
			out = append(out, p)
		}
	}
	return out
}

// Text renders all plans, one per line.
func (pl *PlanLibrary) Text() string {
	var b strings.Builder
	for _, p := range pl.plans {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	return b.String()
}
