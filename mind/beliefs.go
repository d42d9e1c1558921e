package mind

import "strconv"

// BeliefBase is an insertion-ordered set of ground literals. It is not safe
// for concurrent use; the owning agent serializes access.
type BeliefBase struct {
	keys  []string
	byKey map[string][]*Struct
	size  int
}

// NewBeliefBase returns an empty belief base.
func NewBeliefBase() *BeliefBase {
	return &BeliefBase{byKey: make(map[string][]*Struct)}
}

// Len is the number of stored literals.
func (bb *BeliefBase) Len() int {
	return bb.size
}

// Add stores lit, merging annotations into an existing literal with the same
// functor and arguments. It reports whether the base changed.
func (bb *BeliefBase) Add(lit *Struct) bool {
	key := lit.Key()
	for _, existing := range bb.byKey[key] {
		if !sameArgs(existing, lit) {
			continue
		}
		changed := false
		for _, a := range lit.Annots {
			if !existing.HasAnnot(a) {
				existing.Annots = append(existing.Annots, a)
				changed = true
			}
		}
		return changed
	}

	stored := &Struct{
		Functor: lit.Functor,
		Args:    lit.Args,
		Annots:  append([]Term(nil), lit.Annots...),
		Negated: lit.Negated,
	}
	if _, ok := bb.byKey[key]; !ok {
		bb.keys = append(bb.keys, key)
	}
	bb.byKey[key] = append(bb.byKey[key], stored)
	bb.size++
	return true
}

// Remove finds the first literal matching pattern under u and removes the
// pattern's annotations from it. The literal itself goes away once it has no
// source left. It returns the literal as it was before removal.
func (bb *BeliefBase) Remove(pattern *Struct, u Unifier) (*Struct, bool) {
	key := pattern.Key()
	lits := bb.byKey[key]
	for i, lit := range lits {
		trial := u.Clone()
		if !Unify(pattern.WithoutAnnots(), lit.WithoutAnnots(), trial) || !matchAnnots(pattern, lit, trial) {
			continue
		}
		for k, v := range trial {
			u[k] = v
		}

		before := &Struct{Functor: lit.Functor, Args: lit.Args, Annots: append([]Term(nil), lit.Annots...), Negated: lit.Negated}

		var kept []Term
		for _, a := range lit.Annots {
			drop := false
			for _, pa := range pattern.Annots {
				if Equal(Apply(pa, u), a) {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, a)
			}
		}
		lit.Annots = kept

		if len(lit.Sources()) == 0 {
			bb.byKey[key] = append(lits[:i:i], lits[i+1:]...)
			bb.size--
			if len(bb.byKey[key]) == 0 {
				delete(bb.byKey, key)
				bb.dropKey(key)
			}
		}
		return before, true
	}
	return nil, false
}

// RemoveAll removes every literal with the predicate of pattern that carries
// the given source. Used by -+b.
func (bb *BeliefBase) RemoveAll(pattern *Struct, source Term) int {
	n := 0
	probe := &Struct{Functor: pattern.Functor, Negated: pattern.Negated, Annots: []Term{source}}
	for i := range pattern.Args {
		probe.Args = append(probe.Args, Var("_R"+strconv.Itoa(i)))
	}
	for {
		if _, ok := bb.Remove(probe, NewUnifier()); !ok {
			return n
		}
		n++
	}
}

// Query returns one unifier per literal matching pattern, extending u.
func (bb *BeliefBase) Query(pattern *Struct, u Unifier) []Unifier {
	var out []Unifier
	for _, lit := range bb.byKey[pattern.Key()] {
		trial := u.Clone()
		if Unify(pattern.WithoutAnnots(), lit.WithoutAnnots(), trial) && matchAnnots(pattern, lit, trial) {
			out = append(out, trial)
		}
	}
	return out
}

// Contains reports whether a literal equal to lit (annotations ignored) is stored.
func (bb *BeliefBase) Contains(lit *Struct) bool {
	for _, existing := range bb.byKey[lit.Key()] {
		if sameArgs(existing, lit) {
			return true
		}
	}
	return false
}

// Literals returns the stored literals in insertion order of their predicates.
func (bb *BeliefBase) Literals() []*Struct {
	out := make([]*Struct, 0, bb.size)
	for _, k := range bb.keys {
		out = append(out, bb.byKey[k]...)
	}
	return out
}

func (bb *BeliefBase) dropKey(key string) {
	for i, k := range bb.keys {
		if k == key {
			bb.keys = append(bb.keys[:i:i], bb.keys[i+1:]...)
			return
		}
	}
}

func sameArgs(a, b *Struct) bool {
	if len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if !Equal(a.Args[i], b.Args[i]) {
			return false
		}
	}
	return true
}
