package mind

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var errNotNumber = errors.New("arithmetic on a non-number")

// deref follows variable bindings until a non-variable or an unbound variable.
func deref(t Term, u Unifier) Term {
	for {
		v, ok := t.(Var)
		if !ok {
			return t
		}
		next, bound := u[string(v)]
		if !bound {
			return t
		}
		t = next
	}
}

// Unify tries to make a and b equal by extending u. On failure u may hold
// partial bindings, so callers unify against a clone when they need to roll back.
// Annotations are not considered; see matchAnnots.
func Unify(a, b Term, u Unifier) bool {
	a, b = deref(a, u), deref(b, u)

	if va, ok := a.(Var); ok {
		if vb, ok := b.(Var); ok && va == vb {
			return true
		}
		if occurs(string(va), b, u) {
			return false
		}
		u[string(va)] = b
		return true
	}
	if vb, ok := b.(Var); ok {
		if occurs(string(vb), a, u) {
			return false
		}
		u[string(vb)] = a
		return true
	}

	switch x := a.(type) {
	case Number:
		y, ok := b.(Number)
		return ok && x == y
	case Str:
		y, ok := b.(Str)
		return ok && x == y
	case *Struct:
		y, ok := b.(*Struct)
		if !ok || x.Functor != y.Functor || x.Negated != y.Negated || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !Unify(x.Args[i], y.Args[i], u) {
				return false
			}
		}
		return true
	case *List:
		y, ok := b.(*List)
		if !ok {
			return false
		}
		return unifyLists(x, y, u)
	case *Expr:
		y, ok := b.(*Expr)
		if !ok || x.Op != y.Op || (x.Left == nil) != (y.Left == nil) {
			return false
		}
		if x.Left != nil && !Unify(x.Left, y.Left, u) {
			return false
		}
		return Unify(x.Right, y.Right, u)
	}
	return false
}

func unifyLists(x, y *List, u Unifier) bool {
	n := len(x.Elems)
	if len(y.Elems) < n {
		x, y = y, x
		n = len(x.Elems)
	}
	for i := 0; i < n; i++ {
		if !Unify(x.Elems[i], y.Elems[i], u) {
			return false
		}
	}
	rest := &List{Elems: y.Elems[n:], Tail: y.Tail}
	if x.Tail == nil {
		return len(rest.Elems) == 0 && (rest.Tail == nil || Unify(rest.Tail, &List{}, u))
	}
	if len(rest.Elems) == 0 && rest.Tail != nil {
		return Unify(x.Tail, rest.Tail, u)
	}
	return Unify(x.Tail, rest, u)
}

func occurs(name string, t Term, u Unifier) bool {
	switch v := deref(t, u).(type) {
	case Var:
		return string(v) == name
	case *Struct:
		for _, a := range v.Args {
			if occurs(name, a, u) {
				return true
			}
		}
	case *List:
		for _, e := range v.Elems {
			if occurs(name, e, u) {
				return true
			}
		}
		if v.Tail != nil {
			return occurs(name, v.Tail, u)
		}
	case *Expr:
		if v.Left != nil && occurs(name, v.Left, u) {
			return true
		}
		return occurs(name, v.Right, u)
	}
	return false
}

// matchAnnots succeeds when every annotation of pattern unifies with some
// annotation of target.
func matchAnnots(pattern, target *Struct, u Unifier) bool {
	for _, pa := range pattern.Annots {
		found := false
		for _, ta := range target.Annots {
			trial := u.Clone()
			if Unify(pa, ta, trial) {
				for k, v := range trial {
					u[k] = v
				}
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Apply substitutes every bound variable of t.
func Apply(t Term, u Unifier) Term {
	switch v := deref(t, u).(type) {
	case *Struct:
		if len(v.Args) == 0 && len(v.Annots) == 0 {
			return v
		}
		out := &Struct{Functor: v.Functor, Negated: v.Negated}
		if len(v.Args) > 0 {
			out.Args = make([]Term, len(v.Args))
			for i, a := range v.Args {
				out.Args[i] = Apply(a, u)
			}
		}
		if len(v.Annots) > 0 {
			out.Annots = make([]Term, len(v.Annots))
			for i, a := range v.Annots {
				out.Annots[i] = Apply(a, u)
			}
		}
		return out
	case *List:
		out := &List{Elems: make([]Term, len(v.Elems))}
		for i, e := range v.Elems {
			out.Elems[i] = Apply(e, u)
		}
		if v.Tail != nil {
			tail := Apply(v.Tail, u)
			if tl, ok := tail.(*List); ok {
				out.Elems = append(out.Elems, tl.Elems...)
				out.Tail = tl.Tail
			} else {
				out.Tail = tail
			}
		}
		return out
	case *Expr:
		out := &Expr{Op: v.Op, Right: Apply(v.Right, u)}
		if v.Left != nil {
			out.Left = Apply(v.Left, u)
		}
		return out
	default:
		return v
	}
}

// ApplyLiteral applies u to a literal and keeps its *Struct type.
func ApplyLiteral(s *Struct, u Unifier) *Struct {
	out, _ := Apply(s, u).(*Struct)
	return out
}

// Eval applies u and computes arithmetic. Ground expressions become Numbers;
// anything else is returned applied but unevaluated.
func Eval(t Term, u Unifier) (Term, error) {
	t = Apply(t, u)
	e, ok := t.(*Expr)
	if !ok {
		return t, nil
	}
	if !IsGround(e) {
		return nil, fmt.Errorf("arithmetic on unbound variable in %s", e)
	}
	n, err := evalNumber(e)
	if err != nil {
		return nil, err
	}
	return Number(n), nil
}

func evalNumber(t Term) (float64, error) {
	switch v := t.(type) {
	case Number:
		return float64(v), nil
	case *Expr:
		r, err := evalNumber(v.Right)
		if err != nil {
			return 0, err
		}
		if v.Left == nil {
			return -r, nil
		}
		l, err := evalNumber(v.Left)
		if err != nil {
			return 0, err
		}
		switch v.Op {
		case "+":
			return l + r, nil
		case "-":
			return l - r, nil
		case "*":
			return l * r, nil
		case "/":
			if r == 0 {
				return 0, errors.New("division by zero")
			}
			return l / r, nil
		case "div":
			if int64(r) == 0 {
				return 0, errors.New("division by zero")
			}
			return float64(int64(l) / int64(r)), nil
		case "mod":
			if int64(r) == 0 {
				return 0, errors.New("division by zero")
			}
			return float64(int64(l) % int64(r)), nil
		case "**":
			return math.Pow(l, r), nil
		}
		return 0, fmt.Errorf("unknown operator %q", v.Op)
	case Str:
		if f, err := strconv.ParseFloat(string(v), 64); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", errNotNumber, t)
}

// renameVars replaces every variable of t with a fresh one drawn from next.
// The same variable maps to the same fresh name within one call.
func renameVars(t Term, next func() string, seen map[string]Var) Term {
	switch v := t.(type) {
	case Var:
		if nv, ok := seen[string(v)]; ok {
			return nv
		}
		nv := Var(next())
		seen[string(v)] = nv
		return nv
	case *Struct:
		if IsGround(v) {
			return v
		}
		out := &Struct{Functor: v.Functor, Negated: v.Negated}
		for _, a := range v.Args {
			out.Args = append(out.Args, renameVars(a, next, seen))
		}
		for _, a := range v.Annots {
			out.Annots = append(out.Annots, renameVars(a, next, seen))
		}
		return out
	case *List:
		out := &List{}
		for _, e := range v.Elems {
			out.Elems = append(out.Elems, renameVars(e, next, seen))
		}
		if v.Tail != nil {
			out.Tail = renameVars(v.Tail, next, seen)
		}
		return out
	case *Expr:
		out := &Expr{Op: v.Op, Right: renameVars(v.Right, next, seen)}
		if v.Left != nil {
			out.Left = renameVars(v.Left, next, seen)
		}
		return out
	}
	return t
}

// EvalLiteral applies u to s and computes every ground arithmetic argument,
// so +count(N+1) stores a number rather than an expression.
func EvalLiteral(s *Struct, u Unifier) (*Struct, error) {
	out := ApplyLiteral(s, u)
	if len(out.Args) == 0 {
		return out, nil
	}
	args := make([]Term, len(out.Args))
	for i, a := range out.Args {
		v, err := evalArg(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return &Struct{Functor: out.Functor, Args: args, Annots: out.Annots, Negated: out.Negated}, nil
}

func evalArg(t Term) (Term, error) {
	switch v := t.(type) {
	case *Expr:
		if !IsGround(v) {
			return v, nil
		}
		n, err := evalNumber(v)
		if err != nil {
			return nil, err
		}
		return Number(n), nil
	case *Struct:
		if len(v.Args) == 0 {
			return v, nil
		}
		return EvalLiteral(v, nil)
	}
	return t, nil
}
