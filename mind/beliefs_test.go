package mind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLiteral(t *testing.T, s string) *Struct {
	t.Helper()
	lit, err := ParseLiteral(s)
	require.NoError(t, err)
	return lit
}

func TestBeliefBaseAddMergesAnnotations(t *testing.T) {
	bb := NewBeliefBase()

	assert.True(t, bb.Add(mustLiteral(t, "vl(10)[source(self)]")))
	assert.False(t, bb.Add(mustLiteral(t, "vl(10)[source(self)]")))
	assert.True(t, bb.Add(mustLiteral(t, "vl(10)[source(jomi)]")))
	assert.True(t, bb.Add(mustLiteral(t, "vl(11)[source(self)]")))

	require.Equal(t, 2, bb.Len())
	lits := bb.Literals()
	assert.Equal(t, "vl(10)[source(self),source(jomi)]", lits[0].String())
	assert.Equal(t, "vl(11)[source(self)]", lits[1].String())
}

func TestBeliefBaseRemoveBySource(t *testing.T) {
	bb := NewBeliefBase()
	bb.Add(mustLiteral(t, "vl(10)[source(self),source(jomi)]"))

	before, ok := bb.Remove(mustLiteral(t, "vl(10)[source(jomi)]"), NewUnifier())
	require.True(t, ok)
	assert.Len(t, before.Annots, 2)
	assert.True(t, bb.Contains(mustLiteral(t, "vl(10)")))

	_, ok = bb.Remove(mustLiteral(t, "vl(10)[source(self)]"), NewUnifier())
	require.True(t, ok)
	assert.False(t, bb.Contains(mustLiteral(t, "vl(10)")))
	assert.Zero(t, bb.Len())

	_, ok = bb.Remove(mustLiteral(t, "vl(10)[source(self)]"), NewUnifier())
	assert.False(t, ok)
}

func TestBeliefBaseQuery(t *testing.T) {
	bb := NewBeliefBase()
	bb.Add(mustLiteral(t, "price(banana,45)[source(self)]"))
	bb.Add(mustLiteral(t, "price(apple,20)[source(bob)]"))

	sols := bb.Query(mustLiteral(t, "price(F,P)"), NewUnifier())
	require.Len(t, sols, 2)
	assert.Equal(t, "banana", sols[0].Strings()["F"])
	assert.Equal(t, "20", sols[1].Strings()["P"])

	sols = bb.Query(mustLiteral(t, "price(F,P)[source(bob)]"), NewUnifier())
	require.Len(t, sols, 1)
	assert.Equal(t, "apple", sols[0].Strings()["F"])

	sols = bb.Query(mustLiteral(t, "price(F,P)[source(A)]"), NewUnifier())
	require.Len(t, sols, 2)
	assert.Equal(t, "bob", sols[1].Strings()["A"])
}

func TestBeliefBaseRemoveAll(t *testing.T) {
	bb := NewBeliefBase()
	bb.Add(mustLiteral(t, "count(1)[source(self)]"))
	bb.Add(mustLiteral(t, "count(2)[source(self)]"))
	bb.Add(mustLiteral(t, "count(3)[source(jomi)]"))

	n := bb.RemoveAll(mustLiteral(t, "count(9)"), Source("self"))
	assert.Equal(t, 2, n)
	require.Equal(t, 1, bb.Len())
	assert.Equal(t, "count(3)[source(jomi)]", bb.Literals()[0].String())
}

func TestPlanLibraryLabels(t *testing.T) {
	pl := NewPlanLibrary()
	plans, err := ParsePlans("+!a. @named +!b. +!a(X).")
	require.NoError(t, err)

	labels := pl.Add(plans...)
	assert.Equal(t, []string{"l__1", "named", "l__2"}, labels)

	replacement, err := ParsePlans(`@named +!b <- .print(new).`)
	require.NoError(t, err)
	pl.Add(replacement...)
	assert.Equal(t, 3, pl.Len())
	p, ok := pl.Get("named")
	require.True(t, ok)
	assert.Equal(t, 1, p.Body.Len())

	assert.Len(t, pl.Relevant(Trigger{Op: TriggerAdd, Type: TriggerAchieve, Literal: Atom("a")}), 1)
	assert.Len(t, pl.Relevant(Trigger{Op: TriggerAdd, Type: TriggerAchieve, Literal: NewStruct("a", Number(1))}), 1)
	assert.Empty(t, pl.Relevant(Trigger{Op: TriggerDel, Type: TriggerAchieve, Literal: Atom("a")}))
}

func TestUnifyAndApply(t *testing.T) {
	u := NewUnifier()
	a := mustLiteral(t, "f(X, g(Y), [1, Z])")
	b := mustLiteral(t, "f(1, g(two), [W, 3])")
	require.True(t, Unify(a, b, u))
	assert.Equal(t, "f(1,g(two),[1,3])", Apply(a, u).String())
	assert.Equal(t, map[string]string{"W": "1", "X": "1", "Y": "two", "Z": "3"}, u.Strings())

	assert.False(t, Unify(Var("Q"), mustLiteral(t, "h(Q)"), NewUnifier()), "occurs check")
	assert.False(t, Unify(mustLiteral(t, "f(1)"), mustLiteral(t, "f(2)"), NewUnifier()))
}

func TestEvalLiteralComputesArguments(t *testing.T) {
	u := NewUnifier()
	u["N"] = Number(4)
	lit, err := EvalLiteral(mustLiteral(t, "count(N+1, g(N*2), X)"), u)
	require.NoError(t, err)
	assert.Equal(t, "count(5,g(8),X)", lit.String())

	_, err = EvalLiteral(mustLiteral(t, "count(1/0)"), u)
	assert.Error(t, err)
}
