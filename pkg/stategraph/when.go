package stategraph

import (
	"github.com/randalmurphal/stategraph/pkg/stategraph/expr"
)

// When builds a two-way router from a boolean predicate over state,
// for conditional edges that don't warrant a hand-written RouterFunc:
//
//	g.AddConditionalEdges("review",
//		stategraph.When("score >= 0.8", "publish", "revise"), nil)
//
// The predicate syntax is the expr package's: comparisons, and/or/not,
// contains, dotted paths into nested state. A predicate that fails to
// evaluate routes to elseTarget and logs a warning; routing stays
// deterministic either way.
func When(predicate, thenTarget, elseTarget string) RouterFunc {
	return func(ctx Context, state State) []string {
		ok, err := expr.Eval(predicate, state)
		if err != nil {
			ctx.Logger().Warn("condition evaluation failed",
				"predicate", predicate, "error", err.Error())
			return []string{elseTarget}
		}
		if ok {
			return []string{thenTarget}
		}
		return []string{elseTarget}
	}
}
