/*
Package expr evaluates boolean predicates over graph state.

It backs condition-based routing and hook predicates: a predicate string
is evaluated against the current state map (channel name -> value) and
yields true or false.

# Syntax

	<expr> := <comparison>
	        | <expr> 'and' <expr>
	        | <expr> 'or' <expr>
	        | 'not' <expr>
	        | '!' <expr>
	        | <value>

	<comparison> := <value> <op> <value>
	<op> := '==' | '!=' | '<' | '>' | '<=' | '>=' | 'contains'
	<value> := 'string' | "string" | number | true | false | null | identifier

Equality compares string representations; the ordering operators compare
numerically. Identifiers resolve from the vars map, and dotted
identifiers walk nested maps, matching the shape of state restored from
JSON checkpoints:

	vars := map[string]any{
	    "status": "ready",
	    "review": map[string]any{"score": 0.92},
	}
	expr.Eval("status == 'ready'", vars)       // true
	expr.Eval("review.score >= 0.9", vars)     // true
	expr.Eval("retries < 3 and not done", vars)

Single values evaluate by truthiness: nil and empty strings and zero
numbers are false, everything else is true.

# Custom operators

	e := expr.New(
	    expr.WithCustomOperator("matches", func(left, right any) bool {
	        ok, _ := regexp.MatchString(fmt.Sprint(right), fmt.Sprint(left))
	        return ok
	    }),
	)
	e.Evaluate("branch matches '^feat/'", vars)
*/
package expr
