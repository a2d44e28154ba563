package dongle

import (
	"regexp"
	"strings"
)

var (
	// Greedy to the last ')' on the line. Nested calls after the aggregate
	// on the same line are swallowed into the capture.
	groupConcatCall  = regexp.MustCompile(`(?i)group_concat\((.+)\)`)
	groupConcatName  = regexp.MustCompile(`(?i)group_concat\(`)
	separatorKeyword = regexp.MustCompile(`(?i)(\s+separator)+\s+`)
	leadingAggArg    = regexp.MustCompile(`\(([\w.]+),`)

	concatCall = regexp.MustCompile(`(?i)\b(group_)?concat\s*\(`)

	ifNullCall = regexp.MustCompile(`(?i)\bifnull\s*\(`)

	// The literal must be followed by whitespace or the end of the fragment.
	// That boundary is checked by hand so it is not consumed.
	booleanComparison = regexp.MustCompile(`(?i)(\w+)(\s*)(=|<>)(\s*)(true|false)`)
)

// rule is one step of the rewrite pipeline.
type rule struct {
	name  string
	apply func(sql string, f Features) string
}

// Order matters: field-concat must see aggregate calls only after the
// aggregate rule has had its turn, and skips them explicitly.
var pipeline = []rule{
	{"aggregate-concat", rewriteAggregateConcat},
	{"field-concat", rewriteFieldConcat},
	{"null-coalesce", rewriteNullCoalesce},
	{"boolean-literal", normalizeBooleanLiteral},
}

func rewriteAggregateConcat(sql string, f Features) string {
	if !f.UnifySeparator && !f.CastAggregateArgs && f.AggregateFunc == "" {
		return sql
	}

	return groupConcatCall.ReplaceAllStringFunc(sql, func(call string) string {
		if m := groupConcatCall.FindStringSubmatch(call); len(m) < 2 || m[1] == "" {
			return call
		}
		if f.UnifySeparator {
			call = separatorKeyword.ReplaceAllLiteralString(call, ", ")
		}
		if f.CastAggregateArgs {
			call = leadingAggArg.ReplaceAllString(call, "(${1}::VARCHAR,")
		}
		if f.AggregateFunc != "" {
			call = groupConcatName.ReplaceAllLiteralString(call, f.AggregateFunc+"(")
		}
		return call
	})
}

func rewriteFieldConcat(sql string, f Features) string {
	if f.ConcatOperator == "" {
		return sql
	}
	return replaceConcatCalls(sql, " "+f.ConcatOperator+" ")
}

// replaceConcatCalls rewrites every CONCAT(...) call outside quotes into its
// fields joined by sep.
func replaceConcatCalls(sql, sep string) string {
	if !concatCall.MatchString(sql) {
		return sql
	}
	var out strings.Builder
	out.Grow(len(sql))
	newConcatScan(sql).rewrite(&out, 0, len(sql), sep)
	return out.String()
}

func rewriteNullCoalesce(sql string, f Features) string {
	if f.NullCoalesceFunc == "" {
		return sql
	}
	return ifNullCall.ReplaceAllLiteralString(sql, f.NullCoalesceFunc+"(")
}

func normalizeBooleanLiteral(sql string, f Features) string {
	if !f.IntegerBooleans {
		return sql
	}

	var (
		out     strings.Builder
		written int
		pos     int
		changed bool
	)
	for pos < len(sql) {
		loc := booleanComparison.FindStringSubmatchIndex(sql[pos:])
		if loc == nil {
			break
		}
		litStart, litEnd := pos+loc[10], pos+loc[11]
		if litEnd < len(sql) && !isSpace(sql[litEnd]) {
			pos += loc[0] + 1
			continue
		}

		out.WriteString(sql[written:litStart])
		if strings.EqualFold(sql[litStart:litEnd], "true") {
			out.WriteByte('1')
		} else {
			out.WriteByte('0')
		}
		written = litEnd
		changed = true
		// The literal may be the left operand of the next comparison.
		pos = litStart
	}
	if !changed {
		return sql
	}
	out.WriteString(sql[written:])
	return out.String()
}

// castExpr wraps expr in an explicit CAST for dialects that need it.
func castExpr(expr, asType string, f Features) string {
	if !f.ExplicitCasts {
		return expr
	}
	return "CAST(" + expr + " AS " + asType + ")"
}
