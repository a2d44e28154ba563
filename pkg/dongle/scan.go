package dongle

import (
	"sort"
	"strings"
)

// The scanner understands just enough SQL to find call boundaries: nesting
// depth and quoted spans. Quote characters toggle state, so a doubled quote
// inside a literal ('it''s') closes and reopens it without harm. Inside '...'
// and "..." a backslash escapes the next byte, as in MySQL's default mode.

// concatScan indexes a fragment once so every CONCAT call can be rewritten
// without rescanning the text for each call.
type concatScan struct {
	sql string

	// quoted[i] is true when byte i belongs to a quoted span.
	quoted []bool
	// closeAt maps the index of a '(' to its matching ')'.
	closeAt map[int]int
	// commas maps the index of a '(' to its top-level commas.
	commas map[int][]int
	// calls holds concatCall submatch indexes in order of appearance.
	calls [][]int
}

func newConcatScan(sql string) *concatScan {
	s := &concatScan{
		sql:     sql,
		quoted:  make([]bool, len(sql)),
		closeAt: make(map[int]int),
		commas:  make(map[int][]int),
		calls:   concatCall.FindAllStringSubmatchIndex(sql, -1),
	}

	var (
		open []int
		q    byte
	)
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if q != 0 {
			s.quoted[i] = true
			switch {
			case c == '\\' && q != '`':
				if i+1 < len(sql) {
					i++
					s.quoted[i] = true
				}
			case c == q:
				q = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			q = c
			s.quoted[i] = true
		case '(':
			open = append(open, i)
		case ')':
			if n := len(open); n > 0 {
				s.closeAt[open[n-1]] = i
				open = open[:n-1]
			}
		case ',':
			if n := len(open); n > 0 {
				s.commas[open[n-1]] = append(s.commas[open[n-1]], i)
			}
		}
	}
	return s
}

// rewrite writes sql[lo:hi] to out with every CONCAT(...) call in that range
// replaced by its trimmed fields joined by sep. Nested calls flatten into the
// same chain. GROUP_CONCAT, quoted text, unclosed and empty calls are copied
// through the '(' and scanning continues inside them.
func (s *concatScan) rewrite(out *strings.Builder, lo, hi int, sep string) {
	pos := lo
	for {
		k := sort.Search(len(s.calls), func(i int) bool { return s.calls[i][0] >= pos })
		if k == len(s.calls) || s.calls[k][1] > hi {
			break
		}
		m := s.calls[k]
		start, afterOpen := m[0], m[1]
		open := afterOpen - 1
		isAggregate := m[2] >= 0

		out.WriteString(s.sql[pos:start])

		end, closed := s.closeAt[open]
		if first, last := trimSpan(s.sql, afterOpen, end); isAggregate || s.quoted[start] ||
			!closed || end > hi || first == last {
			out.WriteString(s.sql[start:afterOpen])
			pos = afterOpen
			continue
		}

		fieldStart := afterOpen
		bounds := append(append([]int(nil), s.commas[open]...), end)
		for i, bound := range bounds {
			if i > 0 {
				out.WriteString(sep)
			}
			a, b := trimSpan(s.sql, fieldStart, bound)
			s.rewrite(out, a, b, sep)
			fieldStart = bound + 1
		}
		pos = end + 1
	}
	out.WriteString(s.sql[pos:hi])
}

// trimSpan narrows [lo, hi) to exclude leading and trailing whitespace.
func trimSpan(s string, lo, hi int) (int, int) {
	for lo < hi && isSpace(s[lo]) {
		lo++
	}
	for hi > lo && isSpace(s[hi-1]) {
		hi--
	}
	return lo, hi
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\f', '\r':
		return true
	}
	return false
}
