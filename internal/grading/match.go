package grading

import (
	"strings"

	"github.com/stemsi/exstem-session/internal/model"
)

// Match reports whether submitted satisfies the answer key.
//
//	set    vs set    : equal as sets, order ignored, no partial overlap
//	set    vs scalar : scalar is a member of the correct set
//	scalar vs set    : the set holds exactly one value, equal to the scalar
//	scalar vs scalar : equal after trimming
//
// Every value is trimmed; case folding follows the engine configuration.
func (e *Engine) Match(correct, submitted model.AnswerValue) bool {
	if submitted.IsZero() {
		return false
	}

	switch correct.Kind() {
	case model.AnswerSet:
		want := e.toSet(correct.Values())
		if len(want) == 0 {
			return false
		}
		switch submitted.Kind() {
		case model.AnswerSet:
			return setEqual(want, e.toSet(submitted.Values()))
		case model.AnswerScalar:
			_, ok := want[e.norm(submitted.ScalarValue())]
			return ok
		}

	case model.AnswerScalar:
		want := e.norm(correct.ScalarValue())
		switch submitted.Kind() {
		case model.AnswerSet:
			got := e.toSet(submitted.Values())
			if len(got) != 1 {
				return false
			}
			_, ok := got[want]
			return ok
		case model.AnswerScalar:
			return e.norm(submitted.ScalarValue()) == want
		}
	}

	return false
}

func (e *Engine) norm(s string) string {
	s = strings.TrimSpace(s)
	if !e.caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

func (e *Engine) toSet(vals []string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		n := e.norm(v)
		if n == "" {
			continue
		}
		m[n] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
