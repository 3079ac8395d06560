package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// AnswerKind tags the shape held by an AnswerValue.
type AnswerKind uint8

const (
	AnswerNone AnswerKind = iota
	AnswerScalar
	AnswerSet
)

func (k AnswerKind) String() string {
	switch k {
	case AnswerScalar:
		return "scalar"
	case AnswerSet:
		return "set"
	default:
		return "none"
	}
}

// AnswerValue is either a single value or an unordered set of values. It is
// used both for submitted answers and for a question's answer key.
// On the wire a scalar is a JSON string and a set is a JSON array of strings.
type AnswerValue struct {
	kind   AnswerKind
	scalar string
	set    []string
}

// Scalar builds a single-valued answer.
func Scalar(v string) AnswerValue {
	return AnswerValue{kind: AnswerScalar, scalar: v}
}

// Set builds a set-valued answer. Duplicates are kept as given; comparison
// treats the values as a set.
func Set(vs ...string) AnswerValue {
	cp := make([]string, len(vs))
	copy(cp, vs)
	return AnswerValue{kind: AnswerSet, set: cp}
}

func (a AnswerValue) Kind() AnswerKind { return a.kind }

// IsZero reports whether no answer was given. An empty set or a blank scalar
// counts as unanswered.
func (a AnswerValue) IsZero() bool {
	switch a.kind {
	case AnswerScalar:
		return strings.TrimSpace(a.scalar) == ""
	case AnswerSet:
		return len(a.set) == 0
	default:
		return true
	}
}

// ScalarValue returns the scalar, or "" for a set.
func (a AnswerValue) ScalarValue() string { return a.scalar }

// Values returns a copy of the set members, or a single-element slice for a scalar.
func (a AnswerValue) Values() []string {
	switch a.kind {
	case AnswerScalar:
		return []string{a.scalar}
	case AnswerSet:
		out := make([]string, len(a.set))
		copy(out, a.set)
		return out
	default:
		return nil
	}
}

func (a AnswerValue) String() string {
	switch a.kind {
	case AnswerScalar:
		return a.scalar
	case AnswerSet:
		return "{" + strings.Join(a.set, ",") + "}"
	default:
		return ""
	}
}

func (a AnswerValue) MarshalJSON() ([]byte, error) {
	switch a.kind {
	case AnswerScalar:
		return json.Marshal(a.scalar)
	case AnswerSet:
		if a.set == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.set)
	default:
		return []byte("null"), nil
	}
}

var errAnswerShape = errors.New("answer must be a string, number or array of strings")

func (a *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = AnswerValue{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Scalar(s)
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		vals := make([]string, 0, len(raw))
		for _, r := range raw {
			v, err := scalarText(r)
			if err != nil {
				return err
			}
			vals = append(vals, v)
		}
		*a = Set(vals...)
		return nil
	default:
		v, err := scalarText(data)
		if err != nil {
			return err
		}
		*a = Scalar(v)
		return nil
	}
}

// scalarText accepts a JSON string or number and returns its text form.
func scalarText(data []byte) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("%w: %s", errAnswerShape, data)
	}
	return n.String(), nil
}

// AnswerSheet maps question IDs to the participant's accumulated answers.
type AnswerSheet map[string]AnswerValue
