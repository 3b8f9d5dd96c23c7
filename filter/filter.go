// Package filter compiles user-supplied filter specifications into a single
// predicate over consumer records. Specs compose with logical AND and are
// evaluated left to right, so the cheapest spec should come first.
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hugolhafner/ktail/kafka"
)

// Field names the part of a record a spec is evaluated against.
type Field string

const (
	FieldKey         Field = "key"
	FieldValue       Field = "value"
	FieldHeaderKey   Field = "header_key"
	FieldHeaderValue Field = "header_value"
	FieldTopic       Field = "topic"
	FieldPartition   Field = "partition"
	FieldOffset      Field = "offset"
)

// Op is the comparison a spec applies to a field.
type Op string

const (
	OpEquals      Op = "equals"
	OpNotEquals   Op = "not_equals"
	OpContains    Op = "contains"
	OpNotContains Op = "not_contains"
	OpStartsWith  Op = "starts_with"
	OpEndsWith    Op = "ends_with"
	OpMatches     Op = "matches"
)

// Spec is one predicate descriptor. Specs are immutable values; replacing a
// filter list means swapping in a new slice, never mutating in place.
//
// Header fields are evaluated per header and the spec passes when any single
// header satisfies the operator. This is existential for the negated
// operators too: not_equals on header_key passes when some header key
// differs, not only when none matches.
type Spec struct {
	Field           Field  `json:"field"`
	Op              Op     `json:"op"`
	Value           string `json:"value"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
}

// Predicate reports whether a record passes a compiled filter list.
type Predicate func(kafka.ConsumerRecord) bool

// All accepts every record. An empty spec list compiles to it.
func All(kafka.ConsumerRecord) bool { return true }

// Compile builds a single AND-composed predicate from the given specs.
// Compilation is pure: the same spec list always yields a predicate with
// identical accept/reject behaviour. Invalid specs fail compilation.
func Compile(specs []Spec) (Predicate, error) {
	if len(specs) == 0 {
		return All, nil
	}

	compiled := make([]Predicate, len(specs))
	for i, spec := range specs {
		p, err := compileOne(spec)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		compiled[i] = p
	}

	return func(rec kafka.ConsumerRecord) bool {
		for _, p := range compiled {
			if !p(rec) {
				return false
			}
		}
		return true
	}, nil
}

func compileOne(spec Spec) (Predicate, error) {
	match, err := compileMatcher(spec)
	if err != nil {
		return nil, err
	}

	extract, err := compileExtractor(spec.Field)
	if err != nil {
		return nil, err
	}

	return func(rec kafka.ConsumerRecord) bool {
		for _, candidate := range extract(rec) {
			if match(candidate) {
				return true
			}
		}
		return false
	}, nil
}

// matcher tests one candidate string against the spec's value.
type matcher func(string) bool

func compileMatcher(spec Spec) (matcher, error) {
	value := spec.Value
	fold := func(s string) string { return s }
	if spec.CaseInsensitive {
		value = strings.ToLower(value)
		fold = strings.ToLower
	}

	switch spec.Op {
	case OpEquals:
		return func(s string) bool { return fold(s) == value }, nil
	case OpNotEquals:
		return func(s string) bool { return fold(s) != value }, nil
	case OpContains:
		return func(s string) bool { return strings.Contains(fold(s), value) }, nil
	case OpNotContains:
		return func(s string) bool { return !strings.Contains(fold(s), value) }, nil
	case OpStartsWith:
		return func(s string) bool { return strings.HasPrefix(fold(s), value) }, nil
	case OpEndsWith:
		return func(s string) bool { return strings.HasSuffix(fold(s), value) }, nil
	case OpMatches:
		expr := spec.Value
		if spec.CaseInsensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", spec.Value, err)
		}
		return re.MatchString, nil
	default:
		return nil, fmt.Errorf("unknown filter op %q", spec.Op)
	}
}

// extractor yields the candidate strings a record offers for a field.
// Header fields yield one candidate per header.
type extractor func(kafka.ConsumerRecord) []string

func compileExtractor(field Field) (extractor, error) {
	switch field {
	case FieldKey:
		return func(rec kafka.ConsumerRecord) []string { return []string{string(rec.Key)} }, nil
	case FieldValue:
		return func(rec kafka.ConsumerRecord) []string { return []string{string(rec.Value)} }, nil
	case FieldTopic:
		return func(rec kafka.ConsumerRecord) []string { return []string{rec.Topic} }, nil
	case FieldPartition:
		return func(rec kafka.ConsumerRecord) []string {
			return []string{strconv.FormatInt(int64(rec.Partition), 10)}
		}, nil
	case FieldOffset:
		return func(rec kafka.ConsumerRecord) []string {
			return []string{strconv.FormatInt(rec.Offset, 10)}
		}, nil
	case FieldHeaderKey:
		return func(rec kafka.ConsumerRecord) []string {
			candidates := make([]string, len(rec.Headers))
			for i, h := range rec.Headers {
				candidates[i] = h.Key
			}
			return candidates
		}, nil
	case FieldHeaderValue:
		return func(rec kafka.ConsumerRecord) []string {
			candidates := make([]string, len(rec.Headers))
			for i, h := range rec.Headers {
				candidates[i] = string(h.Value)
			}
			return candidates
		}, nil
	default:
		return nil, fmt.Errorf("unknown filter field %q", field)
	}
}
