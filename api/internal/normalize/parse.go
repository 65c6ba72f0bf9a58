// Package normalize turns untrusted model output into typed safety records.
//
// Parse recovers a JSON value from free text through an ordered fallback
// chain; the Coerce* functions map that value onto records, replacing
// malformed fields with defaults instead of failing.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const excerptLimit = 200

// a single fenced block wrapping the whole text, optional json tag
var fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// Value is a parsed JSON document of yet unknown shape.
type Value struct {
	res gjson.Result
}

// ValueOf wraps an already valid JSON document.
func ValueOf(raw string) Value { return Value{res: gjson.Parse(raw)} }

func (v Value) IsArray() bool  { return v.res.IsArray() }
func (v Value) IsObject() bool { return v.res.IsObject() }
func (v Value) Raw() string    { return v.res.Raw }

func (v Value) MarshalJSON() ([]byte, error) {
	if v.res.Raw == "" {
		return []byte("null"), nil
	}
	return []byte(v.res.Raw), nil
}

// ParseFailure reports that no stage recovered JSON. Its fields are for
// diagnostics only.
type ParseFailure struct {
	Excerpt   string // start of the original text
	Attempted string // bracket-salvage candidate, empty if that stage did not run
}

func (e *ParseFailure) Error() string {
	if e.Attempted != "" {
		return fmt.Sprintf("normalize: response is not JSON; raw: %q, substring attempt: %q", e.Excerpt, e.Attempted)
	}
	return fmt.Sprintf("normalize: response is not JSON; no structure found in: %q", e.Excerpt)
}

// Parse tries, in order: the trimmed text as is; the interior of a single
// fenced block spanning the whole text; the span between the first and last
// bracket of the original text. First success wins.
func Parse(text string) (Value, error) {
	trimmed := strings.TrimSpace(text)
	if v, ok := decode(trimmed); ok {
		return v, nil
	}

	if m := fenceRe.FindStringSubmatch(trimmed); m != nil && m[1] != "" {
		if v, ok := decode(strings.TrimSpace(m[1])); ok {
			return v, nil
		}
	}

	candidate := salvage(text)
	if candidate != "" {
		if v, ok := decode(candidate); ok {
			return v, nil
		}
	}
	return Value{}, &ParseFailure{
		Excerpt:   truncate(text, excerptLimit),
		Attempted: truncate(candidate, excerptLimit),
	}
}

func decode(s string) (Value, bool) {
	if s == "" || !gjson.Valid(s) {
		return Value{}, false
	}
	return Value{res: gjson.Parse(s)}, true
}

// salvage picks the object span when its '{' comes before any '[', otherwise
// the array span. It only looks at first/last occurrences, so prose that
// itself contains brackets will produce a wrong candidate.
func salvage(text string) string {
	firstCurly := strings.IndexByte(text, '{')
	lastCurly := strings.LastIndexByte(text, '}')
	firstSquare := strings.IndexByte(text, '[')
	lastSquare := strings.LastIndexByte(text, ']')

	switch {
	case firstCurly != -1 && lastCurly > firstCurly && (firstSquare == -1 || firstCurly < firstSquare):
		return strings.TrimSpace(text[firstCurly : lastCurly+1])
	case firstSquare != -1 && lastSquare > firstSquare:
		return strings.TrimSpace(text[firstSquare : lastSquare+1])
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
