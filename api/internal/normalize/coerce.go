package normalize

import (
	"errors"
	"math"

	"github.com/tidwall/gjson"
)

const (
	// NotApplicable replaces text fields the model did not fill with a string.
	NotApplicable = "해당 없음"
	// DefaultRating replaces severity/likelihood values outside [1,5].
	DefaultRating = 3

	minRating = 1
	maxRating = 5
)

var ErrSchemaMismatch = errors.New("normalize: unrecognized response shape")

// Hazard is one row of a risk assessment. Severity and Likelihood are always in [1,5].
type Hazard struct {
	ID              string `json:"id,omitempty"`
	Description     string `json:"description"`
	Severity        int    `json:"severity"`
	Likelihood      int    `json:"likelihood"`
	Countermeasures string `json:"countermeasures"`
}

// Score is the risk score used to rank hazards.
func (h Hazard) Score() int { return h.Severity * h.Likelihood }

// Level buckets Score the way site risk matrices usually do.
func (h Hazard) Level() string {
	switch s := h.Score(); {
	case s >= 15:
		return "high"
	case s >= 8:
		return "medium"
	default:
		return "low"
	}
}

// PhotoAnalysis is the result of a site photo review. Fields are never nil.
type PhotoAnalysis struct {
	Hazards              []string `json:"hazards"`
	EngineeringSolutions []string `json:"engineeringSolutions"`
	ManagementSolutions  []string `json:"managementSolutions"`
	RelatedRegulations   []string `json:"relatedRegulations"`
}

// Shape is the outcome of structural disambiguation.
type Shape int

const (
	ShapeUnrecognized Shape = iota
	ShapeHazardList         // top-level array
	ShapeSingleHazard       // one hazard object
	ShapeWrappedList        // {"anyKey": [...]}
)

func (s Shape) String() string {
	switch s {
	case ShapeHazardList:
		return "hazard_list"
	case ShapeSingleHazard:
		return "single_hazard"
	case ShapeWrappedList:
		return "wrapped_list"
	default:
		return "unrecognized"
	}
}

// Classify runs the decision tree used by CoerceHazardList.
func Classify(v Value) Shape {
	r := v.res
	switch {
	case r.IsArray():
		return ShapeHazardList
	case !r.IsObject():
		return ShapeUnrecognized
	case looksLikeHazard(r):
		return ShapeSingleHazard
	}
	if _, ok := singleKeyArray(r); ok {
		return ShapeWrappedList
	}
	return ShapeUnrecognized
}

// CoerceHazardList accepts an array of hazards, a single hazard object, or an
// object with exactly one key holding the array. Anything else is ErrSchemaMismatch.
func CoerceHazardList(v Value) ([]Hazard, error) {
	switch Classify(v) {
	case ShapeHazardList:
		return coerceAll(v.res), nil
	case ShapeSingleHazard:
		return []Hazard{CoerceHazard(v.res)}, nil
	case ShapeWrappedList:
		list, _ := singleKeyArray(v.res)
		return coerceAll(list), nil
	default:
		return nil, ErrSchemaMismatch
	}
}

// CoerceAdditionalHazards is the lenient variant used when asking for more
// hazards: an unexpected shape yields an empty list rather than an error.
func CoerceAdditionalHazards(v Value) []Hazard {
	r := v.res
	if r.IsArray() {
		return coerceAll(r)
	}
	if r.IsObject() && truthy(r.Get("description")) {
		return []Hazard{CoerceHazard(r)}
	}
	return []Hazard{}
}

// CoerceHazard maps one element; it never fails.
func CoerceHazard(r gjson.Result) Hazard {
	return Hazard{
		Description:     text(r.Get("description")),
		Severity:        rating(r.Get("severity")),
		Likelihood:      rating(r.Get("likelihood")),
		Countermeasures: text(r.Get("countermeasures")),
	}
}

// CoercePhotoAnalysis keeps each expected field when it is an array and
// substitutes an empty one otherwise. Elements are not validated; non-string
// elements keep their JSON text.
func CoercePhotoAnalysis(v Value) PhotoAnalysis {
	r := v.res
	if !r.IsObject() {
		r = gjson.Result{}
	}
	return PhotoAnalysis{
		Hazards:              stringList(r.Get("hazards")),
		EngineeringSolutions: stringList(r.Get("engineeringSolutions")),
		ManagementSolutions:  stringList(r.Get("managementSolutions")),
		RelatedRegulations:   stringList(r.Get("relatedRegulations")),
	}
}

func coerceAll(list gjson.Result) []Hazard {
	items := list.Array()
	out := make([]Hazard, 0, len(items))
	for _, it := range items {
		out = append(out, CoerceHazard(it))
	}
	return out
}

func looksLikeHazard(r gjson.Result) bool {
	return truthy(r.Get("description")) &&
		r.Get("severity").Type == gjson.Number &&
		r.Get("likelihood").Type == gjson.Number
}

// singleKeyArray returns the array under the only key of r. Duplicate keys
// count once and the last value wins, as a JSON object would behave.
func singleKeyArray(r gjson.Result) (gjson.Result, bool) {
	values := map[string]gjson.Result{}
	r.ForEach(func(k, v gjson.Result) bool {
		values[k.String()] = v
		return true
	})
	if len(values) != 1 {
		return gjson.Result{}, false
	}
	for _, v := range values {
		if v.IsArray() {
			return v, true
		}
	}
	return gjson.Result{}, false
}

func text(r gjson.Result) string {
	if r.Type == gjson.String {
		return r.Str
	}
	return NotApplicable
}

func rating(r gjson.Result) int {
	if r.Type != gjson.Number {
		return DefaultRating
	}
	f := r.Num
	if math.IsNaN(f) || f < minRating || f > maxRating {
		return DefaultRating
	}
	return int(math.Round(f))
}

func stringList(r gjson.Result) []string {
	if !r.IsArray() {
		return []string{}
	}
	items := r.Array()
	out := make([]string, 0, len(items))
	for _, it := range items {
		// non-strings keep their JSON text; String() would turn null into ""
		if it.Type == gjson.String {
			out = append(out, it.Str)
		} else {
			out = append(out, it.Raw)
		}
	}
	return out
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	default:
		return true
	}
}
