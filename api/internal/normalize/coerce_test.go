package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceHazardList(t *testing.T) {
	t.Run("Should default out-of-range and wrong-type fields", func(t *testing.T) {
		v := ValueOf(`[{"description":"x","severity":7,"likelihood":"bad","countermeasures":1}]`)
		got, err := CoerceHazardList(v)
		require.NoError(t, err)
		assert.Equal(t, []Hazard{{
			Description:     "x",
			Severity:        DefaultRating,
			Likelihood:      DefaultRating,
			Countermeasures: NotApplicable,
		}}, got)
	})
	t.Run("Should pass valid fields through", func(t *testing.T) {
		v := ValueOf(`[{"description":"추락","severity":5,"likelihood":1,"countermeasures":"난간 설치"}]`)
		got, err := CoerceHazardList(v)
		require.NoError(t, err)
		assert.Equal(t, Hazard{Description: "추락", Severity: 5, Likelihood: 1, Countermeasures: "난간 설치"}, got[0])
	})
	t.Run("Should wrap a single hazard object", func(t *testing.T) {
		v := ValueOf(`{"description":"감전","severity":4,"likelihood":2}`)
		got, err := CoerceHazardList(v)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "감전", got[0].Description)
		assert.Equal(t, NotApplicable, got[0].Countermeasures)
	})
	t.Run("Should unwrap an object with one array key", func(t *testing.T) {
		v := ValueOf(`{"hazards":[{"description":"a"},{"description":"b","severity":2}]}`)
		got, err := CoerceHazardList(v)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[1].Description)
		assert.Equal(t, 2, got[1].Severity)
	})
	t.Run("Should return an empty, non-nil list for an empty array", func(t *testing.T) {
		got, err := CoerceHazardList(ValueOf(`[]`))
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
	t.Run("Should reject unrecognized shapes", func(t *testing.T) {
		for _, raw := range []string{
			`{"a":[1],"b":[2]}`,
			`{"hazards":"none"}`,
			`{"description":"x","severity":"high","likelihood":2}`,
			`"just text"`,
			`42`,
		} {
			_, err := CoerceHazardList(ValueOf(raw))
			assert.ErrorIs(t, err, ErrSchemaMismatch, raw)
		}
	})
	t.Run("Should round fractional ratings", func(t *testing.T) {
		got, err := CoerceHazardList(ValueOf(`[{"severity":2.6,"likelihood":0.5}]`))
		require.NoError(t, err)
		assert.Equal(t, 3, got[0].Severity)
		assert.Equal(t, DefaultRating, got[0].Likelihood)
	})
}

func TestClassify(t *testing.T) {
	cases := map[string]Shape{
		`[]`: ShapeHazardList,
		`{"description":"d","severity":1,"likelihood":1}`: ShapeSingleHazard,
		`{"items":[]}`:      ShapeWrappedList,
		`{"description":""}`: ShapeUnrecognized,
		`null`:               ShapeUnrecognized,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Classify(ValueOf(raw)), raw)
	}
	assert.Equal(t, "wrapped_list", ShapeWrappedList.String())
}

func TestCoercePhotoAnalysis(t *testing.T) {
	t.Run("Should fill missing fields with empty arrays", func(t *testing.T) {
		got := CoercePhotoAnalysis(ValueOf(`{"hazards":["h1"]}`))
		assert.Equal(t, PhotoAnalysis{
			Hazards:              []string{"h1"},
			EngineeringSolutions: []string{},
			ManagementSolutions:  []string{},
			RelatedRegulations:   []string{},
		}, got)

		b, err := json.Marshal(got)
		require.NoError(t, err)
		assert.JSONEq(t, `{"hazards":["h1"],"engineeringSolutions":[],"managementSolutions":[],"relatedRegulations":[]}`, string(b))
	})
	t.Run("Should replace non-array fields", func(t *testing.T) {
		got := CoercePhotoAnalysis(ValueOf(`{"hazards":"h1","relatedRegulations":["산업안전보건법 제38조"]}`))
		assert.Empty(t, got.Hazards)
		assert.NotNil(t, got.Hazards)
		assert.Equal(t, []string{"산업안전보건법 제38조"}, got.RelatedRegulations)
	})
	t.Run("Should keep non-string elements as their JSON text", func(t *testing.T) {
		got := CoercePhotoAnalysis(ValueOf(`{"hazards":[null,1,true,"x",{"a":1}]}`))
		assert.Equal(t, []string{"null", "1", "true", "x", `{"a":1}`}, got.Hazards)
	})
	t.Run("Should yield empty record for an array value", func(t *testing.T) {
		got := CoercePhotoAnalysis(ValueOf(`["h1"]`))
		assert.Empty(t, got.Hazards)
		assert.NotNil(t, got.ManagementSolutions)
	})
}

func TestCoerceAdditionalHazards(t *testing.T) {
	assert.Len(t, CoerceAdditionalHazards(ValueOf(`[{"description":"a"},{}]`)), 2)
	assert.Len(t, CoerceAdditionalHazards(ValueOf(`{"description":"a","severity":"x"}`)), 1)
	got := CoerceAdditionalHazards(ValueOf(`{"items":[{"description":"a"}]}`))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestHazardLevel(t *testing.T) {
	assert.Equal(t, "high", Hazard{Severity: 5, Likelihood: 3}.Level())
	assert.Equal(t, "medium", Hazard{Severity: 4, Likelihood: 2}.Level())
	assert.Equal(t, "low", Hazard{Severity: 1, Likelihood: 5}.Level())
}
