package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nevilshah235/claimledger-sub000/internal/schema"
)

func TestValidate_RequiredField(t *testing.T) {
	s := schema.Schema{Required: []string{"confidence"}}
	ok, errs := schema.Validate(map[string]any{}, s)
	assert.False(t, ok)
	if assert.Len(t, errs, 1) {
		assert.Equal(t, "confidence", errs[0].Path)
		assert.Equal(t, "required", errs[0].Rule)
	}
}

func TestValidate_Enum(t *testing.T) {
	s := schema.Schema{Enums: map[string][]string{"risk_level": {"LOW", "MEDIUM", "HIGH"}}}

	ok, _ := schema.Validate(map[string]any{"risk_level": "LOW"}, s)
	assert.True(t, ok)

	ok, errs := schema.Validate(map[string]any{"risk_level": "EXTREME"}, s)
	assert.False(t, ok)
	assert.Len(t, errs, 1)
}

func TestValidate_Range(t *testing.T) {
	s := schema.Schema{Ranges: map[string][2]float64{"confidence": {0, 1}}}

	ok, _ := schema.Validate(map[string]any{"confidence": 0.5}, s)
	assert.True(t, ok)

	ok, errs := schema.Validate(map[string]any{"confidence": 1.5}, s)
	assert.False(t, ok)
	assert.Len(t, errs, 1)
}

func TestValidate_Nested(t *testing.T) {
	s := schema.Schema{
		Nested: map[string]schema.Schema{
			"metadata": {Required: []string{"extraction_method"}},
		},
	}
	ok, errs := schema.Validate(map[string]any{"metadata": map[string]any{}}, s)
	assert.False(t, ok)
	assert.Equal(t, "metadata.extraction_method", errs[0].Path)
}

func TestValidate_ArrayOf(t *testing.T) {
	s := schema.Schema{
		ArrayOf: map[string]schema.Schema{
			"line_items": {Required: []string{"item_name"}},
		},
	}
	ok, errs := schema.Validate(map[string]any{
		"line_items": []any{
			map[string]any{"item_name": "widget"},
			map[string]any{},
		},
	}, s)
	assert.False(t, ok)
	assert.Equal(t, "line_items[1].item_name", errs[0].Path)
}

func TestRepairable(t *testing.T) {
	assert.True(t, schema.Repairable([]schema.FieldError{{Rule: "required"}}))
	assert.False(t, schema.Repairable([]schema.FieldError{{Rule: "required"}, {Rule: "enum"}}))
	assert.False(t, schema.Repairable(nil))
}

func TestValidate_NeverPanicsOnWrongTypes(t *testing.T) {
	s := schema.Schema{
		Nested:  map[string]schema.Schema{"metadata": {}},
		ArrayOf: map[string]schema.Schema{"line_items": {}},
		Ranges:  map[string][2]float64{"confidence": {0, 1}},
		Enums:   map[string][]string{"severity": {"minor"}},
	}
	payload := map[string]any{
		"metadata":   "not-an-object",
		"line_items": "not-an-array",
		"confidence": "not-a-number",
		"severity":   42,
	}
	assert.NotPanics(t, func() {
		ok, errs := schema.Validate(payload, s)
		assert.False(t, ok)
		assert.Len(t, errs, 4)
	})
}
