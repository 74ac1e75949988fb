package customfield

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strOrNone(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func TestDetectCategory(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"unit_cost", "financial"},
		{"retail_price", "financial"},
		{"vendor_name", "vendor"},
		{"preferred_supplier", "vendor"},
		{"bin_location", "logistics"},
		{"country_of_origin", "logistics"},
		{"subcategory", "classification"},
		{"discontinued_flag", "status"},
		{"last_ordered_date", "dates"},
		{"internal_notes", "notes"},
		{"widget_color", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strOrNone(DetectCategory(tt.name)))
		})
	}
}

func TestDetectCategoryPriority(t *testing.T) {
	// "cost" outranks "vendor" when a name matches both tables.
	assert.Equal(t, "financial", strOrNone(DetectCategory("vendor_cost")))
}

func TestGenerateDisplayName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"unit_cost", "Unit Cost"},
		{"leadTime", "Lead Time"},
		{"country_of_origin", "Country Of Origin"},
		{"moq", "Moq"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GenerateDisplayName(tt.in), tt.in)
	}
}

func TestDetectFormatPattern(t *testing.T) {
	assert.Equal(t, "$#,##0.00", strOrNone(DetectFormatPattern("unit_cost", "numeric")))
	assert.Equal(t, "0.0%", strOrNone(DetectFormatPattern("discount_rate", "numeric_positive")))
	assert.Equal(t, "#,##0.0 lbs", strOrNone(DetectFormatPattern("case_weight", "numeric")))
	assert.Equal(t, "", strOrNone(DetectFormatPattern("pack_count", "numeric")))
	// Never formats non-numeric fields, keyword match or not.
	assert.Nil(t, DetectFormatPattern("unit_cost", "text"))
}

func TestDetectAggregationType(t *testing.T) {
	assert.Equal(t, "sum", strOrNone(DetectAggregationType("unit_cost", "numeric")))
	assert.Equal(t, "avg", strOrNone(DetectAggregationType("lead_time_days", "numeric_integer")))
	assert.Equal(t, "sum", strOrNone(DetectAggregationType("case_weight", "numeric")))
	// Numeric fields with no keyword hit default to sum.
	assert.Equal(t, "sum", strOrNone(DetectAggregationType("pack_count", "numeric")))
	assert.Nil(t, DetectAggregationType("vendor_name", "text"))
}

func TestDecodeValueBagEntries(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want FieldValue
	}{
		{"numeric", `{"value": 12.5, "dataType": "numeric"}`, FieldValue{Kind: KindNumeric, Number: 12.5}},
		{"numeric string", `{"value": "1,200", "dataType": "numeric"}`, FieldValue{Kind: KindNumeric, Number: 1200}},
		{"text", `{"value": "Acme", "dataType": "text"}`, FieldValue{Kind: KindText, Text: "Acme"}},
		{"boolean", `{"value": true, "dataType": "boolean"}`, FieldValue{Kind: KindBoolean, Boolean: true}},
		{"null", `{"value": null}`, FieldValue{Kind: KindEmpty}},
		{"blank string", `{"value": "   "}`, FieldValue{Kind: KindEmpty}},
		{"bare scalar", `42`, FieldValue{Kind: KindNumeric, Number: 42}},
		{"bare string", `"Acme"`, FieldValue{Kind: KindText, Text: "Acme"}},
		{"empty", ``, FieldValue{Kind: KindEmpty}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeValue(json.RawMessage(tt.raw)))
		})
	}
}

func TestDecodeValueDate(t *testing.T) {
	v := DecodeValue(json.RawMessage(`{"value": "2024-03-15", "dataType": "date"}`))
	require.Equal(t, KindDate, v.Kind)
	assert.Equal(t, 2024, v.Date.Year())
	assert.Equal(t, time.March, v.Date.Month())
	assert.Equal(t, 15, v.Date.Day())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	values := []FieldValue{
		{Kind: KindNumeric, Number: 3.5},
		{Kind: KindText, Text: "Acme"},
		{Kind: KindBoolean, Boolean: false},
		{Kind: KindDate, Date: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, v := range values {
		raw, err := EncodeValue(v, "Some Header", now)
		require.NoError(t, err)
		assert.Equal(t, v, DecodeValue(raw))
	}
}
