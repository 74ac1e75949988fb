package typedetect

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// FieldType names the semantics a target schema field expects of its column.
type FieldType string

const (
	FieldNumeric         FieldType = "numeric"
	FieldNumericPositive FieldType = "numeric_positive"
	FieldNumericInteger  FieldType = "numeric_integer"
	FieldDate            FieldType = "date"
	FieldAlphanumeric    FieldType = "alphanumeric"
	FieldText            FieldType = "text"
	FieldBoolean         FieldType = "boolean"
	FieldCategorical     FieldType = "categorical"
)

// ValidationResult reports whether a column's detected type satisfies a
// target field's expectations. MatchRatio carries the analysis confidence,
// halved on an incompatible detection.
type ValidationResult struct {
	IsValid    bool     `json:"isValid"`
	MatchRatio float64  `json:"matchRatio"`
	Issues     []string `json:"issues,omitempty"`
}

// ValidateOptions carries optional per-field constraints.
type ValidateOptions struct {
	// AllowedValues restricts a categorical field to a closed vocabulary,
	// compared case- and whitespace-insensitively.
	AllowedValues []string
}

// compatibleTypes maps each field type to the detections it accepts.
// Text is deliberately the most permissive target.
var compatibleTypes = map[FieldType][]DataType{
	FieldNumeric:         {TypeNumeric, TypeNumericPositive, TypeNumericInteger},
	FieldNumericPositive: {TypeNumericPositive, TypeNumericInteger},
	FieldNumericInteger:  {TypeNumericInteger},
	FieldDate:            {TypeDate},
	FieldAlphanumeric:    {TypeAlphanumeric, TypeText, TypeNumericInteger},
	FieldText:            {TypeText, TypeAlphanumeric, TypeNumeric, TypeNumericPositive, TypeNumericInteger, TypeDate, TypeBoolean},
	FieldBoolean:         {TypeBoolean},
	FieldCategorical:     {TypeText, TypeAlphanumeric},
}

const idFormatPattern = `^[A-Za-z0-9\-_]+$`

var idPattern = regexp.MustCompile(idFormatPattern)

// ValidateColumnForField analyzes a column and checks the detection against
// the expected field type. An incompatible detection is reported as an issue
// only when the analysis confidence exceeds the acceptance threshold; weak
// evidence is not penalized. Domain fields with dedicated validators
// (ValidateProductIDColumn and friends) are alternatives to this generic
// check, not refinements of it.
func ValidateColumnForField(values []any, expected FieldType, opts *ValidateOptions) ValidationResult {
	analysis := AnalyzeColumn(values)

	var issues []string

	compatible := isCompatible(expected, analysis.DetectedType)
	if !compatible && analysis.Confidence > acceptThreshold {
		issues = append(issues, fmt.Sprintf("detected type %q is not compatible with expected type %q", analysis.DetectedType, expected))
	}

	if expected == FieldNumericPositive && analysis.Stats.Min != nil && *analysis.Stats.Min < 0 {
		issues = append(issues, fmt.Sprintf("column contains negative values (min %v)", *analysis.Stats.Min))
	}

	if expected == FieldCategorical && opts != nil && len(opts.AllowedValues) > 0 {
		if issue := checkAllowedValues(values, opts.AllowedValues); issue != "" {
			issues = append(issues, issue)
		}
	}

	matchRatio := analysis.Confidence
	if !compatible {
		matchRatio = analysis.Confidence * 0.5
	}

	return ValidationResult{
		IsValid:    len(issues) == 0,
		MatchRatio: matchRatio,
		Issues:     issues,
	}
}

func isCompatible(expected FieldType, detected DataType) bool {
	for _, t := range compatibleTypes[expected] {
		if t == detected {
			return true
		}
	}
	return false
}

// checkAllowedValues flags up to the first three values outside the allowed
// vocabulary, truncating with an ellipsis when more exist.
func checkAllowedValues(values []any, allowed []string) string {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allowedSet[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}

	var invalid []string
	seen := make(map[string]struct{})
	extra := false
	for _, v := range values {
		s, ok := CellString(v)
		if !ok {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := allowedSet[key]; ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if len(invalid) < 3 {
			invalid = append(invalid, s)
		} else {
			extra = true
		}
	}

	if len(invalid) == 0 {
		return ""
	}

	msg := fmt.Sprintf("values outside allowed set: %s", strings.Join(invalid, ", "))
	if extra {
		msg += "…"
	}
	return msg
}

// ValidateProductIDColumn checks a column holding product identifiers.
// IDs should be nearly unique and format-consistent; the score blends
// uniqueness (60%) with format consistency (40%).
func ValidateProductIDColumn(values []any) ValidationResult {
	samples := collectSamples(values)
	if len(samples) == 0 {
		return ValidationResult{IsValid: false, Issues: []string{"no product id values to validate"}}
	}

	unique := make(map[string]struct{}, len(samples))
	formatMatches := 0
	for _, s := range samples {
		unique[s] = struct{}{}
		if idPattern.MatchString(s) {
			formatMatches++
		}
	}

	uniquenessRatio := float64(len(unique)) / float64(len(samples))
	formatConsistency := float64(formatMatches) / float64(len(samples))

	var issues []string
	if uniquenessRatio < 0.9 {
		issues = append(issues, fmt.Sprintf("only %.0f%% of product ids are unique; ids should be nearly unique", uniquenessRatio*100))
	}
	if formatConsistency < 0.8 {
		issues = append(issues, fmt.Sprintf("only %.0f%% of values match the expected id format %s", formatConsistency*100, idFormatPattern))
	}

	return ValidationResult{
		IsValid:    len(issues) == 0,
		MatchRatio: 0.6*uniquenessRatio + 0.4*formatConsistency,
		Issues:     issues,
	}
}

// ValidateQuantityColumn checks a column holding shipment or order
// quantities, which are expected whole and non-negative.
func ValidateQuantityColumn(values []any) ValidationResult {
	samples := collectSamples(values)
	if len(samples) == 0 {
		return ValidationResult{IsValid: false, Issues: []string{"no quantity values to validate"}}
	}

	parsed := 0
	negatives := 0
	fractional := 0
	for _, s := range samples {
		n, ok := parseNumber(s)
		if !ok {
			continue
		}
		parsed++
		if n < 0 {
			negatives++
		}
		if n != float64(int64(n)) {
			fractional++
		}
	}

	parseRatio := float64(parsed) / float64(len(samples))

	var issues []string
	if parseRatio < 0.9 {
		issues = append(issues, fmt.Sprintf("only %.0f%% of values parse as numbers", parseRatio*100))
	}
	if negatives > 0 {
		issues = append(issues, fmt.Sprintf("%d negative quantities found; quantities must be non-negative", negatives))
	}
	if fractional > 0 {
		issues = append(issues, fmt.Sprintf("%d non-integer quantities found; quantities are expected whole", fractional))
	}

	return ValidationResult{
		IsValid:    len(issues) == 0,
		MatchRatio: parseRatio,
		Issues:     issues,
	}
}

// ValidateDateColumn checks a column holding dates. Far-future and far-past
// values are advisory only; they are reported but do not fail validity.
func ValidateDateColumn(values []any) ValidationResult {
	samples := collectSamples(values)
	if len(samples) == 0 {
		return ValidationResult{IsValid: false, Issues: []string{"no date values to validate"}}
	}

	now := time.Now()
	futureCutoff := now.AddDate(1, 0, 0)
	pastCutoff := now.AddDate(-5, 0, 0)

	parsed := 0
	future := 0
	past := 0
	for _, s := range samples {
		t, ok := ParseDate(s)
		if !ok {
			continue
		}
		parsed++
		if t.After(futureCutoff) {
			future++
		}
		if t.Before(pastCutoff) {
			past++
		}
	}

	parseRatio := float64(parsed) / float64(len(samples))

	valid := true
	var issues []string
	if parseRatio < 0.8 {
		valid = false
		issues = append(issues, fmt.Sprintf("only %.0f%% of values parse as valid dates", parseRatio*100))
	}
	if future > 0 {
		issues = append(issues, fmt.Sprintf("%d dates are more than a year in the future", future))
	}
	if past > 0 {
		issues = append(issues, fmt.Sprintf("%d dates are more than five years in the past", past))
	}

	return ValidationResult{
		IsValid:    valid,
		MatchRatio: parseRatio,
		Issues:     issues,
	}
}

// ValidatePackSizeColumn checks a column holding pack sizes. The score is
// the fraction of values that parsed as integers at all, independent of the
// sign and magnitude checks.
func ValidatePackSizeColumn(values []any) ValidationResult {
	samples := collectSamples(values)
	if len(samples) == 0 {
		return ValidationResult{IsValid: false, Issues: []string{"no pack size values to validate"}}
	}

	integers := 0
	var nonPositive []float64
	var issues []string
	for _, s := range samples {
		n, ok := parseNumber(s)
		if !ok || n != float64(int64(n)) {
			continue
		}
		integers++
		if n <= 0 {
			nonPositive = append(nonPositive, n)
		}
		if n > 10000 {
			issues = append(issues, fmt.Sprintf("pack size %.0f is unusually large", n))
		}
	}

	valid := true
	if len(nonPositive) > 0 {
		valid = false
		shown := nonPositive
		if len(shown) > 3 {
			shown = shown[:3]
		}
		parts := make([]string, len(shown))
		for i, n := range shown {
			parts[i] = fmt.Sprintf("%.0f", n)
		}
		msg := fmt.Sprintf("%d non-positive pack sizes found (e.g. %s)", len(nonPositive), strings.Join(parts, ", "))
		issues = append([]string{msg}, issues...)
	}

	return ValidationResult{
		IsValid:    valid,
		MatchRatio: float64(integers) / float64(len(samples)),
		Issues:     issues,
	}
}

func collectSamples(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := CellString(v); ok {
			out = append(out, s)
		}
	}
	return out
}
