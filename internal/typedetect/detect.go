package typedetect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DataType is the semantic type inferred for a column from its sample values.
type DataType string

const (
	TypeNumeric         DataType = "numeric"
	TypeNumericPositive DataType = "numeric_positive"
	TypeNumericInteger  DataType = "numeric_integer"
	TypeDate            DataType = "date"
	TypeAlphanumeric    DataType = "alphanumeric"
	TypeText            DataType = "text"
	TypeBoolean         DataType = "boolean"
	TypeEmpty           DataType = "empty"
)

// acceptThreshold is the minimum match ratio a type tester must reach before
// its type is reported; below it the column falls back to text.
const acceptThreshold = 0.7

// fallbackConfidence is reported when no tester wins convincingly.
const fallbackConfidence = 0.5

// Stats summarizes the sampled values behind an analysis. Min, Max and Avg
// are set only for numeric detections, computed from parseable values.
type Stats struct {
	TotalSamples int      `json:"totalSamples"`
	ValidSamples int      `json:"validSamples"`
	NullCount    int      `json:"nullCount"`
	UniqueCount  int      `json:"uniqueCount"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	Avg          *float64 `json:"avg,omitempty"`
}

// Analysis is the result of classifying one column's sample values.
type Analysis struct {
	DetectedType DataType `json:"detectedType"`
	Confidence   float64  `json:"confidence"`
	Stats        Stats    `json:"stats"`
	Warnings     []string `json:"warnings,omitempty"`
}

var (
	currencyReplacer = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", ",", "")
	decimalPattern   = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	alphanumPattern  = regexp.MustCompile(`^[A-Za-z0-9\-_#]+$`)
	letterPattern    = regexp.MustCompile(`[A-Za-z]`)
	digitPattern     = regexp.MustCompile(`\d`)
)

var booleanTokens = map[string]struct{}{
	"true": {}, "false": {},
	"yes": {}, "no": {},
	"1": {}, "0": {},
	"y": {}, "n": {},
	"t": {}, "f": {},
}

// dateLayouts covers the shapes the date tester recognizes: ISO, US slashed
// and dashed, and the two written forms.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"1-2-2006",
	"01-02-2006",
	"1-2-06",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
}

// CellString renders a raw cell as its trimmed string form. The second
// return is false for null, absent, or blank-after-trim cells. Raw cells
// arrive as string, float64, int or nil, matching what a JSON-decoded
// spreadsheet extract produces.
func CellString(v any) (string, bool) {
	if v == nil {
		return "", false
	}

	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	default:
		s = fmt.Sprintf("%v", t)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// AnalyzeColumn classifies a column's sample values into a semantic data
// type with a confidence ratio and summary statistics. An empty or all-null
// column is reported as empty at full confidence; otherwise the value-level
// tester with the highest match ratio wins, with ties broken in the order
// numeric, date, boolean, alphanumeric. A winner below the acceptance
// threshold falls back to text at a fixed confidence.
func AnalyzeColumn(values []any) Analysis {
	total := len(values)

	samples := make([]string, 0, total)
	for _, v := range values {
		if s, ok := CellString(v); ok {
			samples = append(samples, s)
		}
	}

	nullCount := total - len(samples)

	if len(samples) == 0 {
		return Analysis{
			DetectedType: TypeEmpty,
			Confidence:   1.0,
			Stats: Stats{
				TotalSamples: total,
				ValidSamples: 0,
				NullCount:    nullCount,
				UniqueCount:  0,
			},
		}
	}

	unique := make(map[string]struct{}, len(samples))
	for _, s := range samples {
		unique[s] = struct{}{}
	}

	// Fixed precedence: a stable max keeps the first tester on ties.
	candidates := []struct {
		dataType DataType
		ratio    float64
	}{
		{TypeNumeric, numericRatio(samples)},
		{TypeDate, dateRatio(samples)},
		{TypeBoolean, booleanRatio(samples)},
		{TypeAlphanumeric, alphanumericRatio(samples)},
	}

	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.ratio > winner.ratio {
			winner = c
		}
	}

	detected := TypeText
	confidence := fallbackConfidence
	if winner.ratio >= acceptThreshold {
		detected = winner.dataType
		confidence = winner.ratio
	}

	stats := Stats{
		TotalSamples: total,
		ValidSamples: len(samples),
		NullCount:    nullCount,
		UniqueCount:  len(unique),
	}

	if detected == TypeNumeric {
		parsed := parseNumbers(samples)
		if len(parsed) > 0 {
			detected = refineNumericType(parsed)

			min, max, sum := parsed[0], parsed[0], 0.0
			for _, n := range parsed {
				if n < min {
					min = n
				}
				if n > max {
					max = n
				}
				sum += n
			}
			avg := sum / float64(len(parsed))
			stats.Min = &min
			stats.Max = &max
			stats.Avg = &avg
		}
	}

	var warnings []string
	if confidence < 0.8 {
		warnings = append(warnings, fmt.Sprintf("low confidence (%.2f) in detected type %q", confidence, detected))
	}
	if total > 0 && float64(nullCount)/float64(total) > 0.3 {
		warnings = append(warnings, fmt.Sprintf("%d of %d samples are empty", nullCount, total))
	}

	return Analysis{
		DetectedType: detected,
		Confidence:   confidence,
		Stats:        stats,
		Warnings:     warnings,
	}
}

// refineNumericType narrows a numeric detection using the parseable values.
// A single negative value keeps the column at plain numeric; the positive
// and integer subtypes additionally require the subtype ratio to reach the
// acceptance threshold.
func refineNumericType(parsed []float64) DataType {
	nonNegative := 0
	nonNegativeInts := 0
	hasNegative := false

	for _, n := range parsed {
		if n < 0 {
			hasNegative = true
			continue
		}
		nonNegative++
		if n == float64(int64(n)) {
			nonNegativeInts++
		}
	}

	if hasNegative {
		return TypeNumeric
	}

	total := float64(len(parsed))
	if float64(nonNegativeInts)/total >= acceptThreshold {
		return TypeNumericInteger
	}
	if float64(nonNegative)/total >= acceptThreshold {
		return TypeNumericPositive
	}
	return TypeNumeric
}

// cleanNumeric strips thousands separators, whitespace and common currency
// symbols before numeric parsing.
func cleanNumeric(s string) string {
	s = currencyReplacer.Replace(s)
	return strings.Join(strings.Fields(s), "")
}

func parseNumber(s string) (float64, bool) {
	cleaned := cleanNumeric(s)
	if cleaned == "" {
		return 0, false
	}
	if decimalPattern.MatchString(cleaned) {
		n, err := strconv.ParseFloat(cleaned, 64)
		return n, err == nil
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	return n, err == nil
}

func parseNumbers(samples []string) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if n, ok := parseNumber(s); ok {
			out = append(out, n)
		}
	}
	return out
}

func numericRatio(samples []string) float64 {
	matches := 0
	for _, s := range samples {
		if _, ok := parseNumber(s); ok {
			matches++
		}
	}
	return float64(matches) / float64(len(samples))
}

// ParseDate parses a single cell as a calendar date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Shape matches alone do not count: "99/99/9999" looks like a date but never
// parses, so it contributes nothing to the ratio.
func dateRatio(samples []string) float64 {
	matches := 0
	for _, s := range samples {
		if _, ok := ParseDate(s); ok {
			matches++
		}
	}
	return float64(matches) / float64(len(samples))
}

func booleanRatio(samples []string) float64 {
	matches := 0
	for _, s := range samples {
		if _, ok := booleanTokens[strings.ToLower(s)]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(samples))
}

// isAlphanumericID requires the allowed character set plus at least one
// letter and one digit, so pure numbers and pure words do not qualify.
func isAlphanumericID(s string) bool {
	return alphanumPattern.MatchString(s) &&
		letterPattern.MatchString(s) &&
		digitPattern.MatchString(s)
}

func alphanumericRatio(samples []string) float64 {
	matches := 0
	for _, s := range samples {
		if isAlphanumericID(s) {
			matches++
		}
	}
	return float64(matches) / float64(len(samples))
}
