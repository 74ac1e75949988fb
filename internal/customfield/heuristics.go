package customfield

import (
	"strings"
	"unicode"
)

// Category, format and aggregation detection are first-match-wins keyword
// tables. Keeping them as data means a new client domain is a table row, not
// a new branch.

type categoryRule struct {
	category string
	keywords []string
}

var categoryRules = []categoryRule{
	{"financial", []string{"cost", "price", "value", "margin", "msrp", "retail", "currency"}},
	{"vendor", []string{"vendor", "supplier", "manufacturer", "mfg", "brand", "lead", "moq", "minimum"}},
	{"logistics", []string{"warehouse", "bin", "location", "shelf", "rack", "weight", "dimension", "country", "origin"}},
	{"classification", []string{"category", "subcategory", "classification", "department", "type", "class", "group"}},
	{"status", []string{"status", "discontinued", "lifecycle", "active", "obsolete"}},
	{"dates", []string{"date", "last", "first", "created", "updated"}},
	{"notes", []string{"note", "comment", "remark", "memo", "description"}},
}

// DetectCategory assigns a category to a field name, or nil for "other".
func DetectCategory(name string) *string {
	lower := strings.ToLower(name)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				category := rule.category
				return &category
			}
		}
	}
	return nil
}

// GenerateDisplayName turns a raw field name like "unit_cost" or "leadTime"
// into a human-readable title.
func GenerateDisplayName(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteRune(' ')
		}
		if r == '_' {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}

	words := strings.Fields(b.String())
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

type patternRule struct {
	pattern  string
	keywords []string
}

var formatRules = []patternRule{
	{"$#,##0.00", []string{"cost", "price", "value", "msrp"}},
	{"0.0%", []string{"percent", "rate"}},
	{"#,##0.0 lbs", []string{"weight"}},
}

var aggregationRules = []patternRule{
	{"sum", []string{"cost", "price", "value"}},
	{"avg", []string{"lead", "day", "time"}},
	{"sum", []string{"weight"}},
}

// DetectFormatPattern suggests a display format for numeric fields; nil
// means no special formatting.
func DetectFormatPattern(name, dataType string) *string {
	if !isNumericType(dataType) {
		return nil
	}
	return matchPattern(formatRules, name, "")
}

// DetectAggregationType picks how a numeric field rolls up on dashboards.
// Non-numeric fields do not aggregate; numeric fields default to sum.
func DetectAggregationType(name, dataType string) *string {
	if !isNumericType(dataType) {
		return nil
	}
	return matchPattern(aggregationRules, name, "sum")
}

func matchPattern(rules []patternRule, name, fallback string) *string {
	lower := strings.ToLower(name)
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				pattern := rule.pattern
				return &pattern
			}
		}
	}
	if fallback == "" {
		return nil
	}
	return &fallback
}
