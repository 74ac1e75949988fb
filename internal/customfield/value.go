package customfield

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mapsmith/backend/internal/typedetect"
)

// ValueKind discriminates the typed forms a custom field value can take.
type ValueKind string

const (
	KindNumeric ValueKind = "numeric"
	KindText    ValueKind = "text"
	KindDate    ValueKind = "date"
	KindBoolean ValueKind = "boolean"
	KindEmpty   ValueKind = "empty"
)

// FieldValue is the typed form of one custom field value. The persisted bag
// is untyped JSON; decoding happens once at this boundary so the rest of the
// package never branches on raw tags.
type FieldValue struct {
	Kind    ValueKind
	Number  float64
	Text    string
	Date    time.Time
	Boolean bool
}

// bagEntry mirrors the shape the importer writes into the product metadata
// column: {"value": ..., "originalHeader": ..., "dataType": ..., "lastUpdated": ...}.
type bagEntry struct {
	Value          any    `json:"value"`
	OriginalHeader string `json:"originalHeader,omitempty"`
	DataType       string `json:"dataType,omitempty"`
	LastUpdated    string `json:"lastUpdated,omitempty"`
}

// DecodeValue turns one raw bag entry into its typed form. Entries written
// before the bag format settled may be bare scalars instead of objects;
// both decode. Anything unreadable comes back as empty.
func DecodeValue(raw json.RawMessage) FieldValue {
	if len(raw) == 0 {
		return FieldValue{Kind: KindEmpty}
	}

	var entry bagEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		var scalar any
		if err := json.Unmarshal(raw, &scalar); err != nil {
			return FieldValue{Kind: KindEmpty}
		}
		return typedValue(scalar, "")
	}

	return typedValue(entry.Value, entry.DataType)
}

func typedValue(v any, declaredType string) FieldValue {
	switch t := v.(type) {
	case nil:
		return FieldValue{Kind: KindEmpty}
	case bool:
		return FieldValue{Kind: KindBoolean, Boolean: t}
	case float64:
		return FieldValue{Kind: KindNumeric, Number: t}
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return FieldValue{Kind: KindEmpty}
		}
		if isNumericType(declaredType) {
			if n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
				return FieldValue{Kind: KindNumeric, Number: n}
			}
		}
		if declaredType == string(typedetect.TypeDate) {
			if d, ok := typedetect.ParseDate(s); ok {
				return FieldValue{Kind: KindDate, Date: d}
			}
		}
		// Untagged numeric strings still count as numeric for aggregation.
		if n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
			return FieldValue{Kind: KindNumeric, Number: n}
		}
		return FieldValue{Kind: KindText, Text: s}
	default:
		return FieldValue{Kind: KindText, Text: fmt.Sprintf("%v", t)}
	}
}

// EncodeValue serializes a typed value back into the bag entry format.
func EncodeValue(v FieldValue, originalHeader string, updatedAt time.Time) (json.RawMessage, error) {
	entry := bagEntry{
		OriginalHeader: originalHeader,
		LastUpdated:    updatedAt.Format(time.RFC3339),
	}

	switch v.Kind {
	case KindNumeric:
		entry.Value = v.Number
		entry.DataType = string(typedetect.TypeNumeric)
	case KindText:
		entry.Value = v.Text
		entry.DataType = string(typedetect.TypeText)
	case KindDate:
		entry.Value = v.Date.Format("2006-01-02")
		entry.DataType = string(typedetect.TypeDate)
	case KindBoolean:
		entry.Value = v.Boolean
		entry.DataType = string(typedetect.TypeBoolean)
	case KindEmpty:
		entry.Value = nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", v.Kind)
	}

	return json.Marshal(entry)
}

// DisplayString renders a typed value for distributions and top-value lists.
func (v FieldValue) DisplayString() string {
	switch v.Kind {
	case KindNumeric:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindText:
		return v.Text
	case KindDate:
		return v.Date.Format("2006-01-02")
	case KindBoolean:
		return strconv.FormatBool(v.Boolean)
	default:
		return ""
	}
}

func isNumericType(dataType string) bool {
	switch typedetect.DataType(dataType) {
	case typedetect.TypeNumeric, typedetect.TypeNumericPositive, typedetect.TypeNumericInteger:
		return true
	}
	return false
}
