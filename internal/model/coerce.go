package model

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// AsDoc returns v as a Doc when it is a JSON object.
func AsDoc(v any) (Doc, bool) {
	d, ok := v.(map[string]any)
	return d, ok
}

// AsList returns v as a slice when it is a JSON array.
func AsList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

// AsDocs converts a JSON array of objects into []Doc, skipping non-objects.
func AsDocs(v any) []Doc {
	list, ok := AsList(v)
	if !ok {
		return nil
	}
	docs := make([]Doc, 0, len(list))
	for _, item := range list {
		if d, ok := AsDoc(item); ok {
			docs = append(docs, d)
		}
	}
	return docs
}

// Num coerces a JSON value to float64. Numeric strings parse; nil and
// unparseable values yield 0.
func Num(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// Dec coerces a JSON value to a decimal, for money arithmetic. Numeric
// strings keep their full precision; anything unparseable yields zero.
func Dec(v any) decimal.Decimal {
	switch x := v.(type) {
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(x)
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	}
	return decimal.Zero
}

// Str coerces a JSON value to string. Numbers format without an exponent.
func Str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// Int coerces a JSON value to int64, truncating floats.
func Int(v any) int64 {
	return int64(Num(v))
}
