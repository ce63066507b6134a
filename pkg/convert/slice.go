package convert

// ToFloat64Slice converts []float64, []float32 or []interface{} to
// []float64, failing the whole conversion if any element doesn't coerce.
func ToFloat64Slice(v interface{}) ([]float64, bool) {
	switch val := v.(type) {
	case []float64:
		return val, true
	case []float32:
		result := make([]float64, len(val))
		for i, f := range val {
			result[i] = float64(f)
		}
		return result, true
	case []interface{}:
		result := make([]float64, len(val))
		for i, item := range val {
			if f, ok := ToFloat64(item); ok {
				result[i] = f
			} else {
				return nil, false
			}
		}
		return result, true
	}
	return nil, false
}

// ToStringSlice converts []string or []interface{} to []string, failing
// the whole conversion if any element isn't already a string.
func ToStringSlice(v interface{}) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			if s, ok := item.(string); ok {
				result[i] = s
			} else {
				return nil
			}
		}
		return result
	}
	return nil
}
