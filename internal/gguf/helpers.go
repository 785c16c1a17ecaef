package gguf

import "fmt"

// GetString returns a string value.
func GetString(kv map[string]Value, key string) (string, bool) {
	v, ok := kv[key]
	if !ok {
		return "", false
	}
	s, ok := v.Value.(string)
	return s, ok
}

// GetUint64 returns any non-negative integer value widened to uint64.
func GetUint64(kv map[string]Value, key string) (uint64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	switch t := v.Value.(type) {
	case uint8:
		return uint64(t), true
	case uint16:
		return uint64(t), true
	case uint32:
		return uint64(t), true
	case uint64:
		return t, true
	case int8:
		return uint64(t), t >= 0
	case int16:
		return uint64(t), t >= 0
	case int32:
		return uint64(t), t >= 0
	case int64:
		return uint64(t), t >= 0
	default:
		return 0, false
	}
}

// GetFloat64 returns a float value.
func GetFloat64(kv map[string]Value, key string) (float64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	switch t := v.Value.(type) {
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// GetArray returns an array whose elements all have type T.
func GetArray[T any](kv map[string]Value, key string) ([]T, bool) {
	v, ok := kv[key]
	if !ok {
		return nil, false
	}
	arr, ok := v.Value.(ArrayValue)
	if !ok {
		return nil, false
	}
	out := make([]T, 0, len(arr.Values))
	for _, item := range arr.Values {
		t, ok := item.(T)
		if !ok {
			return nil, false
		}
		out = append(out, t)
	}
	return out, true
}

// MustGetUint64 is GetUint64 with an error for missing keys.
func MustGetUint64(kv map[string]Value, key string) (uint64, error) {
	if v, ok := GetUint64(kv, key); ok {
		return v, nil
	}
	return 0, fmt.Errorf("missing or invalid %s", key)
}
