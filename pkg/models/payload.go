package models

// Payload accessors. Task inputs and event payloads round-trip through
// JSONB, so nested values come back as map[string]any and []any; these
// helpers keep the call sites out of type-assertion noise. Missing or
// mistyped keys yield zero values.

// GetString returns the string at key, or "".
func (p Payload) GetString(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// GetBool returns the bool at key, or false.
func (p Payload) GetBool(key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

// GetFloat returns the numeric value at key, or 0. JSON numbers decode as
// float64; ints stored before encoding are handled too.
func (p Payload) GetFloat(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// GetInt returns the numeric value at key truncated to int, or 0.
func (p Payload) GetInt(key string) int {
	return int(p.GetFloat(key))
}

// GetMap returns the nested payload at key, or an empty one.
func (p Payload) GetMap(key string) Payload {
	switch v := p[key].(type) {
	case Payload:
		return v
	case map[string]any:
		return Payload(v)
	}
	return Payload{}
}

// GetSlice returns the slice at key, or nil.
func (p Payload) GetSlice(key string) []any {
	if v, ok := p[key].([]any); ok {
		return v
	}
	return nil
}

// GetStringSlice returns the string elements of the slice at key.
func (p Payload) GetStringSlice(key string) []string {
	raw := p.GetSlice(key)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// GetMapSlice returns the object elements of the slice at key.
func (p Payload) GetMapSlice(key string) []Payload {
	raw := p.GetSlice(key)
	out := make([]Payload, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, Payload(m))
		}
	}
	return out
}
