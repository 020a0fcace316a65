package nodes

// JSON decoding hands nodes float64 for every number; engine callers may
// pass native ints. These helpers normalise both.

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// intArg reads an integer config value, falling back to def when absent.
// Returns ok=false only when the key is present but not numeric.
func intArg(config map[string]any, key string, def int) (int, bool) {
	v, present := config[key]
	if !present {
		return def, true
	}
	return asInt(v)
}

// stringArg reads a string config value with a default.
func stringArg(config map[string]any, key, def string) (string, bool) {
	v, present := config[key]
	if !present {
		return def, true
	}
	return asString(v)
}
