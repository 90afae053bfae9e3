package lua

import (
	"strings"

	rt "github.com/arnodel/golua/runtime"
)

// Field returns table[key], descending through dotted paths such as
// "layersync.config". It returns NilValue when any step is missing.
func Field(v rt.Value, path string) rt.Value {
	for _, key := range strings.Split(path, ".") {
		t, ok := v.TryTable()
		if !ok {
			return rt.NilValue
		}
		v = t.Get(rt.StringValue(key))
	}
	return v
}

// TableBool returns a boolean field. Strings "yes", "true", "on" and "1"
// are accepted for compatibility with plain text configs.
func TableBool(table *rt.Table, key string) (bool, bool) {
	val := table.Get(rt.StringValue(key))
	if b, ok := val.TryBool(); ok {
		return b, true
	}
	if s, ok := val.TryString(); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "yes", "true", "on", "1":
			return true, true
		default:
			return false, true
		}
	}
	return false, false
}

// TableString returns a string field.
func TableString(table *rt.Table, key string) (string, bool) {
	return table.Get(rt.StringValue(key)).TryString()
}

// TableFloat returns a numeric field as float64.
func TableFloat(table *rt.Table, key string) (float64, bool) {
	val := table.Get(rt.StringValue(key))
	if n, ok := val.TryFloat(); ok {
		return n, true
	}
	if n, ok := val.TryInt(); ok {
		return float64(n), true
	}
	return 0, false
}

// TableInt returns a numeric field as int, truncating floats.
func TableInt(table *rt.Table, key string) (int, bool) {
	val := table.Get(rt.StringValue(key))
	if n, ok := val.TryInt(); ok {
		return int(n), true
	}
	if f, ok := val.TryFloat(); ok {
		return int(f), true
	}
	return 0, false
}

// Keys lists the string keys of table.
func Keys(table *rt.Table) []string {
	var keys []string
	k, _, ok := table.Next(rt.NilValue)
	for ok && k != rt.NilValue {
		if s, isStr := k.TryString(); isStr {
			keys = append(keys, s)
		}
		k, _, ok = table.Next(k)
	}
	return keys
}
