package registry

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// UniqueKey computes the content-addressed instance identifier: name if
// config is empty, otherwise name + "#" + a hash of the canonical JSON
// of config. The hash runs over a canonical encoding so it is
// deterministic across runs for identical inputs.
func UniqueKey(name string, config map[string]interface{}) string {
	if len(config) == 0 {
		return name
	}
	canonical := canonicalJSON(config)
	sum := xxhash.Sum64(canonical)
	return name + "#" + strconv.FormatUint(sum, 16)
}

// canonicalJSON encodes v with map keys sorted, so two maps with the
// same entries in different insertion order produce identical bytes.
func canonicalJSON(v interface{}) []byte {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyBytes, _ := json.Marshal(k)
			buf = append(buf, keyBytes...)
			buf = append(buf, ':')
			buf = append(buf, canonicalJSON(val[k])...)
		}
		buf = append(buf, '}')
		return buf
	case []interface{}:
		buf := []byte{'['}
		for i, elem := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, canonicalJSON(elem)...)
		}
		buf = append(buf, ']')
		return buf
	default:
		b, _ := json.Marshal(val)
		return b
	}
}

// CanonicalJSONEqual reports whether two config maps serialize to the
// same canonical JSON, and therefore to the same UniqueKey for any
// shared name.
func CanonicalJSONEqual(a, b map[string]interface{}) bool {
	return string(canonicalJSON(a)) == string(canonicalJSON(b))
}
