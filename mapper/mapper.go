// Package mapper implements the dot-path JSON projection engine used for
// refraction field mapping. The mapper only relocates values; it never
// executes, evaluates, or interprets them.
package mapper

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/prismrt/prism/fault"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ApplyTranspose projects source through an input-side map: for each
// (destPath, sourcePath) pair the value at sourcePath is copied into the
// result object at destPath, creating intermediate objects as needed. A
// sourcePath suffixed with '?' is optional; a missing required path is a
// property-mapping fault naming the path.
func ApplyTranspose(source json.RawMessage, pairs map[string]string) (json.RawMessage, error) {
	return project(source, pairs, false)
}

// ApplyReflection is the same algorithm with the source/destination roles
// of the map swapped: the value is read at each pair's destination path and
// written to its source path. Callers use it to re-shape a downstream
// response back into their own schema.
func ApplyReflection(source json.RawMessage, pairs map[string]string) (json.RawMessage, error) {
	return project(source, pairs, true)
}

// project runs one projection pass. Pairs are applied in sorted destination
// order so the result is deterministic.
func project(source json.RawMessage, pairs map[string]string, swapped bool) (json.RawMessage, error) {
	if len(source) == 0 {
		source = json.RawMessage(`{}`)
	}
	if !gjson.ValidBytes(source) {
		return nil, fault.New(fault.KindInvalidInput, "projection source is not valid JSON")
	}

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte(`{}`)
	for _, dest := range keys {
		readPath, writePath := pairs[dest], dest
		if swapped {
			readPath, writePath = dest, pairs[dest]
		}

		readPath, optional := splitOptional(readPath)
		writePath, _ = splitOptional(writePath)

		value := gjson.GetBytes(source, readPath)
		if !value.Exists() {
			if optional {
				continue
			}
			return nil, fault.Newf(fault.KindPropertyMapping,
				"missing required path %q", readPath)
		}

		var err error
		out, err = sjson.SetRawBytes(out, writePath, []byte(value.Raw))
		if err != nil {
			return nil, fault.Newf(fault.KindPropertyMapping,
				"cannot set path %q: %v", writePath, err)
		}
	}

	return out, nil
}

// splitOptional strips a trailing '?' marker from a dot path.
func splitOptional(path string) (string, bool) {
	if strings.HasSuffix(path, "?") {
		return strings.TrimSuffix(path, "?"), true
	}
	return path, false
}
