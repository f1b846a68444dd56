package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/studyportal/studysync/internal/schema"
)

// isRefKey reports whether a payload field holds record ids.
func isRefKey(k string) bool {
	return k == "id" ||
		k == "lessons" ||
		k == "reviews" ||
		strings.HasSuffix(k, "Id") ||
		strings.HasSuffix(k, "Ids")
}

// rewriteTask replaces remapped temporary ids in the task target and in the
// id-bearing fields of its payload. It reports whether anything changed.
func rewriteTask(task *schema.Task, remap map[int64]int64) (bool, error) {
	if len(remap) == 0 {
		return false, nil
	}

	changed := false
	if to, ok := remap[task.TargetID]; ok {
		task.TargetID = to
		changed = true
	}

	if len(task.Payload) == 0 {
		return changed, nil
	}

	dec := json.NewDecoder(bytes.NewReader(task.Payload))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		// Non-object payloads carry no references.
		return changed, nil
	}

	payloadChanged := false
	for k, v := range doc {
		if !isRefKey(k) {
			continue
		}
		if nv, ok := rewriteValue(v, remap); ok {
			doc[k] = nv
			payloadChanged = true
		}
	}
	if !payloadChanged {
		return changed, nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return changed, fmt.Errorf("failed to encode rewritten payload of %s: %w", task.Name(), err)
	}
	task.Payload = data
	return true, nil
}

// rewriteValue walks numbers, arrays of ids and maps of id arrays.
func rewriteValue(v any, remap map[int64]int64) (any, bool) {
	switch t := v.(type) {
	case json.Number:
		id, err := t.Int64()
		if err != nil {
			return v, false
		}
		if to, ok := remap[id]; ok {
			return json.Number(strconv.FormatInt(to, 10)), true
		}
	case []any:
		changed := false
		for i := range t {
			if nv, ok := rewriteValue(t[i], remap); ok {
				t[i] = nv
				changed = true
			}
		}
		return t, changed
	case map[string]any:
		changed := false
		for k := range t {
			if nv, ok := rewriteValue(t[k], remap); ok {
				t[k] = nv
				changed = true
			}
		}
		return t, changed
	}
	return v, false
}
