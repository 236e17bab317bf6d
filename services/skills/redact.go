package skills

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/upb/hitl-control-plane/internal/pii"
)

// redaction collects the resolution map of every string scrubbed out of an
// argument tree, keyed by its JSON pointer (RFC 6901).
type redaction struct {
	maps   map[string]pii.ResolutionMap
	counts map[pii.Category]int
}

func newRedaction() *redaction {
	return &redaction{
		maps:   make(map[string]pii.ResolutionMap),
		counts: make(map[pii.Category]int),
	}
}

// scrubArgs returns a deep copy of args with every string value scrubbed
func scrubArgs(args map[string]interface{}) (map[string]interface{}, *redaction) {
	r := newRedaction()
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = r.scrub(v, childPath("", k))
	}
	return out, r
}

func (r *redaction) scrub(v interface{}, path string) interface{} {
	switch x := v.(type) {
	case string:
		res := pii.Scrub(x)
		if !res.HasPII {
			return x
		}
		r.maps[path] = pii.BuildResolutionMap(res)
		for _, m := range res.Matches {
			r.counts[m.Category]++
		}
		return res.Scrubbed
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = r.scrub(val, childPath(path, k))
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = r.scrub(val, childPath(path, strconv.Itoa(i)))
		}
		return out
	default:
		return v
	}
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// childPath appends one escaped reference token, so keys containing "." or
// "/" never collide with nested paths.
func childPath(parent, key string) string {
	return parent + "/" + pointerEscaper.Replace(key)
}

func (r *redaction) empty() bool { return len(r.maps) == 0 }

func (r *redaction) total() int {
	n := 0
	for _, c := range r.counts {
		n += c
	}
	return n
}

// categories lists redacted categories in registration order
func (r *redaction) categories() []pii.Category {
	var out []pii.Category
	for _, c := range pii.AllCategories() {
		if r.counts[c] > 0 {
			out = append(out, c)
		}
	}
	return out
}

// summary names categories and counts but never values
func (r *redaction) summary() string {
	parts := make([]string, 0, len(r.counts))
	for _, c := range r.categories() {
		parts = append(parts, fmt.Sprintf("%s x%d", c, r.counts[c]))
	}
	return strings.Join(parts, ", ")
}

// resolveArgs splices original values back into a scrubbed argument tree
func resolveArgs(args map[string]interface{}, maps map[string]pii.ResolutionMap) (map[string]interface{}, int) {
	restored := 0
	var walk func(v interface{}, path string) interface{}
	walk = func(v interface{}, path string) interface{} {
		switch x := v.(type) {
		case string:
			m, ok := maps[path]
			if !ok {
				return x
			}
			restored += m.Len()
			return pii.ResolveTokens(x, m)
		case map[string]interface{}:
			out := make(map[string]interface{}, len(x))
			for k, val := range x {
				out[k] = walk(val, childPath(path, k))
			}
			return out
		case []interface{}:
			out := make([]interface{}, len(x))
			for i, val := range x {
				out[i] = walk(val, childPath(path, strconv.Itoa(i)))
			}
			return out
		default:
			return v
		}
	}

	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = walk(v, childPath("", k))
	}
	return out, restored
}

// vault keeps resolution maps in process memory until the action they
// belong to is executed. Nothing here is ever persisted.
type vault struct {
	mu      sync.Mutex
	entries map[string]map[string]pii.ResolutionMap
}

func newVault() *vault {
	return &vault{entries: make(map[string]map[string]pii.ResolutionMap)}
}

func (v *vault) put(actionID string, maps map[string]pii.ResolutionMap) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[actionID] = maps
}

// take removes and returns the maps for actionID
func (v *vault) take(actionID string) (map[string]pii.ResolutionMap, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	maps, ok := v.entries[actionID]
	delete(v.entries, actionID)
	return maps, ok
}

// drop forgets the entries of actions that will never run
func (v *vault) drop(actionIDs ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range actionIDs {
		delete(v.entries, id)
	}
}

func (v *vault) size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}
