package scanner

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// TreeHash derives a structural fingerprint of the instance tree: the
// sorted set of class:name pairs, hashed with BLAKE2b. Property values and
// entry order do not affect it, so the hash only moves when instances are
// added, removed or renamed.
func TreeHash(tree []byte) string {
	var root interface{}
	if err := json.Unmarshal(tree, &root); err != nil {
		sum := blake2b.Sum256(tree)
		return hex.EncodeToString(sum[:])
	}

	var entries []string
	collectHashEntries(root, &entries)
	sort.Strings(entries)

	h, _ := blake2b.New256(nil)
	for _, entry := range entries {
		h.Write([]byte(entry))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func collectHashEntries(node interface{}, out *[]string) {
	switch n := node.(type) {
	case []interface{}:
		for _, item := range n {
			collectHashEntries(item, out)
		}
	case map[string]interface{}:
		class, _ := n["class"].(string)
		name, _ := n["name"].(string)
		if class != "" || name != "" {
			*out = append(*out, class+":"+name)
		}
		if children, ok := n["children"]; ok {
			collectHashEntries(children, out)
		}
	}
}

// filterEntries applies a ScopeQuery to an array scope. Non-array data and
// entries without the queried fields pass through untouched only when no
// predicate excludes them.
func filterEntries(data []byte, q ScopeQuery) json.RawMessage {
	var items []map[string]interface{}
	if err := json.Unmarshal(data, &items); err != nil {
		return data
	}
	filtered := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if q.Path != "" && !strings.Contains(stringField(item, "path"), q.Path) {
			continue
		}
		if q.Class != "" && stringField(item, "class") != q.Class {
			continue
		}
		if q.Search != "" {
			hay := strings.ToLower(stringField(item, "name") + " " + stringField(item, "path"))
			if !strings.Contains(hay, strings.ToLower(q.Search)) {
				continue
			}
		}
		filtered = append(filtered, item)
	}
	out, err := json.Marshal(filtered)
	if err != nil {
		return data
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
