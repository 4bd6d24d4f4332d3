package docstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/stratumdb/stratum/runtime"
)

// MemoryDriver is an in-process document driver. It evaluates the nested
// key/operator filter maps directly and enforces unique indexes, which
// makes it a faithful stand-in for a remote document store in tests and
// embedded deployments.
type MemoryDriver struct {
	mu    sync.RWMutex
	colls map[string]*memCollection
}

type memCollection struct {
	docs    []map[string]interface{}
	indexes map[string]IndexSpec
}

// NewMemoryDriver creates an empty in-memory store.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{colls: make(map[string]*memCollection)}
}

func (m *MemoryDriver) EnsureCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(name)
	return nil
}

func (m *MemoryDriver) Collections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.colls))
	for name := range m.colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryDriver) EnsureIndex(ctx context.Context, collection string, idx IndexSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(collection).indexes[idx.Name] = idx
	return nil
}

func (m *MemoryDriver) Indexes(ctx context.Context, collection string) ([]IndexSpec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.colls[collection]
	if !ok {
		return nil, nil
	}
	specs := make([]IndexSpec, 0, len(c.indexes))
	for _, idx := range c.indexes {
		specs = append(specs, idx)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

func (m *MemoryDriver) Insert(ctx context.Context, collection string, doc map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)

	stored := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	if _, ok := stored["_id"]; !ok {
		stored["_id"] = uuid.NewString()
	}
	if err := c.checkUnique(collection, stored, -1); err != nil {
		return err
	}
	c.docs = append(c.docs, stored)
	return nil
}

func (m *MemoryDriver) Find(ctx context.Context, collection string, filter map[string]interface{}, opts FindOptions) ([]map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.colls[collection]
	if !ok {
		return nil, nil
	}

	var matched []map[string]interface{}
	for _, doc := range c.docs {
		if matchFilter(filter, doc) {
			matched = append(matched, copyDoc(doc))
		}
	}
	sortDocs(matched, opts.Sort)
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(matched)) {
			return nil, nil
		}
		matched = matched[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < int64(len(matched)) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (m *MemoryDriver) Count(ctx context.Context, collection string, filter map[string]interface{}) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.colls[collection]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, doc := range c.docs {
		if matchFilter(filter, doc) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryDriver) Update(ctx context.Context, collection string, filter, update map[string]interface{}, one bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.colls[collection]
	if !ok {
		return 0, nil
	}

	var modified int64
	for i, doc := range c.docs {
		if !matchFilter(filter, doc) {
			continue
		}
		next := applyUpdate(doc, update)
		if err := c.checkUnique(collection, next, i); err != nil {
			return modified, err
		}
		c.docs[i] = next
		modified++
		if one {
			break
		}
	}
	return modified, nil
}

func (m *MemoryDriver) Delete(ctx context.Context, collection string, filter map[string]interface{}, one bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.colls[collection]
	if !ok {
		return 0, nil
	}

	var removed int64
	kept := c.docs[:0]
	for _, doc := range c.docs {
		if matchFilter(filter, doc) && (!one || removed == 0) {
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	return removed, nil
}

// collection returns the named collection, creating it if absent. Callers
// hold the write lock.
func (m *MemoryDriver) collection(name string) *memCollection {
	c, ok := m.colls[name]
	if !ok {
		c = &memCollection{indexes: make(map[string]IndexSpec)}
		m.colls[name] = c
	}
	return c
}

// checkUnique verifies candidate against every unique index, ignoring the
// document at position self.
func (c *memCollection) checkUnique(collection string, candidate map[string]interface{}, self int) error {
	for _, idx := range c.indexes {
		if !idx.Unique {
			continue
		}
		v := candidate[idx.Field]
		for i, doc := range c.docs {
			if i == self {
				continue
			}
			if equalValues(doc[idx.Field], v) {
				return &runtime.DuplicateKeyError{
					Table: collection,
					Cause: fmt.Errorf("index %s: value already present", idx.Name),
				}
			}
		}
	}
	return nil
}

func copyDoc(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func applyUpdate(doc, update map[string]interface{}) map[string]interface{} {
	next := copyDoc(doc)
	if set, ok := update["$set"].(map[string]interface{}); ok {
		for k, v := range set {
			next[k] = v
		}
	}
	if inc, ok := update["$inc"].(map[string]interface{}); ok {
		for k, v := range inc {
			next[k] = addNumeric(next[k], v)
		}
	}
	return next
}

// addNumeric sums two numeric values, keeping integer arithmetic when
// both sides are integral.
func addNumeric(cur, delta interface{}) interface{} {
	if ci, cok := asInt(cur); cok {
		if di, dok := asInt(delta); dok {
			return ci + di
		}
	}
	cf, _ := asFloat(cur)
	df, _ := asFloat(delta)
	return cf + df
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case nil:
		return 0, true
	}
	return 0, false
}

// matchFilter evaluates the translator's filter form against one document.
func matchFilter(filter, doc map[string]interface{}) bool {
	for key, cond := range filter {
		switch key {
		case "$and":
			for _, sub := range subFilters(cond) {
				if !matchFilter(sub, doc) {
					return false
				}
			}
		case "$or":
			any := false
			for _, sub := range subFilters(cond) {
				if matchFilter(sub, doc) {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		case "$nor":
			for _, sub := range subFilters(cond) {
				if matchFilter(sub, doc) {
					return false
				}
			}
		default:
			if !matchField(doc, key, cond) {
				return false
			}
		}
	}
	return true
}

func subFilters(v interface{}) []map[string]interface{} {
	switch s := v.(type) {
	case []map[string]interface{}:
		return s
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(s))
		for _, e := range s {
			if m, ok := e.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func matchField(doc map[string]interface{}, field string, cond interface{}) bool {
	val, present := doc[field]
	ops, isOps := cond.(map[string]interface{})
	if !isOps || !hasOperator(ops) {
		return equalValues(val, cond)
	}
	for op, arg := range ops {
		switch op {
		case "$ne":
			if equalValues(val, arg) {
				return false
			}
		case "$gt":
			if c, ok := compareValues(val, arg); !ok || c <= 0 {
				return false
			}
		case "$lt":
			if c, ok := compareValues(val, arg); !ok || c >= 0 {
				return false
			}
		case "$gte":
			if c, ok := compareValues(val, arg); !ok || c < 0 {
				return false
			}
		case "$lte":
			if c, ok := compareValues(val, arg); !ok || c > 0 {
				return false
			}
		case "$in":
			if !containsValue(arg, val) {
				return false
			}
		case "$nin":
			if containsValue(arg, val) {
				return false
			}
		case "$exists":
			want, _ := arg.(bool)
			if present != want {
				return false
			}
		case "$regex":
			if !matchRegex(val, arg, ops["$options"]) {
				return false
			}
		case "$options":
			// consumed by $regex
		default:
			return false
		}
	}
	return true
}

func hasOperator(m map[string]interface{}) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func containsValue(list, val interface{}) bool {
	items, ok := list.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if equalValues(val, item) {
			return true
		}
	}
	return false
}

func matchRegex(val, pattern, options interface{}) bool {
	s, ok := asString(val)
	if !ok {
		return false
	}
	p, ok := asString(pattern)
	if !ok {
		return false
	}
	if opts, ok := asString(options); ok && strings.Contains(opts, "i") {
		p = "(?i)" + p
	}
	matched, err := regexp.MatchString(p, s)
	return err == nil && matched
}

func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	ab, aOK := a.(bool)
	bb, bOK := b.(bool)
	if aOK && bOK {
		return ab == bb
	}
	return false
}

// compareValues orders two values of the same family: numbers numerically,
// strings (and byte slices) lexically.
func compareValues(a, b interface{}) (int, bool) {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if as, ok := asString(a); ok {
		bs, ok := asString(b)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

func sortDocs(docs []map[string]interface{}, terms []SortField) {
	if len(terms) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, term := range terms {
			c, ok := compareValues(docs[i][term.Field], docs[j][term.Field])
			if !ok || c == 0 {
				continue
			}
			if term.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
