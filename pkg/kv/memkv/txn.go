package memkv

import (
	"errors"
	"sort"
	"strings"

	"github.com/sanonone/tagdb/pkg/kv"
)

// txn overlays uncommitted writes on the shared tree.
type txn struct {
	store    *Store
	readOnly bool

	// pending maps a key to its new value; a nil entry marks a delete.
	pending map[string]*[]byte
}

func (t *txn) Get(key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := t.pending[k]; ok {
		if v == nil {
			return nil, kv.ErrKeyNotFound
		}
		return cloneBytes(*v), nil
	}
	v, ok := t.store.getCommitted(k)
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	return cloneBytes(v), nil
}

func (t *txn) Set(key, value []byte) error {
	if t.readOnly {
		return kv.ErrReadOnly
	}
	v := cloneBytes(value)
	t.pending[string(key)] = &v
	return nil
}

func (t *txn) Delete(key []byte) error {
	if t.readOnly {
		return kv.ErrReadOnly
	}
	t.pending[string(key)] = nil
	return nil
}

func (t *txn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)

	type entry struct {
		key   string
		value []byte
	}
	var entries []entry
	t.store.scanCommitted(p, func(it item) bool {
		if _, overlaid := t.pending[it.key]; !overlaid {
			entries = append(entries, entry{key: it.key, value: it.value})
		}
		return true
	})
	for k, v := range t.pending {
		if v != nil && strings.HasPrefix(k, p) {
			entries = append(entries, entry{key: k, value: *v})
		}
	}
	if len(t.pending) > 0 {
		sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	}

	for _, e := range entries {
		if err := fn([]byte(e.key), cloneBytes(e.value)); err != nil {
			if errors.Is(err, kv.ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t *txn) sortedPendingKeys() []string {
	keys := make([]string, 0, len(t.pending))
	for k := range t.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
