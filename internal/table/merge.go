package table

import (
	"fmt"
	"strings"
)

// maxKeyColumns bounds composite keys so they fit a comparable array.
const maxKeyColumns = 4

// rowKey is a typed composite key. Unlike a concatenated string it keeps the
// kind of each component, so int 1 and string "1" never collide.
type rowKey [maxKeyColumns]Value

func makeKey(r Record, keys []string) (rowKey, error) {
	var k rowKey
	if len(keys) == 0 || len(keys) > maxKeyColumns {
		return k, fmt.Errorf("key must have 1 to %d columns, got %d", maxKeyColumns, len(keys))
	}
	for i, name := range keys {
		v, ok := r[name]
		if !ok {
			return k, fmt.Errorf("row has no key column %q", name)
		}
		k[i] = v
	}
	return k, nil
}

func describeKey(r Record, keys []string) string {
	parts := make([]string, len(keys))
	for i, name := range keys {
		parts[i] = name + "=" + r[name].String()
	}
	return strings.Join(parts, " ")
}

// Upsert merges next into prev: rows of prev whose key appears in next are
// replaced, all rows of next are kept, and the remaining rows of prev are
// carried over unchanged. Both tables must have the same column set; when
// they do not, reconcile with AddMissingColumns first. When no row of prev
// survives, the result is a copy of next.
//
// Neither input is modified.
func Upsert(prev, next *Table, keys ...string) (*Table, error) {
	if prev == nil || prev.Len() == 0 {
		if prev != nil {
			if err := sameColumns(prev, next); err != nil {
				return nil, err
			}
		}
		return next.Clone(), nil
	}
	if err := sameColumns(prev, next); err != nil {
		return nil, err
	}

	replace := make(map[rowKey]struct{}, len(next.Rows))
	for _, r := range next.Rows {
		k, err := makeKey(r, keys)
		if err != nil {
			return nil, fmt.Errorf("new table: %w", err)
		}
		if _, dup := replace[k]; dup {
			return nil, fmt.Errorf("new table: %w: %s", ErrDuplicateKey, describeKey(r, keys))
		}
		replace[k] = struct{}{}
	}

	out := New(next.Columns)
	for _, r := range prev.Rows {
		k, err := makeKey(r, keys)
		if err != nil {
			return nil, fmt.Errorf("old table: %w", err)
		}
		if _, ok := replace[k]; ok {
			continue
		}
		out.Rows = append(out.Rows, r.Clone())
	}
	if len(out.Rows) == 0 {
		return next.Clone(), nil
	}
	for _, r := range next.Rows {
		out.Rows = append(out.Rows, r.Clone())
	}
	return out, nil
}

func sameColumns(a, b *Table) error {
	missing, extra := diffNames(sortedNames(a.Columns), sortedNames(b.Columns))
	if len(missing)+len(extra) == 0 {
		return nil
	}
	return fmt.Errorf("%w: only in old table: %s; only in new table: %s",
		ErrSchemaMismatch, joinOrNone(missing), joinOrNone(extra))
}

func sortedNames(s Schema) []string {
	r := make(Record, len(s))
	for _, c := range s {
		r[c.Name] = Value{}
	}
	return r.Names()
}
