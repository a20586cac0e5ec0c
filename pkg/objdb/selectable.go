package objdb

import (
	"context"
	"fmt"
)

// Selectable is the shared read contract implemented by tables, caches and
// relation collections. The package-level helpers ([SelectOne], [Get],
// [Count], ...) provide the derived operations on top of it.
type Selectable interface {
	// Select streams objects matching all constraints. Each call
	// re-queries; order is unspecified unless the concrete collection
	// documents one.
	Select(ctx context.Context, where Where) (*Cursor, error)

	// Schema returns the static metadata of the collection's row type.
	Schema() *TableSchema
}

// counter is the optional fast-count extension. Collections that can
// count without hydrating every row implement it; [Count] picks it up.
type counter interface {
	Count(ctx context.Context, where Where) (int64, error)
}

// SelectOne returns the single object matching where, or nil when none
// match. More than one match is an error: it pulls at most two items from
// the stream and fails with [ErrTooManyResults] on the second, without
// materializing the rest.
func SelectOne(ctx context.Context, s Selectable, where Where) (*Object, error) {
	cur, err := s.Select(ctx, where)
	if err != nil {
		return nil, err
	}

	defer func() { _ = cur.Close() }()

	if !cur.Next() {
		return nil, cur.Err()
	}

	one := cur.Object()

	if cur.Next() {
		return nil, withContext(ErrTooManyResults, s.Schema().Name, "")
	}

	if err := cur.Err(); err != nil {
		return nil, err
	}

	return one, nil
}

// SelectAnyOne returns the first object matching where, or nil when none
// match. Unlike [SelectOne] it tolerates multiple matches.
func SelectAnyOne(ctx context.Context, s Selectable, where Where) (*Object, error) {
	cur, err := s.Select(ctx, where)
	if err != nil {
		return nil, err
	}

	defer func() { _ = cur.Close() }()

	if !cur.Next() {
		return nil, cur.Err()
	}

	return cur.Object(), nil
}

// idWhere turns a positional identifier into a primary-key constraint.
// The collection's primary key must be exactly one column.
func idWhere(s Selectable, id any) (Where, error) {
	ts := s.Schema()
	if len(ts.PrimaryKey) != 1 {
		return nil, fmt.Errorf("table %s: positional id requires a single-column primary key", ts.Name)
	}

	return Where{ts.PrimaryKey[0]: normalizeValue(id)}, nil
}

// Get returns the object with the given single-column primary key, or nil
// when absent. Use [GetWhere] for compound keys or arbitrary constraints.
func Get(ctx context.Context, s Selectable, id any) (*Object, error) {
	where, err := idWhere(s, id)
	if err != nil {
		return nil, err
	}

	return SelectOne(ctx, s, where)
}

// GetWhere returns the single object matching where, or nil when absent.
func GetWhere(ctx context.Context, s Selectable, where Where) (*Object, error) {
	return SelectOne(ctx, s, where)
}

// Lookup is the required-lookup form of [Get]: absent is an error.
func Lookup(ctx context.Context, s Selectable, id any) (*Object, error) {
	o, err := Get(ctx, s, id)
	if err != nil {
		return nil, err
	}

	if o == nil {
		return nil, withContext(fmt.Errorf("id %v: %w", id, ErrNotFound), s.Schema().Name, "")
	}

	return o, nil
}

// LookupWhere is the required-lookup form of [GetWhere].
func LookupWhere(ctx context.Context, s Selectable, where Where) (*Object, error) {
	o, err := SelectOne(ctx, s, where)
	if err != nil {
		return nil, err
	}

	if o == nil {
		return nil, withContext(fmt.Errorf("%v: %w", where, ErrNotFound), s.Schema().Name, "")
	}

	return o, nil
}

// Contains reports whether a matching row exists: by full primary key when
// given an *Object, by single-column id otherwise.
func Contains(ctx context.Context, s Selectable, item any) (bool, error) {
	if o, ok := item.(*Object); ok {
		where, err := o.pkWhere()
		if err != nil {
			return false, err
		}

		found, err := SelectOne(ctx, s, where)
		if err != nil {
			return false, err
		}

		return found != nil, nil
	}

	found, err := Get(ctx, s, item)
	if err != nil {
		return false, err
	}

	return found != nil, nil
}

// Count returns the number of objects matching where. Collections with a
// backend-side count are used directly; everything else walks the stream.
func Count(ctx context.Context, s Selectable, where Where) (int64, error) {
	if c, ok := s.(counter); ok {
		return c.Count(ctx, where)
	}

	cur, err := s.Select(ctx, where)
	if err != nil {
		return 0, err
	}

	defer func() { _ = cur.Close() }()

	var n int64

	for cur.Next() {
		n++
	}

	if err := cur.Err(); err != nil {
		return 0, err
	}

	return n, nil
}

// All materializes Select with empty constraints. It is the iteration
// form of the contract; prefer ranging over a cursor for large tables.
func All(ctx context.Context, s Selectable) ([]*Object, error) {
	cur, err := s.Select(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() { _ = cur.Close() }()

	var objs []*Object

	for cur.Next() {
		objs = append(objs, cur.Object())
	}

	if err := cur.Err(); err != nil {
		return nil, err
	}

	return objs, nil
}
