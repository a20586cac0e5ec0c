package objdb

import (
	"context"
	"errors"
	"fmt"
)

// M2M is a many-to-many collection reached through a link table:
// parent -> link rows -> target rows. Selecting yields target objects;
// extra link-row columns travel on Add.
//
// The parent-facing side reuses [Relation], so children linked before the
// parent has a key inherit the same deferred stamping.
type M2M struct {
	links    *Relation
	target   *Table
	targetFK string
}

var _ Selectable = (*M2M)(nil)

// NewM2M builds a many-to-many view. linkFK is the link-table column
// holding the parent's key, targetFK the one holding the target's key.
// The target table must have a single-column primary key.
func NewM2M(parent *Object, link, target *Table, linkFK, targetFK string) (*M2M, error) {
	if target == nil {
		return nil, errors.New("m2m: target table is nil")
	}

	if link == nil {
		return nil, errors.New("m2m: link table is nil")
	}

	if !link.schema.HasColumn(targetFK) {
		return nil, withContext(fmt.Errorf("m2m: target key %s: %w", targetFK, ErrUnknownAttribute), link.schema.Name, "")
	}

	if len(target.schema.PrimaryKey) != 1 {
		return nil, fmt.Errorf("m2m: target table %s needs a single-column primary key", target.schema.Name)
	}

	links, err := NewRelation(parent, link, linkFK)
	if err != nil {
		return nil, fmt.Errorf("m2m: %w", err)
	}

	return &M2M{links: links, target: target, targetFK: targetFK}, nil
}

// Schema returns the target table's metadata.
func (m *M2M) Schema() *TableSchema { return m.target.schema }

// Select streams target objects reachable through the link table,
// filtered by where. Link rows are walked lazily; each one resolves its
// target through the target table's identity map.
func (m *M2M) Select(ctx context.Context, where Where) (*Cursor, error) {
	linkCur, err := m.links.Select(ctx, nil)
	if err != nil {
		return nil, err
	}

	targetPK := m.target.schema.PrimaryKey[0]

	var inner *Cursor

	next := func() (*Object, error) {
		for {
			if inner != nil {
				if inner.Next() {
					o := inner.Object()
					if o.matches(where) {
						return o, nil
					}

					continue
				}

				innerErr := inner.Err()
				_ = inner.Close()
				inner = nil

				if innerErr != nil {
					return nil, innerErr
				}
			}

			if !linkCur.Next() {
				return nil, linkCur.Err()
			}

			targetKey, _ := linkCur.Object().Get(m.targetFK)
			if targetKey == nil {
				continue
			}

			inner, err = m.target.Select(ctx, Where{targetPK: targetKey})
			if err != nil {
				return nil, err
			}
		}
	}

	closefn := func() error {
		if inner != nil {
			_ = inner.Close()
		}

		return linkCur.Close()
	}

	return newFuncCursor(next, closefn), nil
}

// Add links a target to the parent, creating the link row. extra supplies
// additional link-row columns. An unpersisted target is added to its
// table first. The link row itself is deferred while the parent has no
// key, like any relation child.
func (m *M2M) Add(ctx context.Context, target *Object, extra map[string]any) (*Object, error) {
	if target == nil {
		return nil, errors.New("m2m add: target is nil")
	}

	if target.tbl != m.target {
		return nil, fmt.Errorf("m2m add: object belongs to table %s, not %s", target.tbl.schema.Name, m.target.schema.Name)
	}

	if target.IsNew() {
		_, err := m.target.Add(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("m2m add: %w", err)
		}
	}

	targetKey, _ := target.Get(m.target.schema.PrimaryKey[0])
	if targetKey == nil {
		return nil, withContext(fmt.Errorf("m2m add: target: %w", ErrNoKey), m.target.schema.Name, "")
	}

	overrides := make(map[string]any, len(extra)+1)

	for col, v := range extra {
		overrides[col] = v
	}

	overrides[m.targetFK] = targetKey

	link, err := m.links.child.New(overrides)
	if err != nil {
		return nil, fmt.Errorf("m2m add: %w", err)
	}

	err = m.links.Add(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("m2m add: %w", err)
	}

	return link, nil
}

// Remove unlinks a target from the parent by deleting its link row. The
// target row itself is untouched. Removing an unlinked target is a no-op.
func (m *M2M) Remove(ctx context.Context, target *Object) error {
	if target == nil {
		return errors.New("m2m remove: target is nil")
	}

	targetKey, _ := target.Get(m.target.schema.PrimaryKey[0])
	if targetKey == nil {
		return nil
	}

	link, err := SelectAnyOne(ctx, m.links, Where{m.targetFK: targetKey})
	if err != nil {
		return fmt.Errorf("m2m remove: %w", err)
	}

	if link == nil {
		return nil
	}

	err = m.links.Remove(ctx, link)
	if err != nil {
		return fmt.Errorf("m2m remove: %w", err)
	}

	return nil
}

// Contains reports whether the target is linked to the parent.
func (m *M2M) Contains(ctx context.Context, target *Object) (bool, error) {
	if target == nil {
		return false, errors.New("m2m contains: target is nil")
	}

	targetKey, _ := target.Get(m.target.schema.PrimaryKey[0])
	if targetKey == nil {
		return false, nil
	}

	link, err := SelectAnyOne(ctx, m.links, Where{m.targetFK: targetKey})
	if err != nil {
		return false, err
	}

	return link != nil, nil
}
