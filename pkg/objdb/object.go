package objdb

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Object is the single live in-memory representative of one database row.
//
// Objects are created through their [Table] (fresh via [Table.New],
// hydrated inside [Table.Select]) and never constructed directly. Within
// one table there is at most one live Object per primary-key tuple.
//
// Reads are safe from any goroutine and always see committed state.
// Writes happen only inside [Object.Update]. Attribute values are treated
// as immutable; do not modify a []byte returned by a getter.
type Object struct {
	tbl *Table

	// attrMu guards attrs, isNew and savedPK. attrs is swapped wholesale
	// on commit so readers never observe a half-applied change set.
	attrMu  sync.RWMutex
	attrs   map[string]any
	isNew   bool
	savedPK map[string]any

	// lock serializes mutation scopes on this object. Capacity-1 channel
	// so acquisition can honor context cancellation. owner records the
	// holding goroutine so re-entrant acquisition fails instead of
	// deadlocking.
	lock  chan struct{}
	owner atomic.Uint64

	relMu     sync.Mutex
	relations []*Relation
}

func newObject(t *Table, attrs map[string]any, isNew bool) *Object {
	o := &Object{
		tbl:   t,
		attrs: attrs,
		isNew: isNew,
		lock:  make(chan struct{}, 1),
	}

	if !isNew {
		o.savedPK = o.currentPKLocked()
	}

	return o
}

// Table returns the owning table.
func (o *Object) Table() *Table { return o.tbl }

// IsNew reports whether the object has not yet been persisted.
func (o *Object) IsNew() bool {
	o.attrMu.RLock()
	defer o.attrMu.RUnlock()

	return o.isNew
}

// Get returns the committed value of a column. ok is false when the
// column is not part of the schema.
func (o *Object) Get(col string) (any, bool) {
	if !o.tbl.schema.HasColumn(col) {
		return nil, false
	}

	o.attrMu.RLock()
	defer o.attrMu.RUnlock()

	return o.attrs[col], true
}

// Int returns a column as int64.
func (o *Object) Int(col string) (int64, bool) {
	v, ok := o.Get(col)
	if !ok {
		return 0, false
	}

	i, ok := normalizeValue(v).(int64)

	return i, ok
}

// Float returns a column as float64.
func (o *Object) Float(col string) (float64, bool) {
	v, ok := o.Get(col)
	if !ok {
		return 0, false
	}

	switch x := normalizeValue(v).(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

// Text returns a column as string.
func (o *Object) Text(col string) (string, bool) {
	v, ok := o.Get(col)
	if !ok {
		return "", false
	}

	s, ok := v.(string)

	return s, ok
}

// Bytes returns a column as []byte.
func (o *Object) Bytes(col string) ([]byte, bool) {
	v, ok := o.Get(col)
	if !ok {
		return nil, false
	}

	b, ok := v.([]byte)

	return b, ok
}

// Bool returns a column as bool. Integer 0/1 is accepted.
func (o *Object) Bool(col string) (bool, bool) {
	v, ok := o.Get(col)
	if !ok {
		return false, false
	}

	switch x := normalizeValue(v).(type) {
	case bool:
		return x, true
	case int64:
		return x != 0, true
	default:
		return false, false
	}
}

// Attributes returns a copy of the committed attribute map.
func (o *Object) Attributes() map[string]any {
	o.attrMu.RLock()
	defer o.attrMu.RUnlock()

	return cloneAttrs(o.attrs)
}

// PrimaryKey returns the encoded primary-key tuple. It fails with
// [ErrNoKey] while any key attribute is nil (e.g. before an auto-key
// object is added).
func (o *Object) PrimaryKey() (Key, error) {
	o.attrMu.RLock()
	defer o.attrMu.RUnlock()

	return o.pkLocked()
}

func (o *Object) pkLocked() (Key, error) {
	vals := make([]any, 0, len(o.tbl.schema.PrimaryKey))

	for _, col := range o.tbl.schema.PrimaryKey {
		vals = append(vals, o.attrs[col])
	}

	key, err := encodeKey(vals)
	if err != nil {
		return "", withContext(err, o.tbl.schema.Name, "")
	}

	return key, nil
}

// currentPKLocked snapshots the primary-key attributes; nil entries are
// kept so callers can detect incomplete keys.
func (o *Object) currentPKLocked() map[string]any {
	pk := make(map[string]any, len(o.tbl.schema.PrimaryKey))

	for _, col := range o.tbl.schema.PrimaryKey {
		pk[col] = o.attrs[col]
	}

	return pk
}

// pkWhere builds the equality constraints identifying this row.
func (o *Object) pkWhere() (Where, error) {
	o.attrMu.RLock()
	defer o.attrMu.RUnlock()

	where := make(Where, len(o.tbl.schema.PrimaryKey))

	for _, col := range o.tbl.schema.PrimaryKey {
		v := o.attrs[col]
		if v == nil {
			return nil, withContext(fmt.Errorf("column %s: %w", col, ErrNoKey), o.tbl.schema.Name, "")
		}

		where[col] = v
	}

	return where, nil
}

// savedPKWhere identifies the row as last persisted, which is what an
// update must target when the scope changed a key attribute.
func (o *Object) savedPKWhere() (Where, error) {
	o.attrMu.RLock()
	defer o.attrMu.RUnlock()

	if o.savedPK == nil {
		return nil, withContext(ErrNoKey, o.tbl.schema.Name, "")
	}

	where := make(Where, len(o.savedPK))

	for col, v := range o.savedPK {
		if v == nil {
			return nil, withContext(fmt.Errorf("column %s: %w", col, ErrNoKey), o.tbl.schema.Name, "")
		}

		where[col] = v
	}

	return where, nil
}

// matches reports whether committed attributes satisfy every constraint.
func (o *Object) matches(where Where) bool {
	if len(where) == 0 {
		return true
	}

	o.attrMu.RLock()
	defer o.attrMu.RUnlock()

	return matchWhere(o.attrs, where)
}

// setAttr writes an attribute on a not-yet-persisted object. Persisted
// objects must use [Object.Update].
func (o *Object) setAttr(col string, v any) error {
	if !o.tbl.schema.HasColumn(col) {
		return withContext(fmt.Errorf("column %s: %w", col, ErrUnknownAttribute), o.tbl.schema.Name, "")
	}

	o.attrMu.Lock()
	defer o.attrMu.Unlock()

	if !o.isNew {
		return withContext(fmt.Errorf("column %s: object is persisted, write inside Update", col), o.tbl.schema.Name, "")
	}

	o.attrs[col] = normalizeValue(v)

	return nil
}

// snapshotAttrs copies the committed attribute map.
func (o *Object) snapshotAttrs() map[string]any {
	o.attrMu.RLock()
	defer o.attrMu.RUnlock()

	return cloneAttrs(o.attrs)
}

// swapAttrs atomically replaces the attribute map.
func (o *Object) swapAttrs(attrs map[string]any) {
	o.attrMu.Lock()
	defer o.attrMu.Unlock()

	o.attrs = attrs
}

// acquire takes the per-object scope lock, honoring ctx cancellation
// while blocked. This is the serialization point for concurrent writers.
// Re-entrant acquisition by the holding goroutine fails immediately with
// [ErrNestedScope].
func (o *Object) acquire(ctx context.Context) error {
	gid := goroutineID()
	if gid != 0 && o.owner.Load() == gid {
		return withContext(fmt.Errorf("acquire entity lock: %w", ErrNestedScope), o.tbl.schema.Name, "")
	}

	select {
	case o.lock <- struct{}{}:
		o.owner.Store(gid)

		return nil
	default:
	}

	select {
	case o.lock <- struct{}{}:
		o.owner.Store(gid)

		return nil
	case <-ctx.Done():
		return withContext(fmt.Errorf("acquire entity lock: %w", ctx.Err()), o.tbl.schema.Name, "")
	}
}

func (o *Object) release() {
	o.owner.Store(0)
	<-o.lock
}

// goroutineID parses the current goroutine's id out of its stack header.
// Only used to detect re-entrant lock acquisition.
func goroutineID() uint64 {
	var buf [64]byte

	n := runtime.Stack(buf[:], false)

	s, _, _ := strings.Cut(strings.TrimPrefix(string(buf[:n]), "goroutine "), " ")

	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}

	return id
}

// registerRelation attaches a relation so deferred children are flushed
// when the object is first persisted.
func (o *Object) registerRelation(r *Relation) {
	o.relMu.Lock()
	defer o.relMu.Unlock()

	o.relations = append(o.relations, r)
}

// flushRelations persists children that were added before this object had
// a primary key. Called after a successful insert, under the scope lock.
func (o *Object) flushRelations(ctx context.Context) error {
	o.relMu.Lock()
	rels := make([]*Relation, len(o.relations))
	copy(rels, o.relations)
	o.relMu.Unlock()

	for _, r := range rels {
		err := r.flushDeferred(ctx)
		if err != nil {
			return err
		}
	}

	return nil
}

// Less orders objects by encoded primary key. Objects without a complete
// key sort first.
func (o *Object) Less(other *Object) bool {
	ka, errA := o.PrimaryKey()
	kb, errB := other.PrimaryKey()

	if errA != nil {
		return errB == nil
	}

	if errB != nil {
		return false
	}

	return ka < kb
}

// String renders the table name and key for logs and errors.
func (o *Object) String() string {
	key, err := o.PrimaryKey()
	if err != nil {
		return o.tbl.schema.Name + "(new)"
	}

	return o.tbl.schema.Name + "(" + string(key) + ")"
}

// SortObjects orders objects deterministically by primary key.
func SortObjects(objs []*Object) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Less(objs[j]) })
}
