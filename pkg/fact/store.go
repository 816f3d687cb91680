package fact

import (
	"fmt"
	"sort"
)

// Relation is a set of fixed-arity tuples with an accumulated state and a
// delta. Tuples are never removed: the accumulated set only grows during an
// evaluation run.
type Relation struct {
	name   string
	arity  int
	tuples map[string]Tuple // accumulated state
	delta  map[string]Tuple // facts added in the last completed iteration
}

// NewRelation creates an empty relation.
func NewRelation(name string, arity int) *Relation {
	return &Relation{
		name:   name,
		arity:  arity,
		tuples: make(map[string]Tuple),
		delta:  make(map[string]Tuple),
	}
}

// Name returns the relation name.
func (r *Relation) Name() string { return r.name }

// Arity returns the number of columns.
func (r *Relation) Arity() int { return r.arity }

// Insert adds a tuple to the accumulated state and, when the tuple is new,
// to the current delta. It reports whether the tuple was new.
func (r *Relation) Insert(t Tuple) (bool, error) {
	if len(t) != r.arity {
		return false, newStoreError(fmt.Sprintf("relation %q expects %d columns, got %d",
			r.name, r.arity, len(t)), nil)
	}

	key, err := Key(t)
	if err != nil {
		return false, err
	}

	if _, exists := r.tuples[key]; exists {
		return false, nil
	}

	stored := t.Copy()
	r.tuples[key] = stored
	r.delta[key] = stored
	return true, nil
}

// Contains reports whether the tuple is present in the accumulated state.
func (r *Relation) Contains(t Tuple) (bool, error) {
	key, err := Key(t)
	if err != nil {
		return false, err
	}
	_, exists := r.tuples[key]
	return exists, nil
}

// Len returns the number of accumulated tuples.
func (r *Relation) Len() int { return len(r.tuples) }

// DeltaLen returns the number of tuples in the current delta.
func (r *Relation) DeltaLen() int { return len(r.delta) }

// Tuples returns the accumulated tuples. The slices are copies; order is
// unspecified.
func (r *Relation) Tuples() []Tuple {
	result := make([]Tuple, 0, len(r.tuples))
	for _, t := range r.tuples {
		result = append(result, t.Copy())
	}
	return result
}

// Delta returns the tuples added during the last completed iteration.
func (r *Relation) Delta() []Tuple {
	result := make([]Tuple, 0, len(r.delta))
	for _, t := range r.delta {
		result = append(result, t.Copy())
	}
	return result
}

// ClearDelta empties the delta. Called at the start of each iteration, after
// the previous delta has been consumed.
func (r *Relation) ClearDelta() {
	r.delta = make(map[string]Tuple)
}

// ResetDelta marks every accumulated tuple as new again. Used when a stratum
// starts evaluating: everything derived so far is unseen by its rules.
func (r *Relation) ResetDelta() {
	r.delta = make(map[string]Tuple, len(r.tuples))
	for key, t := range r.tuples {
		r.delta[key] = t
	}
}

// Lattice maps a key prefix (all columns but the last) to a single value in
// the last column. Values only ever move upward under the join order.
type Lattice struct {
	name   string
	arity  int
	join   JoinFunc
	values map[string]Tuple // key prefix JSON -> full tuple with current value
	delta  map[string]Tuple
}

// JoinFunc merges two lattice values. The engine trusts it to be
// commutative, associative and idempotent; the induced order "a <= b iff
// join(a,b) = b" must be consistent. Violations cause non-termination or a
// wrong fixpoint, not a detected error.
type JoinFunc func(a, b Value) (Value, error)

// NewLattice creates an empty lattice relation. The arity includes the value
// column, so arity-1 columns form the key prefix.
func NewLattice(name string, arity int, join JoinFunc) *Lattice {
	return &Lattice{
		name:   name,
		arity:  arity,
		join:   join,
		values: make(map[string]Tuple),
		delta:  make(map[string]Tuple),
	}
}

// Name returns the lattice name.
func (l *Lattice) Name() string { return l.name }

// Arity returns the number of columns, including the value column.
func (l *Lattice) Arity() int { return l.arity }

// Merge folds a candidate fact into the lattice. A missing key is inserted
// as-is; an existing key's value is replaced by join(candidate, old) when
// the merged value differs from the old one. It reports whether the stored
// value changed.
func (l *Lattice) Merge(t Tuple) (bool, error) {
	if len(t) != l.arity {
		return false, newStoreError(fmt.Sprintf("lattice %q expects %d columns, got %d",
			l.name, l.arity, len(t)), nil)
	}

	key, err := Key(t[:l.arity-1])
	if err != nil {
		return false, err
	}

	old, exists := l.values[key]
	if !exists {
		stored := t.Copy()
		l.values[key] = stored
		l.delta[key] = stored
		return true, nil
	}

	merged, err := l.join(t[l.arity-1], old[l.arity-1])
	if err != nil {
		return false, newStoreError(fmt.Sprintf("join failed on lattice %q", l.name), err)
	}

	same, err := Same(merged, old[l.arity-1])
	if err != nil {
		return false, err
	}
	if same {
		return false, nil
	}

	stored := old.Copy()
	stored[l.arity-1] = merged
	l.values[key] = stored
	l.delta[key] = stored
	return true, nil
}

// Get returns the current value stored under the given key prefix.
func (l *Lattice) Get(key Tuple) (Value, bool, error) {
	if len(key) != l.arity-1 {
		return nil, false, newStoreError(fmt.Sprintf("lattice %q expects a %d-column key, got %d columns",
			l.name, l.arity-1, len(key)), nil)
	}

	k, err := Key(key)
	if err != nil {
		return nil, false, err
	}

	t, exists := l.values[k]
	if !exists {
		return nil, false, nil
	}
	return t[l.arity-1], true, nil
}

// Len returns the number of keys with a stored value.
func (l *Lattice) Len() int { return len(l.values) }

// DeltaLen returns the number of keys whose value changed in the last
// completed iteration.
func (l *Lattice) DeltaLen() int { return len(l.delta) }

// Tuples returns the current (key, value) rows as full tuples.
func (l *Lattice) Tuples() []Tuple {
	result := make([]Tuple, 0, len(l.values))
	for _, t := range l.values {
		result = append(result, t.Copy())
	}
	return result
}

// Delta returns the rows whose value changed during the last completed
// iteration.
func (l *Lattice) Delta() []Tuple {
	result := make([]Tuple, 0, len(l.delta))
	for _, t := range l.delta {
		result = append(result, t.Copy())
	}
	return result
}

// ClearDelta empties the delta.
func (l *Lattice) ClearDelta() {
	l.delta = make(map[string]Tuple)
}

// ResetDelta marks every stored row as changed again.
func (l *Lattice) ResetDelta() {
	l.delta = make(map[string]Tuple, len(l.values))
	for key, t := range l.values {
		l.delta[key] = t
	}
}

// Database is the full collection of relations and lattices owned by one
// evaluation run. It is not safe for concurrent mutation.
type Database struct {
	relations map[string]*Relation
	lattices  map[string]*Lattice
	order     []string // declaration order, for deterministic iteration
}

// NewDatabase creates an empty database.
func NewDatabase() *Database {
	return &Database{
		relations: make(map[string]*Relation),
		lattices:  make(map[string]*Lattice),
	}
}

// AddRelation declares a plain relation.
func (db *Database) AddRelation(name string, arity int) (*Relation, error) {
	if err := db.checkName(name); err != nil {
		return nil, err
	}
	r := NewRelation(name, arity)
	db.relations[name] = r
	db.order = append(db.order, name)
	return r, nil
}

// AddLattice declares a lattice relation.
func (db *Database) AddLattice(name string, arity int, join JoinFunc) (*Lattice, error) {
	if err := db.checkName(name); err != nil {
		return nil, err
	}
	if join == nil {
		return nil, newStoreError(fmt.Sprintf("lattice %q requires a join function", name), nil)
	}
	l := NewLattice(name, arity, join)
	db.lattices[name] = l
	db.order = append(db.order, name)
	return l, nil
}

func (db *Database) checkName(name string) error {
	if _, ok := db.relations[name]; ok {
		return newStoreError(fmt.Sprintf("relation %q already declared", name), nil)
	}
	if _, ok := db.lattices[name]; ok {
		return newStoreError(fmt.Sprintf("lattice %q already declared", name), nil)
	}
	return nil
}

// Relation returns the named plain relation, or nil.
func (db *Database) Relation(name string) *Relation { return db.relations[name] }

// Lattice returns the named lattice, or nil.
func (db *Database) Lattice(name string) *Lattice { return db.lattices[name] }

// IsLattice reports whether the named collection is a lattice.
func (db *Database) IsLattice(name string) bool {
	_, ok := db.lattices[name]
	return ok
}

// Has reports whether the name is declared at all.
func (db *Database) Has(name string) bool {
	if _, ok := db.relations[name]; ok {
		return true
	}
	_, ok := db.lattices[name]
	return ok
}

// Names returns all declared names in declaration order.
func (db *Database) Names() []string {
	out := make([]string, len(db.order))
	copy(out, db.order)
	return out
}

// Tuples returns the accumulated rows of the named relation or lattice.
func (db *Database) Tuples(name string) []Tuple {
	if r, ok := db.relations[name]; ok {
		return r.Tuples()
	}
	if l, ok := db.lattices[name]; ok {
		return l.Tuples()
	}
	return nil
}

// Len returns the number of accumulated rows of the named relation or
// lattice.
func (db *Database) Len(name string) int {
	if r, ok := db.relations[name]; ok {
		return r.Len()
	}
	if l, ok := db.lattices[name]; ok {
		return l.Len()
	}
	return 0
}

// SortTuples orders tuples by their canonical JSON key. Useful for
// deterministic output and test assertions.
func SortTuples(ts []Tuple) []Tuple {
	keyed := make([]struct {
		key string
		t   Tuple
	}, len(ts))
	for i, t := range ts {
		k, err := Key(t)
		if err != nil {
			k = t.String()
		}
		keyed[i] = struct {
			key string
			t   Tuple
		}{k, t}
	}
	sort.Slice(keyed, func(i, j int) bool { return keyed[i].key < keyed[j].key })

	out := make([]Tuple, len(ts))
	for i := range keyed {
		out[i] = keyed[i].t
	}
	return out
}
