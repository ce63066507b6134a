package storage

import (
	"bytes"
	"sync"
)

// constraint.go implements existence and unique constraints from §4.3:
// a dispatch over constraint kinds backed by a values map guarded by its
// own mutex, adapted from Neo4j-style immediate uniqueness checks into a
// first-committer-wins model, where the check runs once more at commit
// time against the snapshot the committing transaction is about to
// publish into.

// ExistenceConstraint requires every vertex carrying Label to have
// Property set.
type ExistenceConstraint struct {
	Label    LabelId
	Property PropertyId
}

// UniqueConstraint requires the tuple of values at Properties (for
// vertices carrying Label) to be unique among committed vertices.
type UniqueConstraint struct {
	Label      LabelId
	Properties []PropertyId
}

type uniqueKey struct {
	label  LabelId
	values string // deterministic encoding of the property tuple
}

// uniqueReservation associates a reserved value-tuple key with the
// vertex that reserved it, so a transaction that does not ultimately
// commit can release exactly the reservations it made rather than
// blocking that value tuple for every future committer.
type uniqueReservation struct {
	key uniqueKey
	gid Gid
}

// ConstraintManager owns every constraint defined on the store and the
// secondary index used to enforce uniqueness.
type ConstraintManager struct {
	mu          sync.Mutex
	existence   map[ExistenceConstraint]struct{}
	unique      map[string][]UniqueConstraint // keyed by label+properties signature, for lookup/drop
	uniqueIndex map[uniqueKey]Gid             // last committed holder of a value tuple
}

func NewConstraintManager() *ConstraintManager {
	return &ConstraintManager{
		existence:   make(map[ExistenceConstraint]struct{}),
		unique:      make(map[string][]UniqueConstraint),
		uniqueIndex: make(map[uniqueKey]Gid),
	}
}

func uniqueSignature(label LabelId, props []PropertyId) string {
	buf := make([]byte, 0, 4+4*len(props))
	buf = appendU32(buf, uint32(label))
	for _, p := range props {
		buf = appendU32(buf, uint32(p))
	}
	return string(buf)
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (m *ConstraintManager) CreateExistenceConstraint(c ExistenceConstraint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.existence[c]; ok {
		return IndexDefinitionError{Reason: "existence constraint already exists"}
	}
	m.existence[c] = struct{}{}
	return nil
}

func (m *ConstraintManager) DropExistenceConstraint(c ExistenceConstraint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.existence[c]; !ok {
		return IndexDefinitionError{Reason: "existence constraint does not exist"}
	}
	delete(m.existence, c)
	return nil
}

func (m *ConstraintManager) CreateUniqueConstraint(c UniqueConstraint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig := uniqueSignature(c.Label, c.Properties)
	if _, ok := m.unique[sig]; ok {
		return IndexDefinitionError{Reason: "unique constraint already exists"}
	}
	m.unique[sig] = []UniqueConstraint{c}
	return nil
}

func (m *ConstraintManager) DropUniqueConstraint(c UniqueConstraint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig := uniqueSignature(c.Label, c.Properties)
	if _, ok := m.unique[sig]; !ok {
		return IndexDefinitionError{Reason: "unique constraint does not exist"}
	}
	delete(m.unique, sig)
	return nil
}

func (m *ConstraintManager) existenceConstraintsFor(label LabelId) []ExistenceConstraint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExistenceConstraint, 0)
	for c := range m.existence {
		if c.Label == label {
			out = append(out, c)
		}
	}
	return out
}

func (m *ConstraintManager) uniqueConstraintsFor(label LabelId) []UniqueConstraint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UniqueConstraint, 0)
	for _, cs := range m.unique {
		for _, c := range cs {
			if c.Label == label {
				out = append(out, c)
			}
		}
	}
	return out
}

// AllExistenceConstraints lists every defined existence constraint, used
// by the snapshot writer's constraints-metadata section.
func (m *ConstraintManager) AllExistenceConstraints() []ExistenceConstraint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExistenceConstraint, 0, len(m.existence))
	for c := range m.existence {
		out = append(out, c)
	}
	return out
}

// AllUniqueConstraints lists every defined unique constraint.
func (m *ConstraintManager) AllUniqueConstraints() []UniqueConstraint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UniqueConstraint, 0)
	for _, cs := range m.unique {
		out = append(out, cs...)
	}
	return out
}

// validateExistence checks a vertex snapshot against every existence
// constraint on its labels, resolving ids to names through mapper for
// the returned ConstraintViolation.
func validateExistence(mgr *ConstraintManager, mapper *NameMapper, gid Gid, snap vertexSnapshot) error {
	for label := range snap.labels {
		for _, c := range mgr.existenceConstraintsFor(label) {
			if _, ok := snap.properties[c.Property]; !ok {
				labelName, _ := mapper.LabelName(c.Label)
				propName, _ := mapper.PropertyName(c.Property)
				return ConstraintViolation{Kind: ConstraintKindExistence, Label: labelName, Properties: []string{propName}, Gid: gid, HasGid: true}
			}
		}
	}
	return nil
}

// checkAndReserveUnique validates first-committer-wins uniqueness for
// gid's tuple at c and, if it passes, reserves the tuple for gid. The
// check and the reservation both happen under m.mu, so the pair is
// atomic with respect to other committers.
// The returned reservation, when ok is true, must be released via
// releaseUniqueReservations if the calling transaction aborts instead
// of committing.
func (m *ConstraintManager) checkAndReserveUnique(c UniqueConstraint, gid Gid, snap vertexSnapshot) (reservation uniqueReservation, ok bool, err error) {
	values := make([]PropertyValue, len(c.Properties))
	for i, p := range c.Properties {
		v, has := snap.properties[p]
		if !has {
			return uniqueReservation{}, false, nil // unique constraints only apply when the tuple is fully present
		}
		values[i] = v
	}
	key := uniqueKey{label: c.Label, values: encodeValueTuple(values)}

	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, exists := m.uniqueIndex[key]; exists && holder != gid {
		return uniqueReservation{}, false, ConstraintViolation{Kind: ConstraintKindUnique, Gid: gid, HasGid: true}
	}
	m.uniqueIndex[key] = gid
	return uniqueReservation{key: key, gid: gid}, true, nil
}

// releaseUniqueReservations undoes every reservation in reservations that
// is still held by the gid it was made for, so a transaction that aborts
// after reserving one or more value tuples (on a later vertex's failed
// check, or a failed WAL append) doesn't permanently block those tuples
// for transactions that commit afterward.
func (m *ConstraintManager) releaseUniqueReservations(reservations []uniqueReservation) {
	if len(reservations) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range reservations {
		if holder, exists := m.uniqueIndex[r.key]; exists && holder == r.gid {
			delete(m.uniqueIndex, r.key)
		}
	}
}

func encodeValueTuple(values []PropertyValue) string {
	var buf bytes.Buffer
	for _, v := range values {
		_ = v.Encode(&buf)
	}
	return buf.String()
}
