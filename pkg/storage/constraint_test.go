package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueConstraintViolationOnCommit(t *testing.T) {
	e := newTestEngine(t)

	person := e.mapper.LabelId("Person")
	email := e.mapper.PropertyId("email")
	require.NoError(t, e.constr.CreateUniqueConstraint(UniqueConstraint{Label: person, Properties: []PropertyId{email}}))

	first := e.Begin()
	v1, err := first.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, first.AddLabel(v1, person))
	require.NoError(t, first.SetProperty(v1, email, StringValue("ada@example.com")))
	require.NoError(t, first.Commit(0))

	second := e.Begin()
	v2, err := second.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, second.AddLabel(v2, person))
	require.NoError(t, second.SetProperty(v2, email, StringValue("ada@example.com")))

	err = second.Commit(0)
	var cv ConstraintViolation
	assert.ErrorAs(t, err, &cv)
	assert.Equal(t, ConstraintKindUnique, cv.Kind)
}

// TestUniqueConstraintReservationReleasedOnAbort covers the case
// checkAndReserveUnique's own doc comment calls out: a transaction that
// reserves a value tuple and then aborts instead of committing (a later
// vertex's constraint failure, a failed WAL append) must not permanently
// block that tuple for every future committer.
func TestUniqueConstraintReservationReleasedOnAbort(t *testing.T) {
	e := newTestEngine(t)

	person := e.mapper.LabelId("Person")
	email := e.mapper.PropertyId("email")
	c := UniqueConstraint{Label: person, Properties: []PropertyId{email}}
	require.NoError(t, e.constr.CreateUniqueConstraint(c))

	snap := vertexSnapshot{properties: map[PropertyId]PropertyValue{email: StringValue("ada@example.com")}}

	reservation, reserved, err := e.constr.checkAndReserveUnique(c, Gid(1), snap)
	require.NoError(t, err)
	require.True(t, reserved)

	// A second vertex racing for the same tuple is rejected while the
	// first reservation still holds.
	_, _, err = e.constr.checkAndReserveUnique(c, Gid(2), snap)
	var cv ConstraintViolation
	require.ErrorAs(t, err, &cv)

	// Simulate gid 1's owning transaction aborting: releasing its
	// reservation (what Accessor.Abort now does) must free the tuple.
	e.constr.releaseUniqueReservations([]uniqueReservation{reservation})

	_, reserved, err = e.constr.checkAndReserveUnique(c, Gid(2), snap)
	require.NoError(t, err)
	assert.True(t, reserved)
}

// TestAccessorAbortReleasesUniqueReservation exercises the same release
// through the public Accessor.Commit/Abort path: a transaction that
// reserves a tuple and then fails a later vertex's existence check must
// not block a subsequent transaction from using that same tuple.
func TestAccessorAbortReleasesUniqueReservation(t *testing.T) {
	e := newTestEngine(t)

	person := e.mapper.LabelId("Person")
	email := e.mapper.PropertyId("email")
	name := e.mapper.PropertyId("name")
	require.NoError(t, e.constr.CreateUniqueConstraint(UniqueConstraint{Label: person, Properties: []PropertyId{email}}))
	require.NoError(t, e.constr.CreateExistenceConstraint(ExistenceConstraint{Label: person, Property: name}))

	// v1 satisfies both constraints and reserves "ada@example.com"; v2
	// satisfies neither, so whichever vertex touchedVertices() visits
	// second still forces the whole transaction to abort.
	doomed := e.Begin()
	v1, err := doomed.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, doomed.AddLabel(v1, person))
	require.NoError(t, doomed.SetProperty(v1, email, StringValue("ada@example.com")))
	require.NoError(t, doomed.SetProperty(v1, name, StringValue("Ada")))

	v2, err := doomed.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, doomed.AddLabel(v2, person))

	err = doomed.Commit(0)
	var existenceErr ConstraintViolation
	require.ErrorAs(t, err, &existenceErr)
	assert.Equal(t, ConstraintKindExistence, existenceErr.Kind)

	// Directly confirm no reservation for the email tuple survived the
	// abort, regardless of which vertex order triggered it.
	snap := vertexSnapshot{properties: map[PropertyId]PropertyValue{email: StringValue("ada@example.com")}}
	_, reserved, err := e.constr.checkAndReserveUnique(UniqueConstraint{Label: person, Properties: []PropertyId{email}}, Gid(999), snap)
	require.NoError(t, err)
	assert.True(t, reserved, "email tuple must not still be reserved after the doomed transaction aborted")
}

func TestExistenceConstraintViolationOnCommit(t *testing.T) {
	e := newTestEngine(t)

	person := e.mapper.LabelId("Person")
	email := e.mapper.PropertyId("email")
	require.NoError(t, e.constr.CreateExistenceConstraint(ExistenceConstraint{Label: person, Property: email}))

	acc := e.Begin()
	v, err := acc.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, acc.AddLabel(v, person))

	err = acc.Commit(0)
	var cv ConstraintViolation
	assert.ErrorAs(t, err, &cv)
	assert.Equal(t, ConstraintKindExistence, cv.Kind)
}

func TestLabelIndexFindsCommittedVertex(t *testing.T) {
	e := newTestEngine(t)
	person := e.mapper.LabelId("Person")
	require.NoError(t, e.indices.CreateLabelIndex(person))

	acc := e.Begin()
	v, err := acc.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, acc.AddLabel(v, person))
	require.NoError(t, acc.Commit(0))

	reader := e.Begin()
	defer reader.Abort()

	found := false
	for candidate := range reader.VerticesByLabel(person, ViewOld) {
		if candidate.Gid == v.Gid {
			found = true
		}
	}
	assert.True(t, found)
}
