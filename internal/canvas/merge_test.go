package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateField_SetsValueAndProvenance(t *testing.T) {
	fields := Template()
	out := UpdateField(fields, "client_name", "BMW")

	f, ok := FindField(out, "client_name")
	require.True(t, ok)
	assert.Equal(t, "BMW", f.Value)
	assert.Equal(t, StatusUserEdited, f.Status)

	orig, _ := FindField(fields, "client_name")
	assert.Equal(t, "", orig.Value)
	assert.Equal(t, StatusEmpty, orig.Status)
}

func TestUpdateField_Idempotent(t *testing.T) {
	fields := Template()
	once := UpdateField(fields, "territory", []any{"DACH", "Europe"})
	twice := UpdateField(once, "territory", []any{"DACH", "Europe"})
	assert.Equal(t, once, twice)
}

func TestUpdateField_CopyOnWriteSharesUntouchedBranches(t *testing.T) {
	fields := Template()
	out := UpdateField(fields, "agency_name", "Serviceplan")

	// other tabs are the same slices
	assert.Same(t, &fields[TabWho][0], &out[TabWho][0])
	// other groups within the edited tab share their field arrays
	assert.Same(t, &fields[TabWhat][1].Fields[0], &out[TabWhat][1].Fields[0])
	// the edited group got its own array
	assert.NotSame(t, &fields[TabWhat][0].Fields[0], &out[TabWhat][0].Fields[0])
}

func TestUpdateField_UnknownIDReturnsInput(t *testing.T) {
	fields := Template()
	out := UpdateField(fields, "no_such_field", "x")
	assert.Equal(t, fields, out)
	assert.Same(t, &fields[TabWhat][0], &out[TabWhat][0])
}

func TestUpdateField_ValueIsCopied(t *testing.T) {
	value := []any{"TV"}
	out := UpdateField(Template(), "media_types", value)
	value[0] = "Radio"
	assert.Equal(t, []any{"TV"}, FieldValue(out, "media_types"))
}

func TestFieldValue_Missing(t *testing.T) {
	assert.Nil(t, FieldValue(Template(), "nope"))
}
