package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero())
	assert.NotEqual(t, id, NewULID())
	assert.Len(t, id.String(), 26)
}

func TestParseULID(t *testing.T) {
	original := NewULID()
	parsed, err := ParseULID(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)

	_, err = ParseULID("not-a-valid-ulid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ULID")
}

func TestULID_Value(t *testing.T) {
	var zero ULID
	val, err := zero.Value()
	require.NoError(t, err)
	assert.Nil(t, val)

	id := NewULID()
	val, err = id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), val)
}

func TestULID_Scan(t *testing.T) {
	valid := NewULID()

	tests := []struct {
		name      string
		input     any
		expected  ULID
		expectErr bool
	}{
		{"nil sets zero", nil, ULID{}, false},
		{"string", valid.String(), valid, false},
		{"bytes", []byte(valid.String()), valid, false},
		{"empty string sets zero", "", ULID{}, false},
		{"invalid string", "bad-ulid", ULID{}, true},
		{"unsupported type", 12345, ULID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u ULID
			err := u.Scan(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u)
		})
	}
}

func TestULID_JSON(t *testing.T) {
	id := NewULID()
	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(data))

	var parsed ULID
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, id, parsed)

	var empty ULID
	require.NoError(t, json.Unmarshal([]byte(`""`), &empty))
	assert.True(t, empty.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`"not-a-ulid"`), &empty))
}

func TestBaseModel_BeforeCreate(t *testing.T) {
	var b BaseModel
	require.NoError(t, b.BeforeCreate(nil))
	assert.False(t, b.ID.IsZero())

	existing := b.ID
	require.NoError(t, b.BeforeCreate(nil))
	assert.Equal(t, existing, b.ID)
}

func TestStreamRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		record  StreamRecord
		wantErr error
	}{
		{"valid", StreamRecord{Device: "/dev/video0", Format: "YUYV", MountPath: "/front"}, nil},
		{"missing device", StreamRecord{Format: "YUYV", MountPath: "/front"}, ErrDeviceRequired},
		{"missing mount path", StreamRecord{Device: "/dev/video0", Format: "YUYV"}, ErrMountPathRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("long format", func(t *testing.T) {
		r := StreamRecord{Device: "/dev/video0", Format: "YUYV2", MountPath: "/front"}
		var verr ErrValidation
		require.ErrorAs(t, r.Validate(), &verr)
		assert.Equal(t, "format", verr.Field)
	})

	assert.Equal(t, "stream_records", StreamRecord{}.TableName())
}
