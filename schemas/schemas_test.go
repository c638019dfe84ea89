package schemas

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSchemas(t *testing.T) {
	t.Parallel()

	ts, err := LoadSchemas()
	require.NoError(t, err)
	require.NotNil(t, ts)

	for _, name := range []string{NoteData, KeyData, InitializationData, LocalState, NoteShareInfo} {
		require.Contains(t, ts, name)
	}

	for k, v := range ts {
		require.NotEmpty(t, k)
		require.NotEmpty(t, v)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		schema string
		doc    interface{}
		valid  bool
	}{
		{"note ok", NoteData, map[string]interface{}{
			"id": "a", "keyName": "k", "modified": "", "created": "", "sync": 0,
			"items": []interface{}{map[string]interface{}{"version": 1, "type": "text", "data": "001:00:AA=="}},
		}, true},
		{"note missing key name", NoteData, map[string]interface{}{
			"id": "a", "modified": "", "created": "", "sync": 0, "items": []interface{}{},
		}, false},
		{"note negative version", NoteData, map[string]interface{}{
			"id": "a", "keyName": "k", "modified": "", "created": "", "sync": 0,
			"items": []interface{}{map[string]interface{}{"version": -1, "type": "text", "data": ""}},
		}, false},
		{"local state ok", LocalState, map[string]interface{}{
			"firstLogin": true, "workOffline": false, "sizeDelta": -10, "noteCountDelta": 1, "size": 0, "noteCount": 0,
		}, true},
		{"local state wrong type", LocalState, map[string]interface{}{
			"firstLogin": "yes", "workOffline": false, "sizeDelta": 0, "noteCountDelta": 0, "size": 0, "noteCount": 0,
		}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Validate(tt.schema, tt.doc)
			if tt.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestValidateUnknownSchema(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate("missing", map[string]interface{}{}))
}
