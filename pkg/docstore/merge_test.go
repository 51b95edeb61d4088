package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"string", "x", "x"},
		{"int", 3, float64(3)},
		{"time", ts, "2024-03-01T10:00:00Z"},
		{"string slice", []string{"a"}, []interface{}{"a"}},
		{"typed map", map[string][]string{"k": {"v"}}, map[string]interface{}{"k": []interface{}{"v"}}},
		{"struct", struct {
			ID string `json:"id"`
		}{"u1"}, map[string]interface{}{"id": "u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Normalize(make(chan int))
	assert.Error(t, err)
}

func TestApplyPatch(t *testing.T) {
	dst := map[string]interface{}{
		"keep":   "yes",
		"nested": map[string]interface{}{"a": 1.0, "b": 2.0},
		"list":   []interface{}{"x"},
		"gone":   true,
	}
	err := ApplyPatch(dst, map[string]interface{}{
		"nested": map[string]interface{}{"a": 5},
		"list":   ArrayUnion("x", "y"),
		"gone":   DeleteField,
		"new":    []string{"n"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"keep":   "yes",
		"nested": map[string]interface{}{"a": 5.0},
		"list":   []interface{}{"x", "y"},
		"new":    []interface{}{"n"},
	}, dst)
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]interface{}{
		"customFields": map[string]interface{}{
			"Label":    []interface{}{"Bug"},
			"Currency": []interface{}{"USD"},
		},
	}
	err := DeepMerge(dst, map[string]interface{}{
		"customFields": map[string]interface{}{
			"Label":    []string{"Bug", "HR"},
			"Priority": DeleteField,
		},
	})
	require.NoError(t, err)

	fields := dst["customFields"].(map[string]interface{})
	assert.Equal(t, []interface{}{"Bug", "HR"}, fields["Label"])
	assert.Equal(t, []interface{}{"USD"}, fields["Currency"])
	assert.NotContains(t, fields, "Priority")
}

func TestArrayUnion_NonArrayField(t *testing.T) {
	dst := map[string]interface{}{"viewers": "oops"}
	require.NoError(t, ApplyPatch(dst, map[string]interface{}{
		"viewers": ArrayUnion(map[string]interface{}{"id": "u1"}, map[string]interface{}{"id": "u1"}),
	}))
	assert.Equal(t, []interface{}{map[string]interface{}{"id": "u1"}}, dst["viewers"])
}

func TestEncodeDecode(t *testing.T) {
	b, err := EncodeData(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	data, err := DecodeData(nil)
	require.NoError(t, err)
	assert.Empty(t, data)

	data, err = DecodeData([]byte("null"))
	require.NoError(t, err)
	assert.NotNil(t, data)

	_, err = DecodeData([]byte("{"))
	assert.Error(t, err)
}
