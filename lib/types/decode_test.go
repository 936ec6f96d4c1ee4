package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeField(t *testing.T) {
	t.Run("structured value", func(t *testing.T) {
		var v Victims
		require.NoError(t, DecodeField([]byte(`{"individuals":[{"name":"A"}],"groups":[]}`), &v))
		assert.Equal(t, "A", v.Individuals[0].Name)
	})

	t.Run("legacy string encoded value", func(t *testing.T) {
		var v Victims
		require.NoError(t, DecodeField([]byte(`"{\"individuals\":[{\"name\":\"B\"}]}"`), &v))
		assert.Equal(t, "B", v.Individuals[0].Name)
	})

	t.Run("garbage", func(t *testing.T) {
		var v Victims
		assert.Error(t, DecodeField([]byte(`"not json"`), &v))
	})
}

func TestIsNullOrEmpty(t *testing.T) {
	assert.True(t, IsNullOrEmpty(nil))
	assert.True(t, IsNullOrEmpty([]byte(" null ")))
	assert.True(t, IsNullOrEmpty([]byte(`""`)))
	assert.False(t, IsNullOrEmpty([]byte(`[]`)))
}

func TestEnsureDefaultsSerializesEveryField(t *testing.T) {
	data := StructuredEventData{
		Timeline: []TimelineEntry{{Date: "2024-01-05", Events: []TimelineEvent{{Description: "x"}}}},
		Accused:  Accused{Individuals: []Party{{Name: "C"}}},
	}
	data.EnsureDefaults()

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, `"victims":{"individuals":[],"groups":[]}`)
	assert.Contains(t, s, `"keyPoints":[]`)
	assert.Contains(t, s, `"organizations":[]`)
	assert.Contains(t, s, `"details":[]`)
	assert.Contains(t, s, `"participants":[],"evidence":[]`)
	assert.NotContains(t, s, "null")
}

func TestEventDetailsEnsureDefaults(t *testing.T) {
	var d EventDetails
	d.EnsureDefaults()
	assert.NotNil(t, d.Sources)
	assert.NotNil(t, d.Images)
	assert.NotNil(t, d.Timeline)
	assert.NotNil(t, d.Victims.Groups)
}
