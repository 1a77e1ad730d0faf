package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabel(t *testing.T) {
	for _, l := range Labels {
		got, err := ParseLabel(string(l))
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}

	for _, s := range []string{"", "rust", "Error", "Blight"} {
		_, err := ParseLabel(s)
		assert.Error(t, err, s)
	}
}

func TestLabels_ClosedSet(t *testing.T) {
	assert.Len(t, Labels, 5)
	assert.False(t, LabelError.Valid())
	assert.True(t, LabelRedRot.Valid())
}
