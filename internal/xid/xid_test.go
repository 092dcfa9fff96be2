package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a, b := New("evt"), New("evt")
	assert.NotEqual(t, a, b)

	require.True(t, strings.HasPrefix(a, "evt-"))
	_, err := uuid.Parse(strings.TrimPrefix(a, "evt-"))
	require.NoError(t, err)
}
