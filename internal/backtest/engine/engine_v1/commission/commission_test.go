package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateCommission(t *testing.T) {
	c, err := New(ModelRate, 0.0004)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, c.Calculate(100, 100), 1e-9)
	assert.Zero(t, c.Calculate(0, 100))
}

func TestZeroCommission(t *testing.T) {
	c, err := New(ModelZero, 0)
	require.NoError(t, err)
	assert.Zero(t, c.Calculate(1000, 50000))
}

func TestDefaultModelIsZero(t *testing.T) {
	c, err := New("", 0.1)
	require.NoError(t, err)
	assert.Zero(t, c.Calculate(10, 10))
}

func TestInvalidModel(t *testing.T) {
	_, err := New("flat", 0)
	assert.Error(t, err)
}

func TestNegativeRate(t *testing.T) {
	_, err := New(ModelRate, -0.01)
	assert.Error(t, err)
}
