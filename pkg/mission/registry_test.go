package mission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SharedInstancePerMission(t *testing.T) {
	r := NewRegistry(&mockCanceller{})

	a := r.GetOrCreate("m1", decimal.NewFromInt(10))
	b := r.GetOrCreate("m1", decimal.NewFromInt(99))
	require.NotNil(t, a)
	assert.Same(t, a, b, "two surfaces observing one mission must share the controller")

	// The budget limit from the first creation wins.
	assert.True(t, a.State().BudgetLimit.Equal(decimal.NewFromInt(10)))

	other := r.GetOrCreate("m2", decimal.NewFromInt(5))
	assert.NotSame(t, a, other)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_GetAndRemove(t *testing.T) {
	r := NewRegistry(&mockCanceller{})

	assert.Nil(t, r.Get("m1"))

	c := r.GetOrCreate("m1", decimal.NewFromInt(10))
	assert.Same(t, c, r.Get("m1"))

	r.Remove("m1")
	assert.Nil(t, r.Get("m1"))
	assert.Equal(t, 0, r.Len())
}
