package gen

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClampUnit(t *testing.T) {
	v, changed := ClampUnit(1.5)
	require.Equal(t, float32(1), v)
	require.True(t, changed)

	v, changed = ClampUnit(-0.2)
	require.Equal(t, float32(0), v)
	require.True(t, changed)

	v, changed = ClampUnit(0.7)
	require.Equal(t, float32(0.7), v)
	require.False(t, changed)

	v, changed = ClampUnit(float32(math.NaN()))
	require.Equal(t, float32(0), v)
	require.True(t, changed)
}

func TestNextPowerOf2(t *testing.T) {
	require.Equal(t, 1, NextPowerOf2(0))
	require.Equal(t, 1, NextPowerOf2(1))
	require.Equal(t, 16, NextPowerOf2(16))
	require.Equal(t, 32, NextPowerOf2(17))
}

func TestDeleteIf(t *testing.T) {
	a := []int{1, 2, 3, 4, 5}
	b := DeleteIf(a, func(v int) bool { return v%2 == 0 })
	require.Equal(t, []int{1, 3, 5}, b)

	b = DeleteIf([]int{}, func(v int) bool { return true })
	require.Len(t, b, 0)
}

func TestDrainChannelIntoSlice(t *testing.T) {
	ch := make(chan int, 5)
	ch <- 1
	ch <- 2
	require.Equal(t, []int{1, 2}, DrainChannelIntoSlice(ch))
	require.Len(t, DrainChannelIntoSlice(ch), 0)
}
