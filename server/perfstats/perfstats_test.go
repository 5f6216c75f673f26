package perfstats

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdate(t *testing.T) {
	var s atomic.Uint64
	Update(&s, 6400)
	require.Equal(t, uint64(6400), s.Load())
	Update(&s, 0)
	require.Equal(t, uint64(6300), s.Load())
	Update(&s, -5)
	require.Equal(t, uint64(6201), s.Load())
}

func TestReport(t *testing.T) {
	p := PerfStats{}
	p.DetectNanosecondsPerFrame.Store(2_500_000)
	r := p.Report()
	require.Equal(t, 2.5, r.DetectMS)
	require.Equal(t, 0.0, r.SaveMS)
	require.Contains(t, p.String(), "Detect: 2.500 ms")
}
