package session

import (
	"cmp"
	"slices"

	"github.com/cyclopcam/vigil/pkg/nn"
)

// reorderBuffer holds up to 'window' frames, and releases them in index order.
// With a window of zero, frames pass straight through.
type reorderBuffer struct {
	window   int
	pending  []*nn.Frame // Sorted by Index
	released bool
	last     int64 // Index of the last released frame
}

// push adds a frame, and returns the frames that are now ready, in order.
// Frames that arrive after a later frame has already been released are returned in 'late'.
func (r *reorderBuffer) push(f *nn.Frame) (ready []*nn.Frame, late *nn.Frame) {
	if r.window <= 0 {
		return []*nn.Frame{f}, nil
	}
	if r.released && f.Index <= r.last {
		return nil, f
	}
	i, found := slices.BinarySearchFunc(r.pending, f.Index, func(p *nn.Frame, idx int64) int {
		return cmp.Compare(p.Index, idx)
	})
	if found {
		// Duplicate index
		return nil, f
	}
	r.pending = slices.Insert(r.pending, i, f)
	for len(r.pending) > r.window {
		ready = append(ready, r.release())
	}
	return ready, nil
}

// flush releases everything that is pending
func (r *reorderBuffer) flush() []*nn.Frame {
	ready := []*nn.Frame{}
	for len(r.pending) != 0 {
		ready = append(ready, r.release())
	}
	return ready
}

func (r *reorderBuffer) release() *nn.Frame {
	f := r.pending[0]
	r.pending = r.pending[1:]
	r.released = true
	r.last = f.Index
	return f
}
