package monitor

import (
	"github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/vigil/pkg/nn"
)

// matchDetections pairs each detection with at most one existing track.
// A pair requires the same label and IoU >= minIoU. Detections are considered in the
// order given, and each takes the unclaimed track with the highest IoU.
// Returns detToTrack, where detToTrack[i] is an index into tracks, or -1 for no match.
func matchDetections(tracks []*trackedObject, detections []nn.RawDetection, minIoU float32) []int {
	detToTrack := make([]int, len(detections))
	for i := range detToTrack {
		detToTrack[i] = -1
	}
	if len(tracks) == 0 || len(detections) == 0 {
		return detToTrack
	}

	// Spatial index on the current track boxes. Because minIoU is positive, only
	// boxes that actually overlap a detection can match it.
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(tracks))
	for _, t := range tracks {
		fb.Add(t.box.X, t.box.Y, t.box.X2(), t.box.Y2())
	}
	fb.Finish()

	trackHasMatch := make([]bool, len(tracks))
	nearby := []int{}
	for i := range detections {
		det := &detections[i]
		nearby = fb.SearchFast(det.Box.X, det.Box.Y, det.Box.X2(), det.Box.Y2(), nearby)
		bestJ := -1
		bestIoU := float32(0)
		for _, j := range nearby {
			if trackHasMatch[j] {
				continue
			}
			t := tracks[j]
			if t.label != det.Label {
				continue
			}
			iou := det.Box.IOU(t.box)
			if iou < minIoU {
				continue
			}
			// Ties go to the older track, so the result does not depend on index order
			if iou > bestIoU || (iou == bestIoU && bestJ != -1 && t.id < tracks[bestJ].id) {
				bestIoU = iou
				bestJ = j
			}
		}
		if bestJ != -1 {
			trackHasMatch[bestJ] = true
			detToTrack[i] = bestJ
		}
	}
	return detToTrack
}
