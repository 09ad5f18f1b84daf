package facematch

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	// Calculate intersection.
	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	// Calculate union.
	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// BoxToCorners converts an (x, y, w, h) box to [x1, y1, x2, y2] corner format.
func BoxToCorners(x, y, w, h float64) []float64 {
	return []float64{
		x,
		y,
		x + w,
		y + h,
	}
}

// FindOverlap returns the index of the box in others with the highest IoU
// against box, provided it reaches threshold. It returns -1 otherwise.
func FindOverlap(box []float64, others [][]float64, threshold float64) (int, float64) {
	best, bestIoU := -1, 0.0
	for i, other := range others {
		iou := ComputeIoU(box, other)
		if iou >= threshold && iou > bestIoU {
			best, bestIoU = i, iou
		}
	}
	return best, bestIoU
}
