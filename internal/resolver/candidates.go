package resolver

import "github.com/kozaktomas/face-resolver/internal/database"

// excludeSelf drops the face's own index entry from its neighbor list.
func excludeSelf(faceID int64, neighbors []database.Neighbor) []database.Neighbor {
	out := make([]database.Neighbor, 0, len(neighbors))
	for _, n := range neighbors {
		if n.FaceID != faceID {
			out = append(out, n)
		}
	}
	return out
}

// relativeCandidates keeps the neighbors tied with the best match: those within
// bestDistance*(1+slack), at most limit of them. neighbors must be sorted.
func relativeCandidates(neighbors []database.Neighbor, slack float64, limit int) []database.Neighbor {
	if len(neighbors) == 0 || limit <= 0 {
		return nil
	}
	bound := neighbors[0].Distance * (1 + slack)

	out := make([]database.Neighbor, 0, min(limit, len(neighbors)))
	for _, n := range neighbors {
		if n.Distance > bound || len(out) == limit {
			break
		}
		out = append(out, n)
	}
	return out
}

// withinThreshold keeps the neighbors at or below an absolute distance.
// neighbors must be sorted.
func withinThreshold(neighbors []database.Neighbor, threshold float64) []database.Neighbor {
	var out []database.Neighbor
	for _, n := range neighbors {
		if n.Distance > threshold {
			break
		}
		out = append(out, n)
	}
	return out
}

func neighborIDs(neighbors []database.Neighbor) []int64 {
	ids := make([]int64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.FaceID
	}
	return ids
}
