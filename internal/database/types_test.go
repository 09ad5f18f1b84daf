package database

import (
	"errors"
	"testing"
)

func ptr(v int64) *int64 { return &v }

func TestFaceStateStatus(t *testing.T) {
	tests := []struct {
		name  string
		state FaceState
		want  FaceStatus
	}{
		{"empty", FaceState{FaceID: 1}, StatusUnresolved},
		{"clustered", FaceState{FaceID: 1, ClusterID: "c1"}, StatusClustered},
		{"suggested wins over cluster", FaceState{FaceID: 1, SuggestedPersonID: ptr(3), ClusterID: "c1"}, StatusSuggested},
		{"confirmed wins over everything", FaceState{FaceID: 1, PersonID: ptr(2), SuggestedPersonID: ptr(3), ClusterID: "c1"}, StatusConfirmed},
		{"confirmed as ignored", FaceState{FaceID: 1, PersonID: ptr(SentinelPersonID)}, StatusConfirmed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.state.Status(); got != tc.want {
				t.Errorf("Status() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFaceStateVotingPerson(t *testing.T) {
	tests := []struct {
		name     string
		state    FaceState
		wantID   int64
		wantVote bool
	}{
		{"unconfirmed", FaceState{SuggestedPersonID: ptr(4)}, 0, false},
		{"ignored sentinel", FaceState{PersonID: ptr(SentinelPersonID)}, 0, false},
		{"confirmed", FaceState{PersonID: ptr(7)}, 7, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := tc.state.VotingPerson()
			if id != tc.wantID || ok != tc.wantVote {
				t.Errorf("VotingPerson() = (%d, %v), want (%d, %v)", id, ok, tc.wantID, tc.wantVote)
			}
		})
	}
}

func TestParseFaceStatus(t *testing.T) {
	tests := []struct {
		input  string
		want   FaceStatus
		wantOK bool
	}{
		{"", "", true},
		{"unresolved", StatusUnresolved, true},
		{"suggested", StatusSuggested, true},
		{"clustered", StatusClustered, true},
		{"confirmed", StatusConfirmed, true},
		{"CONFIRMED", "", false},
		{"ignored", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, ok := ParseFaceStatus(tc.input)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("ParseFaceStatus(%q) = (%q, %v), want (%q, %v)", tc.input, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestBBoxCorners(t *testing.T) {
	got := BBox{Left: 10, Top: 20, Width: 30, Height: 40}.Corners()
	want := []float64{10, 20, 40, 60}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Corners() = %v, want %v", got, want)
		}
	}
}

func TestDimensionMismatchError(t *testing.T) {
	search := &DimensionMismatchError{Expected: 128, Actual: 64}
	if errors.Is(search, ErrCorruptIndex) {
		t.Error("search-time mismatch must not match ErrCorruptIndex")
	}

	load := &DimensionMismatchError{Expected: 128, Actual: 64, onLoad: true}
	if !errors.Is(load, ErrCorruptIndex) {
		t.Error("load-time mismatch must match ErrCorruptIndex")
	}
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("list faces", cause)
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, cause) {
		t.Errorf("Unavailable() = %v, want both sentinel and cause", err)
	}
}
