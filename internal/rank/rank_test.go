package rank

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func TestCosine_Bounds(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical direction", []float32{1, 0}, []float32{1, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"scaled identical", []float32{2, 0}, []float32{5, 0}, 1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
		{"length mismatch", []float32{1, 0, 0}, []float32{1, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got < -1 || got > 1 {
				t.Errorf("Cosine out of [-1, 1]: %v", got)
			}
		})
	}
}

func TestTopK_Ordering(t *testing.T) {
	query := []float32{1, 0}
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	candidates := []Candidate{
		{ID: a, Vector: []float32{0, 1}},      // 0.0
		{ID: b, Vector: []float32{1, 0}},      // 1.0
		{ID: c, Vector: []float32{0.7, 0.71}}, // ~0.70
	}

	got := TopK(query, candidates, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != b || got[1].ID != c || got[2].ID != a {
		t.Errorf("order = [%v %v %v], want [b c a]", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestTopK_NullVectorExclusion(t *testing.T) {
	query := []float32{1, 0}
	excluded := uuid.New()

	candidates := []Candidate{
		{ID: excluded, Vector: nil},
		{ID: excluded, Vector: []float32{}},
		{ID: uuid.New(), Vector: []float32{1, 0}},
	}

	got := TopK(query, candidates, 10)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (nil/empty vectors must be excluded)", len(got))
	}
	if got[0].ID == excluded {
		t.Error("excluded candidate appeared in output")
	}
}

func TestTopK_AllExcluded(t *testing.T) {
	got := TopK([]float32{1, 0}, []Candidate{{ID: uuid.New(), Vector: nil}}, 5)
	if len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestTopK_Truncation(t *testing.T) {
	query := []float32{1, 0}
	candidates := make([]Candidate, 10)
	for i := range candidates {
		candidates[i] = Candidate{ID: uuid.New(), Vector: []float32{1, float32(i)}}
	}

	got := TopK(query, candidates, 3)
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestTopK_Deterministic(t *testing.T) {
	query := []float32{0.3, 0.7, 0.1}
	candidates := []Candidate{
		{ID: uuid.New(), Vector: []float32{0.5, 0.5, 0.5}},
		{ID: uuid.New(), Vector: []float32{0.3, 0.7, 0.1}},
		{ID: uuid.New(), Vector: []float32{0.1, 0.2, 0.9}},
	}

	first := TopK(query, candidates, 3)
	second := TopK(query, candidates, 3)

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("result %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestTopK_StableTies(t *testing.T) {
	query := []float32{1, 0}
	a, b := uuid.New(), uuid.New()

	// Identical vectors score exactly equal; original order must hold.
	candidates := []Candidate{
		{ID: a, Vector: []float32{1, 0}},
		{ID: b, Vector: []float32{1, 0}},
	}

	got := TopK(query, candidates, 2)
	if got[0].ID != a || got[1].ID != b {
		t.Errorf("tie order not stable: got [%v %v]", got[0].ID, got[1].ID)
	}
}
