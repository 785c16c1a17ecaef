package logits

import (
	"math"
	"reflect"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func TestSamplerDeterminism(t *testing.T) {
	t.Parallel()
	logs := []float32{0, 1, 2, 3, 4, 5}
	cfg := SamplerConfig{Seed: 42, Temperature: ptr(0.9), TopP: ptr(0.95)}
	s1, s2 := NewSampler(cfg), NewSampler(cfg)
	for i := 0; i < 20; i++ {
		if a, b := s1.Sample(logs), s2.Sample(logs); a != b {
			t.Fatalf("draw %d: %d vs %d", i, a, b)
		}
	}
}

func TestSamplerGreedy(t *testing.T) {
	t.Parallel()
	logs := []float32{-1, 5, 3, 7, 2, 7}
	for _, temp := range []*float64{nil, ptr(0), ptr(-1)} {
		s := NewSampler(SamplerConfig{Seed: 99, Temperature: temp})
		if !s.Greedy() {
			t.Fatalf("temperature %v should be greedy", temp)
		}
		if idx := s.Sample(logs); idx != 3 {
			t.Fatalf("expected first maximum index 3, got %d", idx)
		}
	}
}

func TestSamplerTopP(t *testing.T) {
	t.Parallel()
	logs := []float32{0, 10, 0, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 7, Temperature: ptr(1), TopP: ptr(0.5)})
	for i := 0; i < 50; i++ {
		if idx := s.Sample(logs); idx != 1 {
			t.Fatalf("top-p sampling returned %d", idx)
		}
	}
}

func TestSamplerTopK(t *testing.T) {
	t.Parallel()
	logs := []float32{1, 1.1, 0.9, 5, 4.9}
	s := NewSampler(SamplerConfig{Seed: 3, Temperature: ptr(5), TopK: 2})
	for i := 0; i < 100; i++ {
		if idx := s.Sample(logs); idx != 3 && idx != 4 {
			t.Fatalf("top-k sampling returned %d", idx)
		}
	}
}

func TestSamplerCoversDistribution(t *testing.T) {
	t.Parallel()
	logs := []float32{0, 0, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 1, Temperature: ptr(1)})
	seen := map[int]bool{}
	for i := 0; i < 400; i++ {
		seen[s.Sample(logs)] = true
	}
	if len(seen) != 4 {
		t.Fatalf("uniform logits should reach every token, saw %v", seen)
	}
}

func TestRepeatPenaltyIdentity(t *testing.T) {
	t.Parallel()
	logs := []float32{-2, 0, 1.5, 3}
	got := ApplyRepeatPenalty(logs, 1.0, []int{0, 2, 2, 3})
	if !reflect.DeepEqual(got, logs) {
		t.Fatalf("penalty 1.0 changed logits: %v", got)
	}
	got[0] = 99
	if logs[0] != -2 {
		t.Fatal("ApplyRepeatPenalty must not alias its input")
	}
}

func TestRepeatPenaltyCompounds(t *testing.T) {
	t.Parallel()
	logs := []float32{-2, 0, 1.21, 3, 4}
	got := ApplyRepeatPenalty(logs, 1.1, []int{0, 2, 2, 3, 99, -1})
	want := []float32{-2.2, 0, 1.0, 3 / 1.1, 4}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Fatalf("logit %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRepeatPenaltyZero(t *testing.T) {
	t.Parallel()
	logs := []float32{-2, 0, 1.5, 3}
	got := ApplyRepeatPenalty(logs, 0, []int{0, 1, 2, 2, 3})
	for i, v := range got {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) || v != logs[i] {
			t.Fatalf("penalty 0 changed logit %d: %v", i, got)
		}
	}
}

func TestWindow(t *testing.T) {
	t.Parallel()
	h := []int{1, 2, 3, 4, 5}
	tests := []struct {
		n    int
		want []int
	}{
		{2, []int{4, 5}},
		{5, h},
		{64, h},
		{0, nil},
	}
	for _, tc := range tests {
		if got := Window(h, tc.n); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Window(%d) = %v, want %v", tc.n, got, tc.want)
		}
	}
}
