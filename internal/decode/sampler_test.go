package decode

import (
	"math"
	"testing"
)

const testEOT = 9

func TestGreedyTokenSampler_Update_Greedy(t *testing.T) {
	s := NewGreedyTokenSampler(0, 5, testEOT)

	logits := []float32{0, 1, 5, 2, 0, 0, 0, 0, 0, 0}
	res := s.Update([]int{1}, logits, []float32{0})

	if got := res.Tokens[len(res.Tokens)-1]; got != 2 {
		t.Errorf("sampled token = %d, want 2", got)
	}
	if res.Completed {
		t.Error("Completed should be false for a non-end token")
	}

	// Log probability matches the softmax score of the chosen token
	wantLP := float32(math.Log(softmaxProbs(logits)[2]))
	if got := res.LogProbs[len(res.LogProbs)-1]; math.Abs(float64(got-wantLP)) > 1e-6 {
		t.Errorf("log prob = %v, want %v", got, wantLP)
	}
}

func TestGreedyTokenSampler_Update_CompletesOnEndToken(t *testing.T) {
	s := NewGreedyTokenSampler(0, 5, testEOT)

	logits := make([]float32, 10)
	logits[testEOT] = 4

	res := s.Update(nil, logits, nil)
	if !res.Completed {
		t.Error("Completed should be true when the end token is sampled")
	}
}

func TestGreedyTokenSampler_Update_Deterministic(t *testing.T) {
	logits := []float32{0.5, 3, 1, 2.9999, 0, 0, 0, 0, 0, 0}

	var first []int
	for run := 0; run < 10; run++ {
		s := NewGreedyTokenSampler(0, 5, testEOT)
		res := s.Update([]int{1, 2}, logits, []float32{0, 0})
		if run == 0 {
			first = res.Tokens
			continue
		}
		for i := range first {
			if res.Tokens[i] != first[i] {
				t.Fatalf("run %d diverged: %v != %v", run, res.Tokens, first)
			}
		}
	}
}

func TestGreedyTokenSampler_Update_Temperature(t *testing.T) {
	// One token carries almost all probability mass; even a hot sampler
	// must pick it from the top-k set
	logits := make([]float32, 10)
	logits[4] = 50

	s := NewGreedyTokenSampler(1.0, 3, testEOT)
	s.Seed(1)

	for i := 0; i < 20; i++ {
		res := s.Update(nil, logits, nil)
		if got := res.Tokens[0]; got != 4 {
			t.Fatalf("draw %d sampled %d, want 4", i, got)
		}
	}
}

func TestGreedyTokenSampler_Update_TemperatureStaysInTopK(t *testing.T) {
	logits := []float32{5, 4.5, 4, 0, 0, 0, 0, 0, 0, 0}

	s := NewGreedyTokenSampler(1.5, 3, testEOT)
	s.Seed(42)

	for i := 0; i < 50; i++ {
		res := s.Update(nil, logits, nil)
		if got := res.Tokens[0]; got > 2 {
			t.Fatalf("draw %d sampled %d outside the top 3", i, got)
		}
	}
}

func TestGreedyTokenSampler_Finalize(t *testing.T) {
	s := NewGreedyTokenSampler(0, 5, testEOT)

	res := s.Finalize([]int{3, 4}, []float32{-0.5, -0.25})
	if len(res.Tokens) != 3 || res.Tokens[2] != testEOT {
		t.Errorf("Finalize() tokens = %v, want trailing end token", res.Tokens)
	}
	if res.LogProbs[2] != 0 {
		t.Errorf("appended log prob = %v, want 0", res.LogProbs[2])
	}
	if !res.Completed {
		t.Error("Finalize() must report completed")
	}
}

func TestGreedyTokenSampler_Finalize_NoOp(t *testing.T) {
	s := NewGreedyTokenSampler(0, 5, testEOT)

	res := s.Finalize([]int{3, testEOT}, []float32{-0.5, -0.1})
	if len(res.Tokens) != 2 {
		t.Errorf("Finalize() on terminal sequence appended: %v", res.Tokens)
	}
	if res.LogProbs[1] != -0.1 {
		t.Errorf("Finalize() changed existing log prob to %v", res.LogProbs[1])
	}
}

func TestTopKProbs(t *testing.T) {
	probs := []float64{0.1, 0.4, 0.05, 0.3, 0.15}

	top := topKProbs(probs, 3)
	if len(top) != 3 {
		t.Fatalf("len = %d, want 3", len(top))
	}
	wantIDs := []int{1, 3, 4}
	for i, want := range wantIDs {
		if top[i].id != want {
			t.Errorf("top[%d].id = %d, want %d", i, top[i].id, want)
		}
	}
}

func TestTopKProbs_TiesByID(t *testing.T) {
	probs := []float64{0.2, 0.2, 0.2, 0.2}

	top := topKProbs(probs, 2)
	if top[0].id >= top[1].id {
		t.Errorf("tie order = %d, %d, want ascending ids", top[0].id, top[1].id)
	}
}

func TestSoftmaxProbs(t *testing.T) {
	probs := softmaxProbs([]float32{1, 1, 1, 1})

	var sum float64
	for _, p := range probs {
		if math.Abs(p-0.25) > 1e-9 {
			t.Errorf("uniform prob = %v, want 0.25", p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("probability sum = %v, want 1", sum)
	}
}

func TestSoftmaxProbAt(t *testing.T) {
	logits := []float32{2, 1, 0.5, -1}
	probs := softmaxProbs(logits)

	for i := range logits {
		if got := softmaxProbAt(logits, i); math.Abs(float64(got)-probs[i]) > 1e-6 {
			t.Errorf("softmaxProbAt(%d) = %v, want %v", i, got, probs[i])
		}
	}

	if got := softmaxProbAt(logits, 99); got != 0 {
		t.Errorf("softmaxProbAt(out of range) = %v, want 0", got)
	}
}

func TestAverageLogProb(t *testing.T) {
	if got := averageLogProb([]float32{-1, -2, -3}); got != -2 {
		t.Errorf("averageLogProb = %v, want -2", got)
	}
	if got := averageLogProb(nil); got != 0 {
		t.Errorf("averageLogProb(nil) = %v, want 0", got)
	}
}

func BenchmarkGreedyTokenSampler_Update(b *testing.B) {
	logits := make([]float32, 51865)
	for i := range logits {
		logits[i] = float32(i%97) / 97
	}
	s := NewGreedyTokenSampler(0, 5, testEOT)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Update(nil, logits, nil)
	}
}

func BenchmarkGreedyTokenSampler_UpdateTemperature(b *testing.B) {
	logits := make([]float32, 51865)
	for i := range logits {
		logits[i] = float32(i%97) / 97
	}
	s := NewGreedyTokenSampler(0.6, 5, testEOT)
	s.Seed(7)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Update(nil, logits, nil)
	}
}
