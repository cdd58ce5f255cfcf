package decode

import (
	"math"
	"math/rand"
	"time"
)

// SampleResult is the outcome of one sampler step.
type SampleResult struct {
	Tokens    []int
	LogProbs  []float32
	Completed bool
}

// TokenSampler produces the next token and its log probability from
// filtered logits.
type TokenSampler interface {
	// Update appends the next token to the history. Completed is true iff
	// the sampled token is the end-of-text token.
	Update(tokens []int, logits []float32, logProbs []float32) SampleResult

	// Finalize terminates the sequence: when the history does not already
	// end in the end-of-text token, it is appended with log probability 0.
	Finalize(tokens []int, logProbs []float32) SampleResult
}

// GreedyTokenSampler picks the arg-max token at temperature 0. At higher
// temperatures it scales logits by 1/T, restricts the softmax to the top K
// candidates and draws proportionally to probability. The reported log
// probability always comes from the full softmax, before the top-K
// restriction, so scores stay comparable across temperatures.
type GreedyTokenSampler struct {
	temperature float32
	topK        int
	eotToken    int
	rng         *rand.Rand
}

// NewGreedyTokenSampler creates a sampler for one decode attempt.
func NewGreedyTokenSampler(temperature float32, topK, eotToken int) *GreedyTokenSampler {
	if topK < 1 {
		topK = 1
	}
	return &GreedyTokenSampler{
		temperature: temperature,
		topK:        topK,
		eotToken:    eotToken,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed makes the stochastic draw reproducible.
func (s *GreedyTokenSampler) Seed(seed int64) {
	s.rng = rand.New(rand.NewSource(seed))
}

// Update implements TokenSampler.
func (s *GreedyTokenSampler) Update(tokens []int, logits []float32, logProbs []float32) SampleResult {
	var next int
	var logProb float32

	if s.temperature == 0 {
		probs := softmaxProbs(logits)
		next = argmax(logits)
		logProb = float32(math.Log(probs[next]))
	} else {
		scaled := make([]float32, len(logits))
		inv := 1 / s.temperature
		for i, v := range logits {
			scaled[i] = v * inv
		}
		probs := softmaxProbs(scaled)
		next = s.draw(probs)
		logProb = float32(math.Log(probs[next]))
	}

	out := SampleResult{
		Tokens:    append(tokens, next),
		LogProbs:  append(logProbs, logProb),
		Completed: next == s.eotToken,
	}
	return out
}

// Finalize implements TokenSampler.
func (s *GreedyTokenSampler) Finalize(tokens []int, logProbs []float32) SampleResult {
	if len(tokens) == 0 || tokens[len(tokens)-1] != s.eotToken {
		tokens = append(tokens, s.eotToken)
		logProbs = append(logProbs, 0)
	}
	return SampleResult{Tokens: tokens, LogProbs: logProbs, Completed: true}
}

// scoredToken pairs a candidate token with its softmax probability.
type scoredToken struct {
	id   int
	prob float64
}

// draw selects among the top K probabilities with a uniform draw against
// the renormalized cumulative sum. The first candidate whose cumulative
// probability exceeds the draw wins; candidates are walked in probability
// order with ties broken by token id.
func (s *GreedyTokenSampler) draw(probs []float64) int {
	top := topKProbs(probs, s.topK)
	if len(top) == 0 {
		return 0
	}

	var sum float64
	for _, c := range top {
		sum += c.prob
	}
	if sum <= 0 {
		return top[0].id
	}

	threshold := s.rng.Float64() * sum
	var cum float64
	for _, c := range top {
		cum += c.prob
		if cum > threshold {
			return c.id
		}
	}
	return top[len(top)-1].id
}

// topKProbs selects the k highest probabilities via a size-bounded min-heap
// and returns them ordered by probability, ties by token id.
func topKProbs(probs []float64, k int) []scoredToken {
	if k > len(probs) {
		k = len(probs)
	}
	heap := make([]scoredToken, 0, k+1)

	for id, p := range probs {
		if len(heap) == k && p <= heap[0].prob {
			continue
		}
		heap = append(heap, scoredToken{id: id, prob: p})
		heapifyUp(heap, len(heap)-1)
		if len(heap) > k {
			heap[0] = heap[len(heap)-1]
			heap = heap[:len(heap)-1]
			heapifyDown(heap, 0)
		}
	}

	// Sort descending by probability, ascending by id on ties
	for i := 0; i < len(heap)-1; i++ {
		for j := i + 1; j < len(heap); j++ {
			if heap[j].prob > heap[i].prob ||
				(heap[j].prob == heap[i].prob && heap[j].id < heap[i].id) {
				heap[i], heap[j] = heap[j], heap[i]
			}
		}
	}
	return heap
}

// heapifyUp maintains the min-heap property going up
func heapifyUp(heap []scoredToken, i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if heap[i].prob >= heap[parent].prob {
			break
		}
		heap[i], heap[parent] = heap[parent], heap[i]
		i = parent
	}
}

// heapifyDown maintains the min-heap property going down
func heapifyDown(heap []scoredToken, i int) {
	n := len(heap)
	for {
		smallest := i
		left := 2*i + 1
		right := 2*i + 2

		if left < n && heap[left].prob < heap[smallest].prob {
			smallest = left
		}
		if right < n && heap[right].prob < heap[smallest].prob {
			smallest = right
		}
		if smallest == i {
			break
		}
		heap[i], heap[smallest] = heap[smallest], heap[i]
		i = smallest
	}
}

// softmaxProbs computes a numerically stable softmax in float64.
func softmaxProbs(logits []float32) []float64 {
	probs := make([]float64, len(logits))
	if len(logits) == 0 {
		return probs
	}

	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		probs[i] = e
		sum += e
	}
	if sum == 0 {
		return probs
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// softmaxProbAt computes the softmax probability of a single index without
// materializing the full distribution.
func softmaxProbAt(logits []float32, idx int) float32 {
	if idx < 0 || idx >= len(logits) {
		return 0
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - maxLogit))
	}
	if sum == 0 {
		return 0
	}
	return float32(math.Exp(float64(logits[idx]-maxLogit)) / sum)
}

// argmax returns the index of the largest value, first occurrence on ties.
func argmax(values []float32) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// averageLogProb averages per-token log probabilities.
func averageLogProb(logProbs []float32) float32 {
	if len(logProbs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range logProbs {
		sum += float64(v)
	}
	return float32(sum / float64(len(logProbs)))
}
