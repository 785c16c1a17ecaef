package logits

import "math"

// ApplyRepeatPenalty returns a copy of logits with every token seen in
// context pushed towards lower probability. A token seen c times has its
// logit divided by penalty^c when positive and multiplied by it when
// negative. A penalty of exactly 1, or one that is not positive, returns an
// unchanged copy.
func ApplyRepeatPenalty(logits []float32, penalty float32, context []int) []float32 {
	out := make([]float32, len(logits))
	copy(out, logits)
	if penalty == 1 || penalty <= 0 || len(context) == 0 {
		return out
	}

	counts := make(map[int]int, len(context))
	for _, id := range context {
		if id >= 0 && id < len(out) {
			counts[id]++
		}
	}
	for id, c := range counts {
		scale := float32(math.Pow(float64(penalty), float64(c)))
		if out[id] >= 0 {
			out[id] /= scale
		} else {
			out[id] *= scale
		}
	}
	return out
}

// Window returns the last n ids of history. A non-positive n yields an
// empty window.
func Window(history []int, n int) []int {
	if n <= 0 {
		return nil
	}
	if n >= len(history) {
		return history
	}
	return history[len(history)-n:]
}
