// Package tokenizer implements the Hugging Face tokenizer.json BPE model used
// by Mistral-family checkpoints, plus an incremental stream decoder.
package tokenizer

// Tokenizer is the capability the generation loop needs.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	TokenToID(token string) (int, bool)
}

// EOS is the end-of-sequence marker used by Mistral and Mixtral vocabularies.
const EOS = "</s>"
