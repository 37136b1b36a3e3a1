package embedding

import (
	"fmt"
	"strings"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/hyperjump/reunite/pkg/utils"
)

// CLIP special tokens. CLIP pads with the end-of-text id.
const (
	clipStartToken = 49406
	clipEndToken   = 49407
	clipVocabSize  = 49408
)

// Tokenizer produces fixed-length CLIP text inputs (input_ids, attention_mask).
type Tokenizer interface {
	Tokenize(text string, contextLength int) (inputIDs, attentionMask []int64, err error)
}

// BPETokenizer wraps a HuggingFace tokenizer.json for the CLIP text encoder.
type BPETokenizer struct {
	tk *tokenizer.Tokenizer
}

// NewBPETokenizer loads tokenizer.json from path.
func NewBPETokenizer(path string) (*BPETokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &BPETokenizer{tk: tk}, nil
}

// Tokenize encodes text with start/end tokens and pads or truncates to contextLength.
// Truncated sequences keep the end-of-text token last, which CLIP pools on.
func (t *BPETokenizer) Tokenize(text string, contextLength int) ([]int64, []int64, error) {
	enc, err := t.tk.EncodeSingle(strings.ToLower(utils.NormalizeText(text)), true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to tokenize: %w", err)
	}
	ids := enc.GetIds()
	if len(ids) == 0 {
		ids = []int{clipStartToken, clipEndToken}
	}
	inputIDs, mask := padTokens(ids, contextLength)
	return inputIDs, mask, nil
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs (for testing or fallback).
type SimpleTokenizer struct{}

// Tokenize splits text into words and produces padded CLIP-shaped token IDs.
func (t *SimpleTokenizer) Tokenize(text string, contextLength int) ([]int64, []int64, error) {
	words := strings.Fields(strings.ToLower(utils.NormalizeText(text)))
	ids := make([]int, 0, len(words)+2)
	ids = append(ids, clipStartToken)
	for _, w := range words {
		ids = append(ids, HashString(w)%clipStartToken)
	}
	ids = append(ids, clipEndToken)
	inputIDs, mask := padTokens(ids, contextLength)
	return inputIDs, mask, nil
}

func padTokens(ids []int, contextLength int) (inputIDs, attentionMask []int64) {
	if contextLength <= 0 {
		contextLength = 77
	}
	if len(ids) > contextLength {
		ids = append(ids[:contextLength-1:contextLength-1], clipEndToken)
	}
	inputIDs = make([]int64, contextLength)
	attentionMask = make([]int64, contextLength)
	for i := range inputIDs {
		if i < len(ids) {
			inputIDs[i] = int64(ids[i])
			attentionMask[i] = 1
		} else {
			inputIDs[i] = clipEndToken
		}
	}
	return inputIDs, attentionMask
}
