package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, mask, err := tok.Tokenize("Black  wallet\twith ID", 77)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 77 || len(mask) != 77 {
		t.Fatalf("len = %d/%d, want 77", len(ids), len(mask))
	}
	if ids[0] != clipStartToken {
		t.Errorf("ids[0] = %d, want start token", ids[0])
	}
	// start + 4 words + end
	if ids[5] != clipEndToken || mask[5] != 1 || mask[6] != 0 {
		t.Errorf("unexpected tail: ids=%v mask=%v", ids[:8], mask[:8])
	}
	lower, _, _ := tok.Tokenize("black wallet with id", 77)
	for i := range ids {
		if ids[i] != lower[i] {
			t.Fatal("tokenization should be case-insensitive")
		}
	}
}

func TestPadTokens_truncateKeepsEndToken(t *testing.T) {
	src := make([]int, 100)
	for i := range src {
		src[i] = i + 1
	}
	ids, mask := padTokens(src, 10)
	if len(ids) != 10 {
		t.Fatalf("len = %d", len(ids))
	}
	if ids[9] != clipEndToken {
		t.Errorf("last id = %d, want end token", ids[9])
	}
	for _, m := range mask {
		if m != 1 {
			t.Fatal("truncated sequence should be fully attended")
		}
	}
	if src[9] != 10 {
		t.Error("padTokens must not modify its input")
	}
}

func TestHashString(t *testing.T) {
	if HashString("a") != HashString("a") {
		t.Error("HashString should be deterministic")
	}
	if HashString("a") < 0 || HashString("some long string that overflows") < 0 {
		t.Error("HashString should be non-negative")
	}
}
