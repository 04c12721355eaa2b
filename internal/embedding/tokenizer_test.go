package embedding

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("hello world", 10)
	if len(ids) != 10 {
		t.Errorf("len(ids)=%d", len(ids))
	}
	if ids[0] != 101 {
		t.Errorf("expected CLS 101, got %d", ids[0])
	}
	if ids[3] != 102 {
		t.Errorf("expected SEP 102 after two words, got %d", ids[3])
	}
	if attn[0] != 1 || attn[4] != 0 {
		t.Errorf("unexpected attention mask %v", attn)
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  Engineering-Lead, john@example.com ")
	want := []string{"engineering", "lead", "john", "example", "com"}
	if len(words) != len(want) {
		t.Fatalf("SplitWords() = %v, want %v", words, want)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("words[%d] = %q, want %q", i, words[i], want[i])
		}
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("a long string that may overflow the accumulator many times over") < 0 {
		t.Error("hash should be non-negative")
	}
}

func TestWordPieceTokenizer(t *testing.T) {
	vocab := []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "engineer", "##ing", "lead", "-", "the"}
	tok, err := NewWordPieceTokenizer(vocab)
	if err != nil {
		t.Fatal(err)
	}
	ids, attn, types := tok.Tokenize("The Engineering-Lead xyz", 10)
	want := []int64{2, 8, 4, 5, 7, 6, 1, 3, 0, 0}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
	if attn[7] != 1 || attn[8] != 0 {
		t.Errorf("unexpected attention mask %v", attn)
	}
	if len(types) != 10 {
		t.Errorf("len(types)=%d", len(types))
	}

	ids, _, _ = tok.Tokenize("engineering engineering engineering", 4)
	if ids[0] != 2 || ids[3] != 3 || ids[1] != 4 || ids[2] != 5 {
		t.Errorf("truncated ids = %v", ids)
	}
}

func TestNewWordPieceTokenizer_RequiresSpecialTokens(t *testing.T) {
	if _, err := NewWordPieceTokenizer([]string{"[UNK]", "hello"}); err == nil {
		t.Error("expected an error for a vocab without [CLS] and [SEP]")
	}
}

func TestLoadWordPieceVocab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte("[UNK]\r\n[CLS]\r\n[SEP]\r\nhello\r\n"), 0644); err != nil {
		t.Fatal(err)
	}
	tok, err := LoadWordPieceVocab(path)
	if err != nil {
		t.Fatal(err)
	}
	ids, _, _ := tok.Tokenize("Hello", 4)
	if ids[0] != 1 || ids[1] != 3 || ids[2] != 2 {
		t.Errorf("ids = %v", ids)
	}
	if _, err := LoadWordPieceVocab(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected an error for a missing vocab")
	}
}
