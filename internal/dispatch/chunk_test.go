package dispatch

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func checkChunks(t *testing.T, text string, maxLength int, chunks []string) {
	t.Helper()
	if got := strings.Join(chunks, ""); got != text {
		t.Errorf("chunks do not reassemble:\n got %q\nwant %q", got, text)
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); maxLength > 0 && n > maxLength {
			t.Errorf("chunk %d has %d runes, limit %d: %q", i, n, maxLength, c)
		}
		if c == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	long := strings.Repeat("word ", 40)
	tests := []struct {
		name      string
		text      string
		maxLength int
		want      []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"no limit", long, 0, []string{long}},
		{"empty", "", 10, nil},
		{"lines packed", "aa\nbb\ncc\n", 6, []string{"aa\nbb\n", "cc\n"}},
		{"sentence split", "One two. Three four! Five?", 12, []string{"One two. ", "Three four! ", "Five?"}},
		{"word split", "alpha beta gamma", 11, []string{"alpha beta ", "gamma"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitMessage(tt.text, tt.maxLength)
			checkChunks(t, tt.text, tt.maxLength, got)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitMessage(%q, %d) = %q, want %q", tt.text, tt.maxLength, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitText_Paragraphs(t *testing.T) {
	text := "first paragraph here\n\nsecond paragraph here"
	got := SplitText(text, 25)
	checkChunks(t, text, 25, got)
	if len(got) != 2 || got[0] != "first paragraph here\n\n" {
		t.Errorf("SplitText = %q", got)
	}
}

func TestSplitMessage_Lossless(t *testing.T) {
	inputs := []string{
		strings.Repeat("Lorem ipsum dolor sit amet. ", 30),
		"line one\nline two is a bit longer than the others\n\n\nshort\n" + strings.Repeat("x", 90),
		"привет мир! Это тест. " + strings.Repeat("ж", 50),
		"ends with whitespace   \n\n  ",
		"“smart quotes” and emoji 🙂🙂🙂 mixed in. Done!",
	}
	for _, text := range inputs {
		for _, maxLength := range []int{1, 3, 7, 16, 40, 4096} {
			checkChunks(t, text, maxLength, SplitMessage(text, maxLength))
		}
	}
}

func TestUTF16Length(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"hello", 5},
		{"привет", 6},
		{"🙂", 2},
		{"a🙂b", 4},
		{"\xff", 1},
	}
	for _, tt := range tests {
		if got := UTF16Length(tt.in); got != tt.want {
			t.Errorf("UTF16Length(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSplitMessageFunc_UTF16(t *testing.T) {
	inputs := []string{
		strings.Repeat("🙂", 10),
		"emoji 🙂 in a sentence. Another one 🚀 here!\n" + strings.Repeat("𝔘", 9),
		"plain ascii that needs a few chunks to fit",
	}
	for _, text := range inputs {
		for _, maxLength := range []int{1, 2, 5, 8, 4096} {
			chunks := SplitMessageFunc(text, maxLength, UTF16Length)
			if got := strings.Join(chunks, ""); got != text {
				t.Errorf("chunks do not reassemble: %q", chunks)
			}
			for i, c := range chunks {
				n := UTF16Length(c)
				// a lone astral rune may exceed a limit of one unit
				if n > maxLength && utf8.RuneCountInString(c) > 1 {
					t.Errorf("limit %d: chunk %d %q is %d units", maxLength, i, c, n)
				}
			}
		}
	}
}
