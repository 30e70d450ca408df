package reasoning

import "testing"

func TestSplitAt(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		in          string
		wantThought string
		wantFound   bool
		wantAnswer  string
	}{
		{
			name:        "marker present",
			in:          "abc</think>def",
			wantThought: "abc</think>",
			wantFound:   true,
			wantAnswer:  "def",
		},
		{
			name:       "no marker",
			in:         "hello world",
			wantAnswer: "hello world",
		},
		{
			name:        "multiple markers split at last",
			in:          "a</think>b</think>c",
			wantThought: "a</think>b</think>",
			wantFound:   true,
			wantAnswer:  "c",
		},
		{
			name:        "whitespace trimmed",
			in:          "\n <think>\nplan\n</think>\n\n  Answer \n",
			wantThought: "<think>\nplan\n</think>",
			wantFound:   true,
			wantAnswer:  "Answer \n",
		},
		{
			name:        "marker at end",
			in:          "<think>only thinking</think>",
			wantThought: "<think>only thinking</think>",
			wantFound:   true,
			wantAnswer:  "",
		},
		{
			name:       "unspaced raw kept verbatim",
			in:         "  padded  ",
			wantAnswer: "  padded  ",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := SplitAt(tc.in, ThinkClose)
			if got.HasThought() != tc.wantFound {
				t.Fatalf("found=%v want %v", got.HasThought(), tc.wantFound)
			}
			if tc.wantFound && *got.Thought != tc.wantThought {
				t.Fatalf("thought got %q want %q", *got.Thought, tc.wantThought)
			}
			if got.Answer != tc.wantAnswer {
				t.Fatalf("answer got %q want %q", got.Answer, tc.wantAnswer)
			}
		})
	}
}

func TestSplitThoughtUsesThinkClose(t *testing.T) {
	t.Parallel()
	got := SplitThought("x</think> y")
	if !got.HasThought() || *got.Thought != "x</think>" || got.Answer != "y" {
		t.Fatalf("unexpected split: %+v", got)
	}
}

func TestSplitAtEmptyMarker(t *testing.T) {
	t.Parallel()
	got := SplitAt("abc", "")
	if got.HasThought() || got.Answer != "abc" {
		t.Fatalf("unexpected split: %+v", got)
	}
}
