package textgen

import "testing"

func TestCleanJSONStripsFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		`{"a":1}`:                 `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	}
	for input, want := range cases {
		if got := CleanJSON(input); got != want {
			t.Fatalf("CleanJSON(%q) = %q, want %q", input, got, want)
		}
	}
}
