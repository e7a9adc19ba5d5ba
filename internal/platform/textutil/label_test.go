package textutil

import "testing"

func TestStripMarkup(t *testing.T) {
	cases := map[string]string{
		"":                                     "",
		"  Heavy   mesh ":                      "Heavy mesh",
		"<b>Velcro</b> strip":                  "Velcro strip",
		"Snaps <script>alert(1)</script>& co.": "Snaps & co.",
		`<a href="javascript:x">Track</a>`:     "Track",
	}
	for input, want := range cases {
		if got := StripMarkup(input); got != want {
			t.Fatalf("StripMarkup(%q): expected %q got %q", input, want, got)
		}
	}
}
