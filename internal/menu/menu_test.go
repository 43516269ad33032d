package menu

import "testing"

func TestResolve(t *testing.T) {
	cases := []struct {
		text string
		want Action
	}{
		{"1", ShowAudioPrompt},
		{" 2 ", ShowDocPrompt},
		{"3", ShowServices},
		{"4", ShowAbout},
		{"MENU", ShowMainMenu},
		{"Start\n", ShowMainMenu},
		{"מעע", ShowMainMenu},
		{"Balance", ShowAccount},
		{"סיכום", ShowAccount},
		{"xyz", Unhandled},
		{"", Unhandled},
		{"5", Unhandled},
		{"menu please", Unhandled},
	}
	for _, tc := range cases {
		if got := Resolve(tc.text); got != tc.want {
			t.Fatalf("Resolve(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}
