package inbound

import "testing"

func TestTriggerApply(t *testing.T) {
	t.Parallel()

	tr := NewTrigger("Andy")
	tests := []struct {
		name     string
		text     string
		mentions []string
		want     string
	}{
		{name: "discord mention", text: "<@42> hello", mentions: []string{"<@42>"}, want: "@Andy hello"},
		{name: "nickname mention mid text", text: "hey <@!42> there", mentions: []string{"<@42>", "<@!42>"}, want: "@Andy hey  there"},
		{name: "mention only", text: "<@42>", mentions: []string{"<@42>"}, want: "@Andy"},
		{name: "already triggered", text: "@andy <@42> status", mentions: []string{"<@42>"}, want: "@andy  status"},
		{name: "no mention untouched", text: "  just chatting ", want: "just chatting"},
		{name: "telegram username", text: "@andy_bot ping", mentions: []string{"@andy_bot"}, want: "@Andy ping"},
		{name: "longer username kept", text: "@andy_bot_fan says hi", mentions: []string{"@andy_bot"}, want: "@andy_bot_fan says hi"},
		{name: "longer username beside bot", text: "@andy_bot_fan @andy_bot hi", mentions: []string{"@andy_bot"}, want: "@Andy @andy_bot_fan  hi"},
		{name: "placeholder prefix", text: "@_user_10 and @_user_1 go", mentions: []string{"@_user_1"}, want: "@Andy @_user_10 and  go"},
		{name: "overlapping bot tokens", text: "@_user_1 @_user_10 go", mentions: []string{"@_user_1", "@_user_10"}, want: "@Andy go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tr.Apply(tt.text, tt.mentions); got != tt.want {
				t.Fatalf("Apply(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestReplaceMention(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text, token, repl string
		want              string
		found             bool
	}{
		{text: "@_user_1 and @_user_10", token: "@_user_1", repl: "@Bob", want: "@Bob and @_user_10", found: true},
		{text: "@_user_10", token: "@_user_1", repl: "@Bob", want: "@_user_10"},
		{text: "<@42>hello", token: "<@42>", repl: "", want: "hello", found: true},
		{text: "@bot, @bot.", token: "@bot", repl: "X", want: "X, X.", found: true},
		{text: "@boté", token: "@bot", repl: "X", want: "@boté"},
		{text: "anything", token: "", repl: "X", want: "anything"},
	}
	for _, tt := range tests {
		got, found := ReplaceMention(tt.text, tt.token, tt.repl)
		if got != tt.want || found != tt.found {
			t.Errorf("ReplaceMention(%q, %q) = %q, %v; want %q, %v", tt.text, tt.token, got, found, tt.want, tt.found)
		}
	}
}

func TestTriggerMatchesWordBoundary(t *testing.T) {
	t.Parallel()

	tr := NewTrigger("")
	if tr.Phrase() != "@Andy" {
		t.Fatalf("unexpected default phrase: %q", tr.Phrase())
	}
	if !tr.Matches("@ANDY do it") || tr.Matches("@Andyroid hi") || tr.Matches("hi @Andy") {
		t.Fatalf("unexpected trigger matching")
	}
}

func TestTriggerInsertReply(t *testing.T) {
	t.Parallel()

	tr := NewTrigger("Andy")
	cases := map[string]string{
		"@Andy summarize": "@Andy [Reply to bob] summarize",
		"@Andy":           "@Andy [Reply to bob]",
		"agreed":          "[Reply to bob] agreed",
		"":                "[Reply to bob]",
	}
	for in, want := range cases {
		if got := tr.InsertReply(in, "bob"); got != want {
			t.Errorf("InsertReply(%q) = %q, want %q", in, got, want)
		}
	}
	if got := tr.InsertReply("text", "  "); got != "text" {
		t.Fatalf("blank author must leave text unchanged, got %q", got)
	}
}
