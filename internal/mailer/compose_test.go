package mailer

import (
	"strings"
	"testing"
)

func TestComposeProducesMultipartMessage(t *testing.T) {
	msg, err := Compose(ComposeOptions{
		From:    "Concierge <concierge@example.com>",
		To:      []string{"traveler@example.com"},
		Subject: "Your flight options",
		Body:    "Here are **three** flights to Tokyo.",
	})
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	s := string(msg)
	for _, want := range []string{
		"From: \"Concierge\" <concierge@example.com>",
		"To: <traveler@example.com>",
		"Subject: Your flight options",
		"multipart/alternative",
		"text/plain",
		"text/html",
		"Message-Id:",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message missing %q", want)
		}
	}

	// The plain part carries the text with markdown stripped.
	if !strings.Contains(s, "Here are three flights to Tokyo.") {
		t.Error("plain part missing de-markdowned body")
	}
	// The HTML part renders the emphasis.
	if !strings.Contains(s, "<strong>three</strong>") {
		t.Error("html part missing rendered markdown")
	}
}

func TestComposeRejectsBadAddress(t *testing.T) {
	_, err := Compose(ComposeOptions{
		From:    "not an address",
		To:      []string{"traveler@example.com"},
		Subject: "x",
		Body:    "y",
	})
	if err == nil {
		t.Error("Compose() accepted a malformed from address")
	}
}

func TestMarkdownToPlain(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"**bold** text", "bold text"},
		{"# Heading\nbody", "Heading\nbody"},
		{"[link](https://example.com)", "link (https://example.com)"},
		{"`code` span", "code span"},
	}
	for _, tt := range tests {
		if got := markdownToPlain(tt.in); got != tt.want {
			t.Errorf("markdownToPlain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBareAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Concierge <c@example.com>", "c@example.com"},
		{"c@example.com", "c@example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := bareAddress(tt.in); got != tt.want {
			t.Errorf("bareAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
