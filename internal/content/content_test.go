package content

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Bonjour à tous", "Bonjour à tous"},
		{"HTML tags", "Hello <b>World</b>", "Hello <b>World</b>"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Complex HTML", "<a href='javascript:alert(1)'>Click me</a>", "Click me"},
		{"Emoji", "Chantier terminé 🏗️", "Chantier terminé 🏗️"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEscape(t *testing.T) {
	if got := Escape("<div>Hello</div>"); got != "&lt;div&gt;Hello&lt;/div&gt;" {
		t.Errorf("Escape() = %v", got)
	}
}

func TestNormalizeMessage(t *testing.T) {
	if _, err := NormalizeMessage("   \n\t "); err != ErrEmptyMessage {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}
	if _, err := NormalizeMessage(strings.Repeat("a", MaxMessageLength+1)); err != ErrMessageTooLong {
		t.Errorf("Expected ErrMessageTooLong, got %v", err)
	}
	got, err := NormalizeMessage("  Bonjour  ")
	if err != nil || got != "Bonjour" {
		t.Errorf("NormalizeMessage() = %q, %v", got, err)
	}
}

func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain", "Bonjour", "<p>Bonjour</p>"},
		{"Emphasis", "**Livraison** demain", "<p><strong>Livraison</strong> demain</p>"},
		{"Strikethrough", "~~annulé~~", "<p><del>annulé</del></p>"},
		{"Raw HTML dropped", "<script>alert(1)</script>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderMarkdown(tt.input)
			if err != nil {
				t.Fatalf("RenderMarkdown() error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("RenderMarkdown() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Valid", "Alice Martin", false},
		{"Accents", "Chloé Dupré", false},
		{"Apostrophe", "Jean-Luc O'Neil", false},
		{"Empty", "", true},
		{"Spaces", "   ", true},
		{"Markup", "<b>Alice</b>", true},
		{"Control", "Ali\x00ce", true},
		{"Too long", strings.Repeat("a", MaxDisplayNameLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDisplayName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
