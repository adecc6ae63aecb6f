package urlutil

import "testing"

func TestIsHTTPScheme(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "https scheme", input: "https://example.com", expected: true},
		{name: "http scheme", input: "http://example.com", expected: true},
		{name: "mailto scheme", input: "mailto:someone@example.com", expected: false},
		{name: "javascript scheme", input: "javascript:void(0)", expected: false},
		{name: "file scheme", input: "file:///tmp/index.html", expected: false},
		{name: "empty string", input: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsHTTPScheme(tt.input)
			if got != tt.expected {
				t.Errorf("IsHTTPScheme(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestHasBlacklistedExtension(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/style.css", true},
		{"https://example.com/app.JS", true},
		{"https://example.com/photo.jpeg?w=200", true},
		{"https://example.com/data.json", true},
		{"https://example.com/about", false},
		{"https://example.com/page.html", false},
		{"https://example.com/report.pdf", false},
	}

	for _, tt := range tests {
		if got := HasBlacklistedExtension(tt.url); got != tt.want {
			t.Errorf("HasBlacklistedExtension(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestIsPDF(t *testing.T) {
	if !IsPDF("https://example.com/files/Annual%20Report.PDF") {
		t.Error("expected uppercase .PDF to be detected")
	}
	if IsPDF("https://example.com/pdf/index") {
		t.Error("path segment named pdf is not a pdf file")
	}
}

func TestExclusions(t *testing.T) {
	ex, err := NewExclusions([]string{
		"# comment",
		"",
		"https://example.com/private",
		`^cdn\.example\.com$`,
		`/logout`,
	})
	if err != nil {
		t.Fatalf("NewExclusions() error: %v", err)
	}
	if ex.Len() != 3 {
		t.Errorf("Len() = %d, want 3", ex.Len())
	}

	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/private", true},
		{"https://example.com/private/sub", false},
		{"https://cdn.example.com/lib", true},
		{"https://example.com/account/logout", true},
		{"https://example.com/public", false},
	}
	for _, tt := range tests {
		if got := ex.Match(tt.url); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestExclusions_InvalidPattern(t *testing.T) {
	if _, err := NewExclusions([]string{"(unclosed"}); err == nil {
		t.Error("expected error for invalid regular expression")
	}
}

func TestExclusions_NilMatchesNothing(t *testing.T) {
	var ex *Exclusions
	if ex.Match("https://example.com/") {
		t.Error("nil exclusions should not match")
	}
}
