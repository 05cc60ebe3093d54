package severity

import "testing"

// TestFromNative tests the native token mapping.
func TestFromNative(t *testing.T) {
	tests := []struct {
		token string
		want  Severity
	}{
		{"critical", Critical},
		{"CRITICAL", Critical},
		{" Critical ", Critical},
		{"high", High},
		{"error", High},
		{"medium", Medium},
		{"moderate", Medium},
		{"warning", Medium},
		{"warn", Medium},
		{"low", Low},
		{"info", Info},
		{"information", Info},
		{"note", Info},
		{"unknown", Info},
		{"", Info},
		{"bogus-token", Info},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			if got := FromNative(tt.token); got != tt.want {
				t.Errorf("FromNative(%q) = %s, want %s", tt.token, got, tt.want)
			}
		})
	}
}

// TestInfoNeverLow tests that info tokens never degrade to LOW.
func TestInfoNeverLow(t *testing.T) {
	for _, token := range []string{"info", "information", "note", "anything-unmapped"} {
		if got := FromNative(token); got == Low {
			t.Errorf("FromNative(%q) = LOW; INFO must stay a first-class level", token)
		}
	}
}

// TestValid tests canonical level validation.
func TestValid(t *testing.T) {
	for _, s := range Levels() {
		if !Valid(s) {
			t.Errorf("Valid(%s) = false, want true", s)
		}
	}
	if Valid(Severity("SEVERE")) {
		t.Error("Valid(SEVERE) = true, want false")
	}
}
