package validation

import "testing"

func TestIsValidUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		want     bool
	}{
		{"simple", "ali_khan", true},
		{"with digits", "user2024", true},
		{"too short", "ab", false},
		{"leading digit", "1user", false},
		{"leading underscore", "_user", false},
		{"uppercase", "User", false},
		{"spaces", "user name", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidUsername(tt.username); got != tt.want {
				t.Fatalf("IsValidUsername(%q) = %v, want %v", tt.username, got, tt.want)
			}
		})
	}
}

func TestIsValidAccountNumber(t *testing.T) {
	tests := []struct {
		name   string
		number string
		want   bool
	}{
		{"mobile wallet", "03001234567", true},
		{"bank account", "1234567890123456", true},
		{"too short", "12345", false},
		{"letters", "12345abcde", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidAccountNumber(tt.number); got != tt.want {
				t.Fatalf("IsValidAccountNumber(%q) = %v, want %v", tt.number, got, tt.want)
			}
		})
	}
}
