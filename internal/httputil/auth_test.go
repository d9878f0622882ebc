package httputil

import (
	"net/http/httptest"
	"testing"
)

func TestBearerMatches(t *testing.T) {
	tests := []struct {
		header string
		token  string
		want   bool
	}{
		{"Bearer secret", "secret", true},
		{"Bearer secret2", "secret", false},
		{"Bearer secre", "secret", false},
		{"bearer secret", "secret", false},
		{"secret", "secret", false},
		{"", "secret", false},
		{"Bearer ", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		if got := BearerMatches(r, tt.token); got != tt.want {
			t.Errorf("BearerMatches(%q, %q) = %v, want %v", tt.header, tt.token, got, tt.want)
		}
	}
}
