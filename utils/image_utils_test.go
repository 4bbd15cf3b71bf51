package utils

import "testing"

func TestExtractObjectPath(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://storage.googleapis.com/bucket/profiles/abc/photo.jpg", "profiles/abc/photo.jpg", false},
		{"https://example.com/bucket/profiles/photo.jpg", "", true},
		{"https://storage.googleapis.com/nobucket", "", true},
		{"https://storage.googleapis.com/bucket/", "", true},
	}
	for _, tc := range tests {
		got, err := ExtractObjectPath(tc.url)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ExtractObjectPath(%q): expected error", tc.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("ExtractObjectPath(%q): unexpected error %v", tc.url, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ExtractObjectPath(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}
