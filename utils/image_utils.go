package utils

import (
	"fmt"
	"strings"
)

// ExtractObjectPath returns the object path of a public Cloud Storage URL,
// e.g. "profiles/<id>/photo.jpg" for
// https://storage.googleapis.com/<bucket>/profiles/<id>/photo.jpg.
func ExtractObjectPath(url string) (string, error) {
	const prefix = "https://storage.googleapis.com/"
	if !strings.HasPrefix(url, prefix) {
		return "", fmt.Errorf("invalid URL")
	}

	path := strings.TrimPrefix(url, prefix)
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("invalid URL format")
	}

	return parts[1], nil
}
