package upstream

import "regexp"

// apiKeySegment matches a path segment that looks like an API key: 20
// or more alphanumeric/_- characters, optionally preceded by a
// "v<digits>/" version prefix.
var apiKeySegment = regexp.MustCompile(`(v\d+/)?[A-Za-z0-9_-]{20,}`)

// SanitizeURL rewrites any API-key-shaped path segment (including an
// optional "v<digits>/" version prefix) to [API_KEY] so the URL is safe
// to put in logs or the /health response.
func SanitizeURL(url string) string {
	return apiKeySegment.ReplaceAllString(url, "[API_KEY]")
}
