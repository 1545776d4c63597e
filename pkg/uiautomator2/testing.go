package uiautomator2

import "net/http"

// NewTestClient creates a Client bound to baseURL with an active session.
// This should only be used in tests.
func NewTestClient(baseURL string, httpClient *http.Client, sessionID string) *Client {
	return &Client{
		http:      httpClient,
		baseURL:   baseURL,
		sessionID: sessionID,
		logger:    named(nil),
	}
}
