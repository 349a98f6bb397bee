package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/meeting":                  "/meeting",
		"/meeting/abc":              "/meeting/:id",
		"/meeting/abc/join":         "/meeting/:id/join",
		"/meeting/abc/comment":      "/meeting/:id/comment",
		"/meeting/abc/date":         "/meeting/:id/date",
		"/meeting/abc/vote":         "/meeting/:id/vote",
		"/meeting/abc/events":       "/meeting/:id/events",
		"/meeting/abc/extra":        "/meeting/abc/extra",
		"/meeting/abc/join?x=1":     "/meeting/:id/join",
		"/admin/meetings":           "/admin/meetings",
		"/admin/meetings?limit=10":  "/admin/meetings",
		"/v1/auth/token":            "/v1/auth/token",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
