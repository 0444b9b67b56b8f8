package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasePathPrefix(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"/":       "",
		"api":     "/api",
		"/api":    "/api",
		"/api/":   "/api",
		" api ":   "/api",
		"/v1/api": "/v1/api",
	}
	for in, want := range cases {
		assert.Equal(t, want, basePathPrefix(in), "input %q", in)
	}
}
