package server

import (
	"strings"
)

// basePathPrefix turns " api/ " into "/api"; blank and "/" mount at the root.
func basePathPrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
