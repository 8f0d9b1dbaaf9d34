// Package server checks the Origin header of WebSocket upgrade requests
// against the configured allowlist.
package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"
)

// normalizeOrigins lowercases scheme://host entries, dropping invalid ones.
// A "*" entry switches the allowlist off.
func normalizeOrigins(origins []string) ([]string, bool) {
	var (
		normalized []string
		allowAll   bool
	)
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
			continue
		case "*":
			allowAll = true
			continue
		}

		if n, ok := normalizeOrigin(origin); ok {
			normalized = append(normalized, n)
		} else {
			log.Printf("Ignoring invalid origin in configuration: %q", origin)
		}
	}
	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// checkOrigin is the upgrader's CheckOrigin hook. Requests without an
// Origin header are refused.
func checkOrigin(r *http.Request) bool {
	header := r.Header.Get("Origin")
	origin, ok := normalizeOrigin(header)
	if ok {
		configMu.RLock()
		_, listed := allowedOrigins[origin]
		ok = allowAllOrigins || listed
		configMu.RUnlock()
	}

	if !ok {
		log.Printf("Blocked WebSocket connection from disallowed origin: %q", header)
	}
	return ok
}
