package service

import "net/http"

// relayOwnedHeaders describe framing of the gateway leg. The relay frames
// the browser leg itself, so these never cross over.
var relayOwnedHeaders = map[string]bool{
	"Transfer-Encoding": true,
	"Connection":        true,
	"Content-Encoding":  true,
	"Content-Length":    true,
}

// ResponseHeaders copies gateway response headers for the browser, dropping
// framing headers and disabling caching and proxy buffering.
func ResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src)+2)
	for key, vals := range src {
		if relayOwnedHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	dst.Set("Cache-Control", "no-cache")
	dst.Set("X-Accel-Buffering", "no")
	return dst
}
