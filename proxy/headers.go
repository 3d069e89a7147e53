package proxy

import "net/http"

// hop-by-hop headers of RFC 2616 13.5.1, scoped to a single connection
// and never forwarded upstream.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

var securityHeaders = map[string]string{
	"X-Frame-Options":           "DENY",
	"Content-Security-Policy":   "frame-ancestors 'none'",
	"X-Content-Type-Options":    "nosniff",
	"X-XSS-Protection":          "1; mode=block",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains; preload",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
	"Permissions-Policy":        "geolocation=(), microphone=(), camera=(), payment=(), usb=(), magnetometer=(), gyroscope=(), accelerometer=()",

	"X-Proxied-By": "rproxy",
}

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// forwardHeaders builds the upstream request header set from the
// incoming request.
func forwardHeaders(r *http.Request, clientIP string) http.Header {
	h := r.Header.Clone()
	removeHopHeaders(h)

	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}

	h.Set("X-Forwarded-Host", r.Host)
	h.Set("X-Forwarded-Proto", proto)
	h.Set("X-Forwarded-For", clientIP)
	h.Set("X-Real-Ip", clientIP)
	return h
}

func setSecurityHeaders(h http.Header) {
	for name, value := range securityHeaders {
		h.Set(name, value)
	}
}
