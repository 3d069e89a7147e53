// Package acme serves HTTP-01 challenge files so that certificate
// issuance keeps working while the proxy is live. Challenge requests
// bypass host validation and rate limiting.
package acme

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ChallengePrefix is the fixed URL prefix of HTTP-01 challenges.
const ChallengePrefix = "/.well-known/acme-challenge/"

// ChallengeRoot returns the directory the handler serves from, under
// the given data root.
func ChallengeRoot(dataRoot string) string {
	return filepath.Join(dataRoot, "acme-challenges")
}

// Match reports whether a request path is a challenge request.
func Match(path string) bool {
	return strings.HasPrefix(path, ChallengePrefix)
}

// Handler serves challenge tokens from files under
// <root>/.well-known/acme-challenge/.
type Handler struct {
	root string
}

func New(root string) *Handler {
	return &Handler{root: root}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, ChallengePrefix)
	if token == "" || !validToken(token) {
		http.NotFound(w, r)
		return
	}

	body, err := os.ReadFile(filepath.Join(h.root, ".well-known", "acme-challenge", token))
	if err != nil {
		log.Debugf("acme challenge %s not found: %v", token, err)
		http.NotFound(w, r)
		return
	}

	log.Infof("serving acme challenge %s", token)
	w.Header().Set("Content-Type", "text/plain")
	w.Write(body)
}

// validToken rejects anything that could escape the challenge
// directory.
func validToken(token string) bool {
	return !strings.Contains(token, "/") && !strings.Contains(token, "..")
}
