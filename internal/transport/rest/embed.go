package rest

import (
	_ "embed"
	"net/http"
)

//go:embed embed.js
var embedScript []byte

// EmbedScript serves the loader snippet customers paste into their pages.
// Long public cache: the script is versioned by deploy, not by widget.
func (h *Handler) EmbedScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(embedScript)
}
