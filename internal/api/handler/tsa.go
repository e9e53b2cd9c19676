// Package handler implements the HTTP endpoint of the TSA responder.
package handler

import (
	"io"
	"log"
	"mime"
	"net/http"
	"strings"

	"github.com/remiblancher/tsp/internal/audit"
	"github.com/remiblancher/tsp/pkg/tsp"
)

// maxRequestSize bounds the request body. Timestamp requests are tiny;
// anything larger is abuse.
const maxRequestSize = 1 << 16

// TSAHandler serves RFC 3161 requests over HTTP.
type TSAHandler struct {
	responder *tsp.Responder
}

// NewTSAHandler creates a handler around a responder.
func NewTSAHandler(responder *tsp.Responder) *TSAHandler {
	return &TSAHandler{responder: responder}
}

// Timestamp handles POST / with a DER-encoded TimeStampReq body and
// replies with a DER-encoded TimeStampResp. Protocol-level problems are
// reported inside the response body with HTTP 200; only transport-level
// problems get an HTTP error status.
func (h *TSAHandler) Timestamp(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !strings.EqualFold(mediaType, tsp.ContentTypeQuery) {
			http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
			return
		}
	}

	reqDER, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(reqDER) == 0 {
		http.Error(w, "empty request body", http.StatusBadRequest)
		return
	}
	if len(reqDER) > maxRequestSize {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	respDER, err := h.responder.Respond(reqDER)
	if err != nil {
		log.Printf("responder failed: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.logServe(reqDER, respDER)

	w.Header().Set("Content-Type", tsp.ContentTypeReply)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respDER)
}

func (h *TSAHandler) logServe(reqDER, respDER []byte) {
	result := audit.ResultSuccess
	status := "granted"
	if resp, err := tsp.ParseResponse(respDER); err != nil || resp == nil || !resp.IsGranted() {
		result = audit.ResultFailure
		if resp != nil {
			status = resp.StatusString()
		} else {
			status = "unparseable"
		}
	}
	event := audit.NewEvent(audit.EventServe, result).
		WithObject(audit.Object{Type: "response"}).
		WithContext(audit.Context{Status: status})
	if err := audit.Log(event); err != nil {
		log.Printf("audit: %v", err)
	}
}
