package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
	"github.com/JakeFAU/rag-crawler/internal/vectorstore"
)

const (
	defaultTopK = 5
	maxTopK     = 100
)

type queryRequest struct {
	Text     string `json:"text"`
	TopK     int    `json:"topK,omitempty"`
	Provider string `json:"provider,omitempty"`
}

type queryResponse struct {
	Namespace string              `json:"namespace"`
	Matches   []vectorstore.Match `json:"matches"`
}

func (s *Server) queryNamespace(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, apperr.InvalidInput("text is required"))
		return
	}
	switch {
	case req.TopK == 0:
		req.TopK = defaultTopK
	case req.TopK < 0 || req.TopK > maxTopK:
		s.writeError(w, apperr.InvalidInput("topK must be between 1 and %d", maxTopK))
		return
	}
	if s.deps.Providers == nil {
		s.writeError(w, apperr.Configuration("no embedding providers configured", nil))
		return
	}
	provider, err := s.deps.Providers.Get(req.Provider)
	if err != nil {
		s.writeError(w, err)
		return
	}
	matches, err := s.deps.Processor.Query(r.Context(), ns, req.Text, req.TopK, provider)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if matches == nil {
		matches = []vectorstore.Match{}
	}
	s.writeJSON(w, http.StatusOK, queryResponse{Namespace: ns, Matches: matches})
}

func (s *Server) deleteNamespace(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	n, err := s.deps.Processor.DeleteNamespace(r.Context(), ns)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("namespace deleted", zap.String("namespace", ns), zap.Int("vectors", n))
	s.writeJSON(w, http.StatusOK, map[string]any{"namespace": ns, "deleted": n})
}
