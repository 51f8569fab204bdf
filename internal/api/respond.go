package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/rag-crawler/internal/apperr"
	"github.com/JakeFAU/rag-crawler/internal/store"
)

type errorDetail struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type rateLimitedBody struct {
	Error      errorDetail `json:"error"`
	RetryAfter int         `json:"retryAfter"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

// writeError maps err onto the error envelope. Store sentinels become 404
// and 409; everything else goes through its apperr code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var code apperr.Code
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = apperr.CodeNotFound
	case errors.Is(err, store.ErrInProgress):
		code = apperr.CodeConflict
	default:
		code = apperr.CodeOf(err)
	}
	msg := apperr.MessageOf(err)
	if code == apperr.CodeInternal {
		s.logger.Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	writeErrorBody(w, apperr.HTTPStatus(code), code, msg)
}

func writeErrorBody(w http.ResponseWriter, status int, code apperr.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: msg}})
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.InvalidInput("invalid JSON body: %v", err)
	}
	return nil
}
