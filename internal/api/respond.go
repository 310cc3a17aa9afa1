package api

import (
	"encoding/json"
	"net/http"

	stderrors "errors"

	"dbvault/internal/errors"
)

// errorBody is the wire shape of every error response
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code        string `json:"code,omitempty"`
	Category    string `json:"category,omitempty"`
	Message     string `json:"message"`
	Details     string `json:"details,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps structured errors onto status codes: preflight
// rejections are 422 (the request was well-formed, the restore just
// cannot happen), unknown ids are 404, other configuration problems are
// 400, and everything else is a 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	detail := errorDetail{Message: err.Error()}

	var re *errors.RestoreError
	if stderrors.As(err, &re) {
		detail = errorDetail{
			Code:        string(re.Code),
			Category:    string(re.Category),
			Message:     re.Message,
			Details:     re.Details,
			Remediation: re.Remediation,
		}
		switch re.Category {
		case errors.CategoryPreflight:
			status = http.StatusUnprocessableEntity
		case errors.CategoryConfiguration:
			if re.Code == errors.ErrCodeUnknownConfig || re.Code == errors.ErrCodeUnknownAdapter {
				status = http.StatusNotFound
			} else {
				status = http.StatusBadRequest
			}
		}
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: detail})
}
