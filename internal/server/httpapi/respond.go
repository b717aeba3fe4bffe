package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
)

// maxJSONBodySize caps JSON request bodies that carry no file data.
const maxJSONBodySize = 1 << 20

type errorResponse struct {
	Error  string              `json:"error"`
	Fields []common.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps err to a status code. Unknown errors are logged and
// reported as a bare 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "error", err)
		writeErrorMessage(w, status, common.ErrorInternal.Error())
		return
	}

	resp := errorResponse{Error: err.Error()}
	var verr *common.ValidationError
	if errors.As(err, &verr) {
		resp.Error = common.ErrorValidation.Error()
		resp.Fields = verr.Fields
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		resp.Error = common.ErrPayloadTooLarge.Error()
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, common.ErrorValidation),
		errors.Is(err, common.ErrOTPInvalid),
		errors.Is(err, common.ErrOTPExpired):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrRefreshTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorAlreadyExists),
		errors.Is(err, common.ErrorConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrPayloadTooLarge), errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, common.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a single JSON value of at most limit bytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return badRequest("body", "is empty")
		}
		return badRequest("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	if dec.More() {
		return badRequest("body", "must contain a single JSON value")
	}
	return nil
}

func badRequest(field, msg string) error {
	v := &common.ValidationError{}
	v.Add(field, msg)
	return v
}
