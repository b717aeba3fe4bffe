package httpapi

import (
	"bytes"
	"encoding/base64"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
	"github.com/dmitrijs2005/jewelryportal/internal/server/services"
)

// multipartOverhead is allowed on top of the upload limit for form fields
// and part headers.
const multipartOverhead = 1 << 20

type base64UploadRequest struct {
	Kind        string `json:"kind"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

// readUpload turns a multipart/form-data or JSON base64 request into a
// FileUpload. The returned cleanup must be called once the upload is stored.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (services.FileUpload, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		limit := s.opts.MaxUploadBytes + multipartOverhead
		if r.ContentLength > limit {
			return services.FileUpload{}, noop, common.ErrPayloadTooLarge
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		if err := r.ParseMultipartForm(limit); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return services.FileUpload{}, noop, common.ErrPayloadTooLarge
			}
			return services.FileUpload{}, noop, badRequest("body", "invalid multipart form")
		}
		cleanup := func() { _ = r.MultipartForm.RemoveAll() }

		file, header, err := r.FormFile("file")
		if err != nil {
			cleanup()
			return services.FileUpload{}, noop, badRequest("file", "is required")
		}
		return services.FileUpload{
				Kind:        r.FormValue("kind"),
				FileName:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Body:        file,
			}, func() {
				_ = file.Close()
				cleanup()
			}, nil

	case "application/json":
		var req base64UploadRequest
		limit := base64.StdEncoding.EncodedLen(int(s.opts.MaxUploadBytes)) + multipartOverhead
		if err := decodeJSON(w, r, int64(limit), &req); err != nil {
			return services.FileUpload{}, noop, err
		}
		data, declared, err := decodeDataField(req.Data)
		if err != nil {
			return services.FileUpload{}, noop, err
		}
		if req.ContentType == "" {
			req.ContentType = declared
		}
		return services.FileUpload{
			Kind:        req.Kind,
			FileName:    req.FileName,
			ContentType: req.ContentType,
			Body:        bytes.NewReader(data),
		}, noop, nil

	default:
		return services.FileUpload{}, noop, common.ErrUnsupportedMedia
	}
}

// decodeDataField accepts plain base64 or a data:<mime>;base64,<payload> URL.
func decodeDataField(raw string) ([]byte, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", badRequest("data", "is required")
	}

	var declared string
	if strings.HasPrefix(raw, "data:") {
		meta, payload, ok := strings.Cut(raw[len("data:"):], ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil, "", badRequest("data", "must be a base64 data URL")
		}
		declared = strings.TrimSuffix(meta, ";base64")
		raw = payload
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(raw); err != nil {
			return nil, "", badRequest("data", "is not valid base64")
		}
	}
	return data, declared, nil
}
