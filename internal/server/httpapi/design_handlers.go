package httpapi

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/jewelryportal/internal/server/export"
	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
	"github.com/dmitrijs2005/jewelryportal/internal/server/storage"
	"github.com/go-chi/chi/v5"
)

type setStatusRequest struct {
	Status string `json:"status"`
}

type fileURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

func (s *Server) listDesigns(w http.ResponseWriter, r *http.Request) {
	f, err := parseDesignFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	list, err := s.designs.List(r.Context(), principal(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createDesign(w http.ResponseWriter, r *http.Request) {
	var spec models.DesignSpec
	if err := decodeJSON(w, r, maxJSONBodySize, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}

	d, err := s.designs.Create(r.Context(), principal(r), spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/designs/"+d.ID)
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) getDesign(w http.ResponseWriter, r *http.Request) {
	d, err := s.designs.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) updateDesign(w http.ResponseWriter, r *http.Request) {
	var spec models.DesignSpec
	if err := decodeJSON(w, r, maxJSONBodySize, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}

	d, err := s.designs.Update(r.Context(), principal(r), chi.URLParam(r, "id"), spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) deleteDesign(w http.ResponseWriter, r *http.Request) {
	if err := s.designs.Delete(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setDesignStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := decodeJSON(w, r, maxJSONBodySize, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	d, err := s.designs.SetStatus(r.Context(), principal(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) exportDesigns(w http.ResponseWriter, r *http.Request) {
	f, err := parseDesignFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	list, err := s.designs.ListAll(r.Context(), principal(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, list); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(time.Now())+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) attachFile(w http.ResponseWriter, r *http.Request) {
	in, cleanup, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer cleanup()

	f, err := s.designs.AttachFile(r.Context(), principal(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// getFile returns a presigned download URL, or redirects to it when
// ?redirect=true.
func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	url, err := s.designs.FileURL(r.Context(), principal(r), chi.URLParam(r, "id"), chi.URLParam(r, "fileID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if redirect, _ := strconv.ParseBool(r.URL.Query().Get("redirect")); redirect {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, fileURLResponse{URL: url, ExpiresIn: int(storage.PresignTTL.Seconds())})
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	if err := s.designs.DeleteFile(r.Context(), principal(r), chi.URLParam(r, "id"), chi.URLParam(r, "fileID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
