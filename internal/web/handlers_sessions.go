package web

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/JonMunkholm/tabclean/internal/core"
)

// multipartOverhead is the slack allowed on top of MaxFileSize for form
// boundaries and headers.
const multipartOverhead = 1 << 20

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse describes the server's current load.
type StatusResponse struct {
	Limiter   core.LimiterStatus `json:"limiter"`
	Sessions  int                `json:"sessions"`
	Templates int                `json:"templates"`
}

// handleStatus returns limiter and session counts. Used for monitoring and
// to check whether the server can take another upload.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, StatusResponse{
		Limiter:   s.service.LimiterStatus(),
		Sessions:  len(s.service.Sessions()),
		Templates: s.service.Catalog().Len(),
	})
}

// handleUpload opens a session from a multipart "file" field, or from the raw
// body when the request is not multipart (the name comes from ?name=).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+multipartOverhead)

	name, body, err := uploadBody(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()

	info, err := s.service.Upload(r.Context(), name, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/sessions/"+info.ID)
	writeJSON(w, r, http.StatusCreated, info)
}

func uploadBody(r *http.Request) (string, io.ReadCloser, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		name := r.URL.Query().Get("name")
		if name == "" {
			name = "upload.csv"
			if mediaType == "application/json" {
				name = "upload.json"
			}
		}
		return name, r.Body, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) || strings.Contains(err.Error(), "request body too large") {
			return "", nil, core.ErrFileTooLarge
		}
		return "", nil, fmt.Errorf("%w: %v", core.ErrNoFile, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, core.ErrNoFile
	}
	return header.Filename, file, nil
}

// handleListSessions returns open sessions, most recently used first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Sessions())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.Session(sessionID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, info)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CloseSession(sessionID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
