package server

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"tabletop/internal/storage"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg":    true,
	"image/jpg":     true,
	"image/png":     true,
	"image/gif":     true,
	"image/webp":    true,
	"image/svg+xml": true,
	"image/bmp":     true,
	"image/tiff":    true,
}

func isAllowedImageType(mimeType string) bool {
	return allowedImageTypes[mimeType]
}

// isValidImageURL accepts absolute http(s) URLs only.
func isValidImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// detectContentType sniffs the first bytes of file, falling back to the
// file extension when sniffing is inconclusive. The file is rewound.
func detectContentType(file multipart.File, filename string) (string, error) {
	head := make([]byte, 512)
	n, err := file.Read(head)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read file header: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind file: %w", err)
	}

	detected := http.DetectContentType(head[:n])
	if strings.HasPrefix(detected, "application/octet-stream") || strings.HasPrefix(detected, "text/") {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
			detected = byExt
		}
	}
	mediaType, _, err := mime.ParseMediaType(detected)
	if err != nil {
		return detected, nil
	}
	return mediaType, nil
}

func (s *Server) handleCreateMap(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if !actor.IsGM() {
		writeError(w, http.StatusForbidden, "only a GM can add maps")
		return
	}

	var m storage.Map
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req createMapRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !isValidImageURL(req.ImageURL) {
			writeError(w, http.StatusBadRequest, "image URL must be an http or https URL")
			return
		}
		m = storage.Map{Name: req.Name, ImageURL: req.ImageURL, Description: req.Description}
	} else {
		uploaded, ok := s.saveUpload(w, r)
		if !ok {
			return
		}
		m = uploaded
	}

	name, ok := cleanName(m.Name, "Untitled map")
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("map name must be %d characters or less", maxNameLength))
		return
	}
	m.Name = name
	m.OwnerID = actor.ID

	saved, err := s.store.CreateMap(r.Context(), m)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.logger.Info("map created", slog.String("map", saved.ID), slog.String("owner", actor.ID))
	writeJSON(w, http.StatusCreated, saved)
}

// saveUpload stores the multipart "file" field in the upload directory.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (storage.Map, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse upload")
		s.logger.Error("parse upload", slog.String("error", err.Error()))
		return storage.Map{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file not found in request")
		return storage.Map{}, false
	}
	defer file.Close()

	mimeType, err := detectContentType(file, header.Filename)
	if err != nil || !isAllowedImageType(mimeType) {
		writeError(w, http.StatusBadRequest, "file must be an image")
		return storage.Map{}, false
	}

	safeName := filepath.Base(header.Filename)
	uniqueName := fmt.Sprintf("%s-%s", uuid.NewString(), safeName)
	out, err := os.Create(filepath.Join(s.cfg.UploadDir, uniqueName))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unable to save file")
		s.logger.Error("create file", slog.String("error", err.Error()))
		return storage.Map{}, false
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		writeError(w, http.StatusInternalServerError, "unable to write file")
		s.logger.Error("write file", slog.String("error", err.Error()))
		return storage.Map{}, false
	}

	name := r.FormValue("name")
	if strings.TrimSpace(name) == "" {
		name = strings.TrimSuffix(safeName, filepath.Ext(safeName))
	}
	return storage.Map{
		Name:        name,
		ImageURL:    "/uploads/" + uniqueName,
		Description: r.FormValue("description"),
	}, true
}

func (s *Server) handleListMaps(w http.ResponseWriter, r *http.Request) {
	maps, err := s.store.ListMaps(r.Context(), actorFromContext(r.Context()).ID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maps)
}

func (s *Server) handleGetMap(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMap(r.Context(), r.PathValue("mapID"))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
