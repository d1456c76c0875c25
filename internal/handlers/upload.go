package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"chatbridge/internal/apperr"
	"chatbridge/internal/services"
)

// UploadImage accepts an image as multipart field "file" or as a JSON body
// {"file": "data:image/...;base64,..."} and stores its renditions.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if h.Upload == nil {
		respondError(w, http.StatusServiceUnavailable, "Object storage not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxUploadSize+1<<20)

	var (
		data        []byte
		contentType string
		err         error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		data, contentType, err = readMultipartFile(r)
	default:
		var body struct {
			File string `json:"file"`
		}
		if err = decode(r, &body); err == nil {
			if body.File == "" {
				err = apperr.New(apperr.MissingRequiredField, "No file provided")
			} else {
				data, contentType, err = services.DecodeDataURL(body.File)
			}
		}
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.Upload.Upload(r.Context(), data, contentType)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func readMultipartFile(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(services.MaxUploadSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, "", apperr.New(apperr.Invalid, "File exceeds the 10MB limit")
		}
		return nil, "", apperr.Wrap(apperr.Invalid, "Invalid multipart body", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", apperr.New(apperr.MissingRequiredField, "No file provided")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Invalid, "Failed to read uploaded file", err)
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// UploadTestConfig reports which storage variables are set and whether the
// bucket answers.
func (h *Handler) UploadTestConfig(w http.ResponseWriter, r *http.Request) {
	if h.Upload == nil {
		respondError(w, http.StatusServiceUnavailable, "Object storage not configured")
		return
	}
	respondJSON(w, http.StatusOK, h.Upload.TestConfig(r.Context()))
}
