package upload

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Handler exposes Process over HTTP: POST /upload, multipart form with a
// single "file" part, refresh token forwarded via cookie (§4.8 step 1).
func (s *Service) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("refresh_token")
		if err != nil {
			http.Error(w, "missing refresh token", http.StatusUnauthorized)
			return
		}

		if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
			http.Error(w, "request too large or malformed", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file part", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
		if err != nil {
			http.Error(w, "reading upload", http.StatusBadRequest)
			return
		}

		mimeType := header.Header.Get("content-type")
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		resp, err := s.Process(r.Context(), Request{
			RefreshToken: cookie.Value,
			Filename:     header.Filename,
			MimeType:     mimeType,
			Data:         data,
		})
		if err != nil {
			logger.Printf("upload rejected: %v", err)
			status := http.StatusUnprocessableEntity
			if errors.Is(err, ErrInsufficientCredits) {
				status = http.StatusPaymentRequired
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("content-type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Printf("encoding upload response: %v", err)
		}
	}
}
