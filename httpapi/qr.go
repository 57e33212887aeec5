package httpapi

import (
	"net/http"
	"strconv"

	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

// esimQR renders the LPA activation string of a provisioned session as a
// PNG. ?size= sets the edge length in pixels.
func (s *Server) esimQR(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.engine.ESimArtifact(r.Context(), sessionID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	size := defaultQRSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 64 || n > maxQRSize {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{
				Error:   "Invalid QR size",
				Details: "size must be between 64 and 1024",
			})
			return
		}
		size = n
	}

	png, err := qrcode.Encode(artifact.LPAString, qrcode.Medium, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
