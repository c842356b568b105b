package api

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linklocal/pairgate/internal/domain"
	"github.com/linklocal/pairgate/internal/pairing"
	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// RegisterRoutes registers the pairing routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/pair", h.Pair)
	r.Get("/qr", h.QR)
	r.Get("/status/{sessionID}", h.Status)
}

// Pair starts a phone-code pairing session and waits for the one-shot
// outcome: the pairing code the device owner types in, or an error.
func (h *Handler) Pair(w http.ResponseWriter, r *http.Request) {
	target, err := NormalizeTarget(r.URL.Query().Get("number"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.orch.Begin(r.Context(), target, h.cfg.CodeFlow())
	if err != nil {
		slog.Error("Failed to start pairing session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to start pairing session")
		return
	}

	select {
	case out := <-sess.Outcome():
		h.writeCodeOutcome(w, out)
	case <-r.Context().Done():
		// Caller gave up; the session keeps running until its deadline.
		slog.Info("Caller disconnected before outcome", "session_id", sess.ID)
	}
}

// QR starts a scan-token pairing session and returns the rendered QR image
// plus the session ID for status polling.
func (h *Handler) QR(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orch.Begin(r.Context(), "", h.cfg.QRFlow())
	if err != nil {
		slog.Error("Failed to start pairing session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to start pairing session")
		return
	}

	select {
	case out := <-sess.Outcome():
		h.writeQROutcome(w, out)
	case <-r.Context().Done():
		slog.Info("Caller disconnected before outcome", "session_id", sess.ID)
	}
}

// Status reports whether the session's device linkage is confirmed. An
// unknown session (expired or never created) reports connected=false with
// an error.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	sess, err := h.registry.Lookup(id)
	if err != nil {
		JSON(w, http.StatusOK, map[string]interface{}{
			"connected": false,
			"error":     "unknown session",
		})
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"connected": sess.Phase() == domain.PhaseConnected,
	})
}

func (h *Handler) writeCodeOutcome(w http.ResponseWriter, out domain.Outcome) {
	if out.Err != nil {
		Error(w, statusForError(out.Err), out.Err.Error())
		return
	}
	if out.Connected {
		JSON(w, http.StatusOK, map[string]interface{}{"connected": true, "sessionId": out.SessionID})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"code": out.Code})
}

func (h *Handler) writeQROutcome(w http.ResponseWriter, out domain.Outcome) {
	if out.Err != nil {
		Error(w, statusForError(out.Err), out.Err.Error())
		return
	}
	if out.Connected {
		JSON(w, http.StatusOK, map[string]interface{}{"connected": true, "sessionId": out.SessionID})
		return
	}

	png, err := qrcode.Encode(out.QRToken, qrcode.Medium, qrImageSize)
	if err != nil {
		slog.Error("Failed to render QR image", "session_id", out.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to render QR image")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"qrCode":    "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		"sessionId": out.SessionID,
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, pairing.ErrPairingTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, pairing.ErrAlreadyRegistered), errors.Is(err, pairing.ErrInvalidTarget):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
