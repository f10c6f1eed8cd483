package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/royalty-engine/internal/apperr"
	"github.com/sells-group/royalty-engine/internal/model"
)

const maxBodyBytes = 1 << 20

type createPayoutRequest struct {
	ArtistID string   `json:"artist_id"`
	EventIDs []string `json:"event_ids"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			zap.L().Warn("api: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listPayouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, apperr.Validation("limit must be an integer"))
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		writeError(w, apperr.Validation("offset must be an integer"))
		return
	}

	history, err := h.payouts.ListPayouts(r.Context(), callerFromContext(r.Context()), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) previewPayout(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	artistID := strings.TrimSpace(r.URL.Query().Get("artist_id"))
	if artistID == "" {
		artistID = caller
	}

	preview, err := h.payouts.Preview(r.Context(), caller, artistID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *Handler) createPayout(w http.ResponseWriter, r *http.Request) {
	var req createPayoutRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid json body"))
		return
	}

	receipt, err := h.payouts.Create(r.Context(), callerFromContext(r.Context()), strings.TrimSpace(req.ArtistID), req.EventIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.payouts.Receipt(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) verifyReceipt(w http.ResponseWriter, r *http.Request) {
	v, err := h.payouts.VerifyReceipt(r.Context(), callerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) resultProof(w http.ResponseWriter, r *http.Request) {
	h.entityProof(w, r, model.EntityResult)
}

func (h *Handler) usageLogProof(w http.ResponseWriter, r *http.Request) {
	h.entityProof(w, r, model.EntityUsageLog)
}

func (h *Handler) entityProof(w http.ResponseWriter, r *http.Request, kind model.EntityKind) {
	c, err := h.correlator.Correlate(r.Context(), chi.URLParam(r, "id"), kind)
	if err != nil {
		h.fail(w, r, apperr.Downstream(err, "dual-proof lookup failed"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) trackProof(w http.ResponseWriter, r *http.Request) {
	at := h.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, apperr.Validation("at must be an RFC3339 timestamp"))
			return
		}
		at = parsed
	}

	c, err := h.correlator.ForTrack(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		h.fail(w, r, apperr.Downstream(err, "dual-proof lookup failed"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// fail logs server-side failures with their cause and writes the error body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, err)
}

// intParam parses an optional integer query value; empty means zero.
func intParam(raw string) (int, error) {
	if raw = strings.TrimSpace(raw); raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), errorBody{Error: errorDetail{
		Code:    string(apperr.KindOf(err)),
		Message: apperr.Message(err),
	}})
}
