package scheduler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const webhookSignatureHeader = "X-Hub-Signature-256"

// verifyWebhookSignature checks header against an HMAC-SHA256 of body
// using secret, in constant time. Ported from
// original_source/crates/gateway/src/api/webhooks.rs's
// "X-Hub-Signature-256: sha256=<hex>" contract.
func verifyWebhookSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	sigHex := strings.TrimPrefix(header, prefix)
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	return subtle.ConstantTimeCompare(sig, expected) == 1
}

// TriggerHandler returns an http.HandlerFunc implementing
// POST /v1/schedules/{id}/trigger: validates an optional HMAC body signature,
// rejects disabled schedules, and fires the same pipeline a cron tick
// would, synchronously.
//
// idFromRequest extracts the schedule id from the request (the router's
// path-parameter extraction, kept out of this package to avoid depending
// on a specific mux).
func (e *Engine) TriggerHandler(idFromRequest func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := idFromRequest(r)
		sc, ok := e.store.Get(id)
		if !ok {
			http.Error(w, "schedule not found", http.StatusNotFound)
			return
		}
		if sc.Status != ScheduleEnabled {
			http.Error(w, "schedule is disabled", http.StatusConflict)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		if sc.WebhookSecret != "" {
			sig := r.Header.Get(webhookSignatureHeader)
			if sig == "" || !verifyWebhookSignature(sc.WebhookSecret, body, sig) {
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
		}

		e.fire(r.Context(), sc, time.Now().UTC())
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"status":"triggered","schedule_id":%q}`, id)
	}
}
