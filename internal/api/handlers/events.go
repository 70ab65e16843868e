package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dvloznov/statement-importer/internal/api/middleware"
	"github.com/dvloznov/statement-importer/internal/domain"
)

const writeWait = 10 * time.Second

// StreamStatus handles GET /api/imports/{id}/events. WebSocket clients get
// every status change plus a periodic snapshot; the stream ends once the
// job is completed or failed. Plain HTTP clients get the current snapshot.
func (h *ImportsHandler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		h.GetImport(w, r)
		return
	}

	id := r.PathValue("id")
	userID := middleware.CurrentUserID(r.Context())

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	updates, unsubscribe, err := h.svc.Subscribe(ctx, id, userID)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to subscribe")
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("job_id", id).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reads only detect the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var last *domain.ImportJob
	send := func(job *domain.ImportJob) bool {
		if job == nil || stale(job, last) {
			return true
		}
		last = job
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(job); err != nil {
			h.log.Debug().Err(err).Str("job_id", id).Msg("Status stream write failed")
			return false
		}
		return !job.Status.IsTerminal()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-updates:
			if !ok || !send(job) {
				h.closeStream(conn)
				return
			}
		case <-ticker.C:
			job, err := h.svc.GetStatus(ctx, id, userID)
			if err != nil {
				h.log.Warn().Err(err).Str("job_id", id).Msg("Status poll failed")
				continue
			}
			if !send(job) {
				h.closeStream(conn)
				return
			}
		}
	}
}

func (h *ImportsHandler) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// stale reports whether job adds nothing over the last snapshot sent.
func stale(job, last *domain.ImportJob) bool {
	if last == nil {
		return false
	}
	if job.UpdatedAt.Before(last.UpdatedAt) {
		return true
	}
	return job.UpdatedAt.Equal(last.UpdatedAt) && job.Status == last.Status
}
