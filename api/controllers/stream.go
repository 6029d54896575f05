package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/angelmondragon/pricecircle-backend/api/responses"
	"github.com/angelmondragon/pricecircle-backend/internal/discussion"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
)

const (
	streamEventReady   = "ready"
	streamEventMessage = "message"

	defaultStreamHeartbeat = 25 * time.Second
)

// StreamMessages pushes new proposal messages as server-sent events. The
// first event is "ready", sent once the subscription is live; every later
// message arrives as a "message" event. Comment lines keep idle connections open.
func StreamMessages(svc discussion.Service, heartbeat time.Duration, logg *logger.Logger) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = defaultStreamHeartbeat
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "discussion service unavailable"))
			return
		}
		proposalID, err := proposalIDFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})
		var (
			mu     sync.Mutex
			closed bool
		)
		fail := make(chan error, 1)
		send := func(frame string) {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			_, err := fmt.Fprint(w, frame)
			if err == nil {
				err = rc.Flush()
			}
			if err != nil {
				select {
				case fail <- err:
				default:
				}
			}
		}

		// Hold the lock until the ready event is out so no message frame
		// can precede the response headers.
		mu.Lock()
		sub, err := svc.Subscribe(ctx, proposalID, func(msg discussion.MessageDTO) {
			payload, err := json.Marshal(msg)
			if err != nil {
				return
			}
			send(eventFrame(streamEventMessage, payload))
		})
		if err != nil {
			mu.Unlock()
			responses.WriteError(ctx, logg, w, err)
			return
		}
		defer func() {
			mu.Lock()
			closed = true
			mu.Unlock()
			_ = sub.Close()
		}()

		header := w.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, eventFrame(streamEventReady, []byte("{}")))
		flushErr := rc.Flush()
		mu.Unlock()
		if flushErr != nil {
			logg.Warn(logg.WithField(ctx, "error", flushErr.Error()), "stream flush unsupported")
			return
		}

		logg.Info(ctx, "discussion stream opened")
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logg.Info(ctx, "discussion stream closed by client")
				return
			case <-sub.Done():
				logg.Info(ctx, "discussion stream ended")
				return
			case err := <-fail:
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "discussion stream write failed")
				return
			case <-ticker.C:
				send(": ping\n\n")
			}
		}
	}
}

func eventFrame(event string, payload []byte) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload)
}
