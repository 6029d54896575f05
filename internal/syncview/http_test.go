package syncview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pricecircle-backend/internal/discussion"
	"github.com/angelmondragon/pricecircle-backend/internal/proposals"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/pagination"
	"github.com/angelmondragon/pricecircle-backend/pkg/types"
)

type fakeAPI struct {
	proposalID uuid.UUID
	history    []discussion.MessageDTO
	live       chan discussion.MessageDTO
	mu         sync.Mutex
	auth       []string
}

func (a *fakeAPI) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			a.mu.Lock()
			a.auth = append(a.auth, req.Header.Get("Authorization"))
			a.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/api/v1/proposals/{proposalId}", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "proposalId") != a.proposalID.String() {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(types.ErrorEnvelope{Error: types.APIError{Code: "NOT_FOUND", Message: "proposal not found"}})
			return
		}
		_ = json.NewEncoder(w).Encode(types.SuccessEnvelope{Data: proposals.ProposalDetail{
			ProposalDTO:  proposals.ProposalDTO{ID: a.proposalID, Status: enums.ProposalStatusVoting, Name: "Espresso machine"},
			ApproveCount: 2,
			MemberCount:  5,
		}})
	})
	r.Get("/api/v1/proposals/{proposalId}/messages", func(w http.ResponseWriter, req *http.Request) {
		page := discussion.MessagePage{Items: a.history}
		if req.URL.Query().Get("cursor") == "" && len(a.history) > 1 {
			page = discussion.MessagePage{Items: a.history[:1], Cursor: "next"}
		} else if req.URL.Query().Get("cursor") == "next" {
			page = discussion.MessagePage{Items: a.history[1:]}
		}
		_ = json.NewEncoder(w).Encode(types.SuccessEnvelope{Data: page})
	})
	r.Get("/api/v1/proposals/{proposalId}/messages/stream", func(w http.ResponseWriter, req *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\nevent: ready\ndata: {}\n\n")
		flusher.Flush()
		for {
			select {
			case <-req.Context().Done():
				return
			case msg, ok := <-a.live:
				if !ok {
					return
				}
				payload, _ := json.Marshal(msg)
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
				flusher.Flush()
			}
		}
	})
	return r
}

func TestHTTPSourceSnapshotAndHistory(t *testing.T) {
	proposalID := uuid.New()
	api := &fakeAPI{
		proposalID: proposalID,
		history: []discussion.MessageDTO{
			message(proposalID, 0, "one"),
			message(proposalID, time.Second, "two"),
		},
	}
	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL+"/", WithToken("tok"))
	require.NoError(t, err)
	ctx := context.Background()

	detail, err := src.Snapshot(ctx, proposalID)
	require.NoError(t, err)
	assert.Equal(t, "Espresso machine", detail.Name)
	assert.Equal(t, int64(5), detail.MemberCount)

	page, err := src.ListMessages(ctx, proposalID, pagination.Params{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "next", page.Cursor)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "one", page.Items[0].Content)

	_, err = src.Snapshot(ctx, uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	api.mu.Lock()
	defer api.mu.Unlock()
	for _, header := range api.auth {
		assert.Equal(t, "Bearer tok", header)
	}
}

func TestHTTPSourceStreamsMessages(t *testing.T) {
	proposalID := uuid.New()
	api := &fakeAPI{proposalID: proposalID, live: make(chan discussion.MessageDTO, 4)}
	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL)
	require.NoError(t, err)

	got := make(chan discussion.MessageDTO, 4)
	sub, err := src.Subscribe(context.Background(), proposalID, func(m discussion.MessageDTO) { got <- m })
	require.NoError(t, err)

	api.live <- message(proposalID, 0, "live")
	select {
	case m := <-got:
		assert.Equal(t, "live", m.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no message from stream")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	<-sub.Done()
}

func TestHTTPSourceStreamEndSignalsDone(t *testing.T) {
	proposalID := uuid.New()
	api := &fakeAPI{proposalID: proposalID, live: make(chan discussion.MessageDTO)}
	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL)
	require.NoError(t, err)
	sub, err := src.Subscribe(context.Background(), proposalID, func(discussion.MessageDTO) {})
	require.NoError(t, err)
	defer sub.Close()

	close(api.live)
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription should end with the stream")
	}
}

func TestHTTPSourceDrivesView(t *testing.T) {
	proposalID := uuid.New()
	api := &fakeAPI{
		proposalID: proposalID,
		history: []discussion.MessageDTO{
			message(proposalID, 0, "one"),
			message(proposalID, time.Second, "two"),
		},
		live: make(chan discussion.MessageDTO, 4),
	}
	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL)
	require.NoError(t, err)
	view, err := New(Params{Source: src, ProposalID: proposalID, Logger: logger.Nop()})
	require.NoError(t, err)
	defer view.Close()

	require.NoError(t, view.Start(context.Background()))
	api.live <- api.history[1]
	api.live <- message(proposalID, 2*time.Second, "three")

	assert.Eventually(t, func() bool {
		return strings.Join(contents(view.Messages()), ",") == "one,two,three"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewHTTPSourceRequiresURL(t *testing.T) {
	_, err := NewHTTPSource("  ")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestEventReaderFraming(t *testing.T) {
	input := ": comment\n\nevent: ready\ndata: {}\n\ndata: line1\ndata: line2\n\nevent: message\ndata:{\"a\":1}\n\n"
	r := newEventReader(strings.NewReader(input))

	ev, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, event{name: "ready", data: "{}"}, ev)

	ev, err = r.next()
	require.NoError(t, err)
	assert.Equal(t, event{name: "message", data: "line1\nline2"}, ev)

	ev, err = r.next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, ev.data)

	_, err = r.next()
	assert.Error(t, err)
}
