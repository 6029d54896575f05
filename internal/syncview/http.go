package syncview

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/internal/discussion"
	"github.com/angelmondragon/pricecircle-backend/internal/proposals"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/pagination"
	"github.com/angelmondragon/pricecircle-backend/pkg/types"
)

const (
	apiPrefix             = "/api/v1"
	errorBodyReadLimit    = 4096
	maxEventSize          = 1 << 20
	EventReady            = "ready"
	EventMessage          = "message"
	defaultRequestTimeout = 10 * time.Second
)

// HTTPSource reads a proposal through the public REST API and its SSE stream.
type HTTPSource struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// HTTPOption configures optional HTTPSource behavior.
type HTTPOption func(*HTTPSource)

// WithHTTPClient overrides the default HTTP client. Its timeout is not
// applied to the message stream.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) HTTPOption {
	return func(s *HTTPSource) {
		s.token = strings.TrimSpace(token)
	}
}

// NewHTTPSource builds a source against the API rooted at baseURL.
func NewHTTPSource(baseURL string, opts ...HTTPOption) (*HTTPSource, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "base url is required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid base url")
	}
	source := &HTTPSource{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(source)
		}
	}
	return source, nil
}

func (s *HTTPSource) Snapshot(ctx context.Context, proposalID uuid.UUID) (*proposals.ProposalDetail, error) {
	var detail proposals.ProposalDetail
	if err := s.getJSON(ctx, fmt.Sprintf("/proposals/%s", proposalID), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (s *HTTPSource) ListMessages(ctx context.Context, proposalID uuid.UUID, params pagination.Params) (*discussion.MessagePage, error) {
	query := url.Values{}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Cursor != "" {
		query.Set("cursor", params.Cursor)
	}
	var page discussion.MessagePage
	if err := s.getJSON(ctx, fmt.Sprintf("/proposals/%s/messages", proposalID), query, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Subscribe opens the SSE stream and returns once the server confirms the
// subscription with a ready event.
func (s *HTTPSource) Subscribe(ctx context.Context, proposalID uuid.UUID, onMessage func(discussion.MessageDTO)) (Subscription, error) {
	if onMessage == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message handler required")
	}
	streamCtx, cancel := context.WithCancel(ctx)
	req, err := s.newRequest(streamCtx, fmt.Sprintf("/proposals/%s/messages/stream", proposalID), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	streamClient := *s.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open message stream")
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp)
	}

	sub := &httpSubscription{
		cancel: cancel,
		body:   resp.Body,
		done:   make(chan struct{}),
	}
	events := newEventReader(resp.Body)
	first, err := events.next()
	if err != nil || first.name != EventReady {
		sub.shutdown()
		if err == nil {
			err = fmt.Errorf("unexpected first event %q", first.name)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "await stream ready")
	}
	go sub.run(events, onMessage)
	return sub, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := s.newRequest(ctx, path, query)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	envelope := types.SuccessEnvelope{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode response")
	}
	return nil
}

func (s *HTTPSource) newRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	target := s.baseURL + apiPrefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build request")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}

// decodeError maps an error envelope back onto a typed error.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return pkgerrors.New(pkgerrors.Code(envelope.Error.Code), envelope.Error.Message).
			WithDetails(envelope.Error.Details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency,
		fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), "request failed")
}

type httpSubscription struct {
	cancel context.CancelFunc
	body   io.Closer
	done   chan struct{}
	once   sync.Once
}

func (s *httpSubscription) run(events *eventReader, onMessage func(discussion.MessageDTO)) {
	defer s.shutdown()
	for {
		ev, err := events.next()
		if err != nil {
			return
		}
		if ev.name != EventMessage {
			continue
		}
		var msg discussion.MessageDTO
		if err := json.Unmarshal([]byte(ev.data), &msg); err != nil {
			continue
		}
		onMessage(msg)
	}
}

func (s *httpSubscription) shutdown() {
	s.once.Do(func() {
		s.cancel()
		_ = s.body.Close()
		close(s.done)
	})
}

func (s *httpSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *httpSubscription) Close() error {
	s.shutdown()
	return nil
}

type event struct {
	name string
	data string
}

// eventReader parses the text/event-stream framing: field lines terminated by
// a blank line, comment lines starting with ':'.
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)
	return &eventReader{scanner: scanner}
}

func (r *eventReader) next() (event, error) {
	var (
		ev      event
		data    []string
		hasData bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if !hasData && ev.name == "" {
				continue
			}
			ev.data = strings.Join(data, "\n")
			if ev.name == "" {
				ev.name = EventMessage
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.name = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return event{}, err
	}
	return event{}, io.EOF
}
