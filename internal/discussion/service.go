package discussion

import (
	"context"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/angelmondragon/pricecircle-backend/internal/groups"
	"github.com/angelmondragon/pricecircle-backend/pkg/db"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/metrics"
	"github.com/angelmondragon/pricecircle-backend/pkg/pagination"
)

const (
	defaultMaxMessageLength = 4000
	defaultPublishTimeout   = 2 * time.Second
)

// Service defines the discussion channel operations.
type Service interface {
	PostMessage(ctx context.Context, proposalID, authorID uuid.UUID, content string) (*MessageDTO, error)
	Subscribe(ctx context.Context, proposalID uuid.UUID, onMessage func(MessageDTO)) (*Subscription, error)
	ListMessages(ctx context.Context, proposalID uuid.UUID, params pagination.Params) (*MessagePage, error)
	DeleteMessage(ctx context.Context, messageID, actorID uuid.UUID) error
}

type messageRepository interface {
	Append(ctx context.Context, msg *models.Message, now time.Time) error
	List(ctx context.Context, params listMessagesParams) ([]models.Message, *pagination.Cursor, error)
	FindByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error)
	Delete(ctx context.Context, messageID uuid.UUID) (bool, error)
}

// ProposalLookup resolves the proposal a message belongs to.
type ProposalLookup interface {
	FindByID(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error)
}

type service struct {
	repo           messageRepository
	proposals      ProposalLookup
	directory      groups.Directory
	hub            *Hub
	sanitizer      *bluemonday.Policy
	maxLength      int
	publishTimeout time.Duration
	metrics        *metrics.DiscussionMetrics
	logg           *logger.Logger
	now            func() time.Time
}

// ServiceParams groups discussion dependencies.
type ServiceParams struct {
	Repo             messageRepository
	Proposals        ProposalLookup
	Directory        groups.Directory
	Hub              *Hub
	MaxMessageLength int
	PublishTimeout   time.Duration
	Metrics          *metrics.DiscussionMetrics
	Logger           *logger.Logger
}

// NewService builds the discussion service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message repository required")
	}
	if params.Proposals == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proposal lookup required")
	}
	if params.Directory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "group directory required")
	}
	if params.Hub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hub required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	maxLength := params.MaxMessageLength
	if maxLength <= 0 {
		maxLength = defaultMaxMessageLength
	}
	timeout := params.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &service{
		repo:           params.Repo,
		proposals:      params.Proposals,
		directory:      params.Directory,
		hub:            params.Hub,
		sanitizer:      bluemonday.StrictPolicy(),
		maxLength:      maxLength,
		publishTimeout: timeout,
		metrics:        params.Metrics,
		logg:           params.Logger,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// PostMessage appends a message and pushes it to live subscribers. Push
// failures are logged and counted; they never fail the post.
func (s *service) PostMessage(ctx context.Context, proposalID, authorID uuid.UUID, content string) (*MessageDTO, error) {
	if proposalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proposal id required")
	}
	if authorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "author id required")
	}
	text, err := s.cleanContent(content)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ProposalID: proposalID,
		AuthorID:   authorID,
		Content:    text,
	}
	if err := s.repo.Append(ctx, msg, s.now()); err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "proposal not found")
		}
		return nil, pkgerrors.FromStorage(err, "append message", "proposal")
	}
	s.metrics.IncPosted()

	dto := ToDTO(msg)
	s.publish(ctx, *dto)
	return dto, nil
}

func (s *service) publish(ctx context.Context, msg MessageDTO) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.hub.Publish(pubCtx, msg); err != nil {
		s.metrics.IncPublishFailure()
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"proposal_id": msg.ProposalID.String(),
			"message_id":  msg.ID.String(),
		}), "discussion publish failed", err)
	}
}

// Subscribe checks the proposal exists, then attaches to its live stream.
// There is no replay; history comes from ListMessages.
func (s *service) Subscribe(ctx context.Context, proposalID uuid.UUID, onMessage func(MessageDTO)) (*Subscription, error) {
	if _, err := s.loadProposal(ctx, proposalID); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, proposalID, onMessage)
}

func (s *service) ListMessages(ctx context.Context, proposalID uuid.UUID, params pagination.Params) (*MessagePage, error) {
	if _, err := s.loadProposal(ctx, proposalID); err != nil {
		return nil, err
	}
	query := listMessagesParams{
		ProposalID: proposalID,
		Limit:      params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.After = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list messages")
	}
	page := &MessagePage{Items: ToDTOs(rows)}
	if next != nil {
		page.Cursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

// DeleteMessage removes a message. Only its author or a group owner/admin may.
func (s *service) DeleteMessage(ctx context.Context, messageID, actorID uuid.UUID) error {
	if messageID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "message id required")
	}
	msg, err := s.repo.FindByID(ctx, messageID)
	if err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "message not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load message")
	}

	if msg.AuthorID != actorID {
		proposal, err := s.loadProposal(ctx, msg.ProposalID)
		if err != nil {
			return err
		}
		member, err := s.directory.Membership(ctx, proposal.GroupID, actorID)
		if err != nil {
			return err
		}
		if !member.CanModerate() {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the author or a group admin may delete this message")
		}
	}

	found, err := s.repo.Delete(ctx, messageID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete message")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "message not found")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"message_id":  messageID.String(),
		"proposal_id": msg.ProposalID.String(),
		"actor_id":    actorID.String(),
	}), "discussion message deleted")
	return nil
}

// cleanContent strips markup and stores plain text.
func (s *service) cleanContent(content string) (string, error) {
	text := strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(content)))
	if text == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "message content is required")
	}
	if utf8.RuneCountInString(text) > s.maxLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "message content is too long").
			WithDetails(map[string]any{"max_length": s.maxLength})
	}
	return text, nil
}

func (s *service) loadProposal(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	if proposalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proposal id required")
	}
	proposal, err := s.proposals.FindByID(ctx, proposalID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "proposal not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load proposal")
	}
	return proposal, nil
}
