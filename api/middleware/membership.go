package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/api/responses"
	"github.com/angelmondragon/pricecircle-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
)

// MembershipChecker answers whether a user belongs to a group.
type MembershipChecker interface {
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
}

// ProposalGroupResolver maps a proposal to its owning group.
type ProposalGroupResolver interface {
	GroupID(ctx context.Context, proposalID uuid.UUID) (uuid.UUID, error)
}

// RequireGroupMember rejects callers that are not members of the {groupId}
// in the route and stores the group in the request context.
func RequireGroupMember(checker MembershipChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if checker == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "membership checker unavailable"))
				return
			}
			userID, err := callerID(ctx)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			groupID, err := uuid.Parse(chi.URLParam(r, "groupId"))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid group id"))
				return
			}
			if err := requireMember(ctx, checker, groupID, userID); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}

			ctx = WithGroupID(ctx, groupID)
			if logg != nil {
				ctx = logg.WithGroupID(ctx, groupID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireProposalMember resolves the {proposalId} in the route to its group
// and rejects callers outside that group. Unknown proposals yield 404.
func RequireProposalMember(resolver ProposalGroupResolver, checker MembershipChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if resolver == nil || checker == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "membership checker unavailable"))
				return
			}
			userID, err := callerID(ctx)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			proposalID, err := uuid.Parse(chi.URLParam(r, "proposalId"))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid proposal id"))
				return
			}
			groupID, err := resolver.GroupID(ctx, proposalID)
			if err != nil {
				if db.IsNotFound(err) || pkgerrors.Is(err, pkgerrors.CodeNotFound) {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "proposal not found"))
					return
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve proposal group"))
				return
			}
			if err := requireMember(ctx, checker, groupID, userID); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}

			ctx = WithGroupID(ctx, groupID)
			ctx = WithProposalID(ctx, proposalID)
			if logg != nil {
				ctx = logg.WithGroupID(ctx, groupID.String())
				ctx = logg.WithProposalID(ctx, proposalID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func callerID(ctx context.Context) (uuid.UUID, error) {
	raw := UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

func requireMember(ctx context.Context, checker MembershipChecker, groupID, userID uuid.UUID) error {
	ok, err := checker.IsMember(ctx, groupID, userID)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check group membership")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeForbidden, "not a member of this group")
	}
	return nil
}
