package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/api/middleware"
	"github.com/angelmondragon/pricecircle-backend/api/responses"
	"github.com/angelmondragon/pricecircle-backend/api/validators"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/pagination"
)

func currentUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

func proposalIDFrom(r *http.Request) (uuid.UUID, error) {
	if id := middleware.ProposalIDFromContext(r.Context()); id != uuid.Nil {
		return id, nil
	}
	return validators.ParseUUIDParam(r, "proposalId")
}

func groupIDFrom(r *http.Request) (uuid.UUID, error) {
	if id := middleware.GroupIDFromContext(r.Context()); id != uuid.Nil {
		return id, nil
	}
	return validators.ParseUUIDParam(r, "groupId")
}

// pageFrom reads the limit and cursor query parameters shared by list endpoints.
func pageFrom(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	cursor, err := validators.ParseCursor(r)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{Limit: limit, Cursor: cursor}, nil
}

// unavailable answers for a route registered without its service.
func unavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger, service string) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, service+" service unavailable"))
}
