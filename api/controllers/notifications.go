package controllers

import (
	"net/http"

	"github.com/angelmondragon/pricecircle-backend/api/responses"
	"github.com/angelmondragon/pricecircle-backend/api/validators"
	"github.com/angelmondragon/pricecircle-backend/internal/notifications"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
)

func listParamsFrom(r *http.Request) (notifications.ListParams, error) {
	userID, err := currentUserID(r)
	if err != nil {
		return notifications.ListParams{}, err
	}
	page, err := pageFrom(r)
	if err != nil {
		return notifications.ListParams{}, err
	}
	unread, err := validators.ParseQueryBool(r, "unreadOnly")
	if err != nil {
		return notifications.ListParams{}, err
	}
	return notifications.ListParams{UserID: userID, Limit: page.Limit, Cursor: page.Cursor, UnreadOnly: unread}, nil
}

// ListNotifications returns the caller's inbox, newest first, with the unread total.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "notifications")
			return
		}
		params, err := listParamsFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// MarkNotificationRead is idempotent: reading twice keeps the first read time.
func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "notifications")
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		notificationID, err := validators.ParseUUIDParam(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.MarkRead(r.Context(), userID, notificationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"read": true})
	}
}

func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(w, r, logg, "notifications")
			return
		}
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		updated, err := svc.MarkAllRead(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": updated})
	}
}
