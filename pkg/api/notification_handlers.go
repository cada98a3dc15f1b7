package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/labcontrol/labcontrol/pkg/middleware"
	"github.com/labcontrol/labcontrol/pkg/policy"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceNotification, policy.ActionList) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	limit, offset := pagination(r)

	pred := s.evaluator.ScopeFilterForAction(p, policy.ResourceNotification, policy.ActionList)
	notifications, total, err := s.store.ListNotifications(r.Context(), pred, unreadOnly, limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("failed to list notifications")
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse{Items: notifications, Total: total})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceNotification, policy.ActionUpdate) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	pred := s.evaluator.ScopeFilterForAction(p, policy.ResourceNotification, policy.ActionUpdate)
	if err := s.store.MarkNotificationRead(r.Context(), mux.Vars(r)["id"], pred); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "notification read"})
}
