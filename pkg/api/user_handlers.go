package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/middleware"
	"github.com/labcontrol/labcontrol/pkg/policy"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceUser, policy.ActionList) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	var roles []auth.Role
	if roleParam := r.URL.Query().Get("role"); roleParam != "" {
		role := auth.Role(roleParam)
		if !role.Valid() {
			respondError(w, http.StatusBadRequest, "unknown role")
			return
		}
		roles = append(roles, role)
	}
	limit, offset := pagination(r)

	pred := s.evaluator.ScopeFilterForAction(p, policy.ResourceUser, policy.ActionList)
	users, total, err := s.store.ListUsers(r.Context(), pred, roles, limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("failed to list users")
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse{Items: users, Total: total})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceUser, policy.ActionRead) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	pred := s.evaluator.ScopeFilter(p, policy.ResourceUser)
	user, err := s.store.GetUserByID(r.Context(), mux.Vars(r)["id"], pred)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceUser, policy.ActionUpdate) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pred := s.evaluator.ScopeFilterForAction(p, policy.ResourceUser, policy.ActionUpdate)
	user, err := s.store.GetUserByID(r.Context(), mux.Vars(r)["id"], pred)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.PhoneNumber != nil {
		user.PhoneNumber = *req.PhoneNumber
	}

	if err := s.store.UpdateUser(r.Context(), user, pred); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// handleDeactivateUser is a soft delete: the account stays for audit but can
// no longer authenticate or appear in listings.
func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceUser, policy.ActionDelete) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	pred := s.evaluator.ScopeFilterForAction(p, policy.ResourceUser, policy.ActionDelete)
	if err := s.store.DeactivateUser(r.Context(), mux.Vars(r)["id"], pred); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "account deactivated"})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
