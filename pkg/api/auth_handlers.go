package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/middleware"
	"github.com/labcontrol/labcontrol/pkg/notify"
	"github.com/labcontrol/labcontrol/pkg/policy"
	"github.com/labcontrol/labcontrol/pkg/storage"
	"github.com/labcontrol/labcontrol/pkg/tokens"
)

// handleRegister creates a patient account and queues a verification email.
// Self-registration always lands in the patient role; staff accounts are
// created by managers through the user endpoints.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if req.TenantID == "" {
		respondError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.WithError(err).Error("password hashing failed")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &auth.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PhoneNumber:  req.PhoneNumber,
		Role:         auth.RolePatient,
		TenantID:     req.TenantID,
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   false,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Same response shape as success so registration does not
			// become an email oracle.
			respondJSON(w, http.StatusCreated, messageResponse{Message: "check your email to verify your account"})
			return
		}
		s.logger.WithError(err).Error("user creation failed")
		respondStorageError(w, err)
		return
	}

	s.sendVerificationEmail(r, user)
	respondJSON(w, http.StatusCreated, messageResponse{Message: "check your email to verify your account"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.logger.WithError(err).Error("login lookup failed")
		respondStorageError(w, err)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) || !user.IsActive {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !user.IsVerified {
		respondError(w, http.StatusForbidden, "email not verified")
		return
	}

	token, err := s.sessions.Issue(r.Context(), user.Principal())
	if err != nil {
		s.logger.WithError(err).Error("session issue failed")
		respondStorageError(w, err)
		return
	}

	if err := s.store.TouchLastLogin(r.Context(), user.ID); err != nil {
		s.logger.WithError(err).Warn("failed to record last login")
	}

	respondJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 {
		if err := s.sessions.Revoke(r.Context(), strings.TrimSpace(parts[1])); err != nil {
			s.logger.WithError(err).Debug("session revoke failed")
		}
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	user, err := s.store.GetUserByID(r.Context(), p.ID, s.evaluator.ScopeFilter(p, policy.ResourceUser))
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// handleVerifyEmail consumes a verification token. Every failure, including
// an unknown email, reads identically to the client.
func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}

	if err := s.tokens.Consume(r.Context(), user.ID, tokens.PurposeEmailVerify, req.Token); err != nil {
		respondStorageError(w, err)
		return
	}

	if err := s.store.SetUserVerified(r.Context(), user.ID); err != nil {
		// The presented code is already burned; queue a fresh one so the
		// user is not stranded on an unverified account.
		s.logger.WithError(err).Error("failed to mark user verified")
		s.sendVerificationEmail(r, user)
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "email verified"})
}

// handleResendVerification reissues the verification token. The response
// never reveals whether the email exists; reissuing invalidates any earlier
// token for the account.
func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err == nil && !user.IsVerified {
		s.sendVerificationEmail(r, user)
	}
	respondJSON(w, http.StatusAccepted, messageResponse{Message: "if the account exists, a verification email has been sent"})
}

func (s *Server) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err == nil && user.IsActive {
		value, err := s.tokens.Issue(r.Context(), user.ID, tokens.PurposePasswordReset, s.authCfg.PasswordResetTTL)
		if err != nil {
			s.logger.WithError(err).Error("failed to issue password reset token")
		} else {
			s.enqueueNotification(r, user.TenantID, user.ID, notify.KindPasswordReset,
				"Reset your password",
				fmt.Sprintf("Use this code to reset your password: %s", value))
		}
	}
	respondJSON(w, http.StatusAccepted, messageResponse{Message: "if the account exists, a reset email has been sent"})
}

func (s *Server) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := auth.ValidatePasswordStrength(req.NewPassword); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}

	if err := s.tokens.Consume(r.Context(), user.ID, tokens.PurposePasswordReset, req.Token); err != nil {
		respondStorageError(w, err)
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.logger.WithError(err).Error("password hashing failed")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.store.SetUserPassword(r.Context(), user.ID, hash); err != nil {
		s.logger.WithError(err).Error("failed to set password")
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "password updated"})
}

func (s *Server) sendVerificationEmail(r *http.Request, user *auth.User) {
	value, err := s.tokens.Issue(r.Context(), user.ID, tokens.PurposeEmailVerify, s.authCfg.EmailVerifyTTL)
	if err != nil {
		s.logger.WithError(err).Error("failed to issue verification token")
		return
	}
	s.enqueueNotification(r, user.TenantID, user.ID, notify.KindEmailVerification,
		"Verify your email",
		fmt.Sprintf("Use this code to verify your account: %s", value))
}
