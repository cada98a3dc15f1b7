package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/middleware"
	"github.com/labcontrol/labcontrol/pkg/notify"
	"github.com/labcontrol/labcontrol/pkg/policy"
	"github.com/labcontrol/labcontrol/pkg/storage"
)

// maxResultUpload bounds result file uploads.
const maxResultUpload = 50 << 20 // 50 MiB

func (s *Server) handleListStudyTypes(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceStudyType, policy.ActionList) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	pred := s.evaluator.ScopeFilterForAction(p, policy.ResourceStudyType, policy.ActionList)
	types, err := s.store.ListStudyTypes(r.Context(), pred)
	if err != nil {
		s.logger.WithError(err).Error("failed to list study types")
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse{Items: types, Total: int64(len(types))})
}

func (s *Server) handleCreateStudyType(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceStudyType, policy.ActionCreate) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	var req createStudyTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.Name == "" {
		respondError(w, http.StatusBadRequest, "code and name are required")
		return
	}

	st := &storage.StudyType{
		ID:          uuid.New().String(),
		TenantID:    p.TenantID,
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Active:      true,
	}
	if err := s.store.CreateStudyType(r.Context(), st); err != nil {
		s.logger.WithError(err).Error("failed to create study type")
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, st)
}

func (s *Server) handleListStudies(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceStudy, policy.ActionList) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	status := storage.StudyStatus(r.URL.Query().Get("status"))
	limit, offset := pagination(r)

	pred := s.evaluator.ScopeFilterForAction(p, policy.ResourceStudy, policy.ActionList)
	studies, total, err := s.store.ListStudies(r.Context(), pred, status, limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("failed to list studies")
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse{Items: studies, Total: total})
}

func (s *Server) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceStudy, policy.ActionCreate) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	var req createStudyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PatientID == "" || req.StudyTypeID == "" {
		respondError(w, http.StatusBadRequest, "patient_id and study_type_id are required")
		return
	}

	// The patient must be a patient account the creator can reference;
	// anything else reads as unknown so a study create cannot probe other
	// tenants' accounts.
	userPred := policy.Predicate{TenantID: p.TenantID}
	if p.Role == auth.RoleSuperuser {
		userPred = policy.Predicate{All: true}
	}
	patient, err := s.store.GetUserByID(r.Context(), req.PatientID, userPred)
	if err != nil || patient.Role != auth.RolePatient {
		respondError(w, http.StatusBadRequest, "unknown patient")
		return
	}

	study := &storage.Study{
		ID:          uuid.New().String(),
		TenantID:    patient.TenantID,
		PatientID:   patient.ID,
		DoctorID:    req.DoctorID,
		StudyTypeID: req.StudyTypeID,
		Status:      storage.StudyPending,
		Notes:       req.Notes,
	}
	// Doctors order studies in their own name.
	if p.Role == auth.RoleDoctor {
		study.DoctorID = p.ID
	}

	if err := s.store.CreateStudy(r.Context(), study); err != nil {
		s.logger.WithError(err).Error("failed to create study")
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, study)
}

func (s *Server) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceStudy, policy.ActionRead) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	pred := s.evaluator.ScopeFilter(p, policy.ResourceStudy)
	study, err := s.store.GetStudy(r.Context(), mux.Vars(r)["id"], pred)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, study)
}

func (s *Server) handleUpdateStudy(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceStudy, policy.ActionUpdate) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	var req updateStudyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pred := s.evaluator.ScopeFilterForAction(p, policy.ResourceStudy, policy.ActionUpdate)
	study, err := s.store.GetStudy(r.Context(), mux.Vars(r)["id"], pred)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	if req.Status != nil {
		switch *req.Status {
		case storage.StudyPending, storage.StudyInProgress, storage.StudyCompleted, storage.StudyCancelled:
			study.Status = *req.Status
		default:
			respondError(w, http.StatusBadRequest, "unknown status")
			return
		}
	}
	if req.Notes != nil {
		study.Notes = *req.Notes
	}

	if err := s.store.UpdateStudy(r.Context(), study, pred); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, study)
}

func (s *Server) handleDeleteStudy(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceStudy, policy.ActionDelete) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	pred := s.evaluator.ScopeFilterForAction(p, policy.ResourceStudy, policy.ActionDelete)
	if err := s.store.DeleteStudy(r.Context(), mux.Vars(r)["id"], pred); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "study deleted"})
}

// handleUploadResult stores a result file and completes the study. Staff
// only; the upload replaces any prior result for the study.
func (s *Server) handleUploadResult(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)
	if !s.evaluator.IsAllowed(p, policy.ResourceResult, policy.ActionUpload) {
		respondError(w, http.StatusForbidden, "permission denied")
		return
	}

	pred := s.evaluator.ScopeFilterForAction(p, policy.ResourceResult, policy.ActionUpload)
	study, err := s.store.GetStudy(r.Context(), mux.Vars(r)["id"], pred)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxResultUpload)
	if err := r.ParseMultipartForm(maxResultUpload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	result := &storage.ResultFile{
		ID:          uuid.New().String(),
		StudyID:     study.ID,
		FileName:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		ObjectKey:   fmt.Sprintf("results/%s/%s/%s", study.TenantID, study.ID, uuid.New().String()),
		UploadedBy:  p.ID,
	}

	if err := s.assets.PutObject(r.Context(), result.ObjectKey, file, contentType); err != nil {
		s.logger.WithError(err).Error("failed to store result file")
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	if err := s.store.AttachResult(r.Context(), result); err != nil {
		s.logger.WithError(err).Error("failed to record result metadata")
		respondStorageError(w, err)
		return
	}

	s.enqueueNotification(r, study.TenantID, study.PatientID, notify.KindResultReady,
		"Your results are ready", "Log in to view your study results.")

	respondJSON(w, http.StatusCreated, result)
}

// handleDownloadResult streams a result file through the asset guard. An
// out-of-scope result reads as 404; only a role with no download capability
// at all sees 403.
func (s *Server) handleDownloadResult(w http.ResponseWriter, r *http.Request) {
	p := middleware.Principal(r)

	// Fetched unscoped: the guard applies visibility itself and must be
	// able to distinguish "absent" from "out of scope" internally while
	// reporting both identically.
	study, err := s.store.GetStudy(r.Context(), mux.Vars(r)["id"], policy.Predicate{All: true})

	asset := policy.Asset{Resource: policy.ResourceResult}
	if err == nil && study.Result != nil {
		asset.Exists = true
		asset.TenantID = study.TenantID
		asset.OwnerIDs = study.OwnerIDs()
	}

	switch s.guard.AuthorizeRetrieval(p, asset) {
	case policy.DecisionForbidden:
		respondError(w, http.StatusForbidden, "permission denied")
		return
	case policy.DecisionNotFound:
		respondError(w, http.StatusNotFound, "resource not found")
		return
	}

	reader, err := s.assets.GetObject(r.Context(), study.Result.ObjectKey)
	if err != nil {
		s.logger.WithError(err).Error("failed to open result file")
		respondStorageError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", study.Result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", study.Result.FileName))
	if study.Result.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", study.Result.Size))
	}
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.WithError(err).Warn("result download interrupted")
	}
}
