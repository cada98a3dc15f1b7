package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/labcontrol/labcontrol/pkg/policy"
	"github.com/labcontrol/labcontrol/pkg/storage"
)

const studyColumns = `s.id, s.tenant_id, s.patient_id, s.doctor_id,
	s.study_type_id, s.status, s.notes, s.created_at, s.updated_at`

func scanStudy(row interface{ Scan(...interface{}) error }) (*storage.Study, error) {
	var st storage.Study
	var doctorID sql.NullString
	err := row.Scan(
		&st.ID, &st.TenantID, &st.PatientID, &doctorID,
		&st.StudyTypeID, &st.Status, &st.Notes, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.DoctorID = doctorID.String
	return &st, nil
}

func (s *Store) CreateStudy(ctx context.Context, study *storage.Study) error {
	query := `
		INSERT INTO studies (id, tenant_id, patient_id, doctor_id, study_type_id, status, notes)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		study.ID, study.TenantID, study.PatientID, study.DoctorID,
		study.StudyTypeID, study.Status, study.Notes,
	).Scan(&study.CreatedAt, &study.UpdatedAt)
	s.observe("create_study", err)
	if err != nil {
		return fmt.Errorf("failed to create study: %w", err)
	}
	return nil
}

func (s *Store) GetStudy(ctx context.Context, id string, pred policy.Predicate) (*storage.Study, error) {
	args := []interface{}{id}
	cond, args := storage.CompilePredicate(pred, storage.StudyColumns, args)
	query := fmt.Sprintf(`SELECT %s FROM studies s WHERE s.id = $1 AND %s`, studyColumns, cond)

	study, err := scanStudy(s.db.QueryRowContext(ctx, query, args...))
	s.observe("get_study", err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get study: %w", err)
	}

	result, err := s.getResultFile(ctx, study.ID)
	if err != nil {
		return nil, err
	}
	study.Result = result
	return study, nil
}

func (s *Store) ListStudies(ctx context.Context, pred policy.Predicate, status storage.StudyStatus, limit, offset int) ([]*storage.Study, int64, error) {
	var args []interface{}
	cond, args := storage.CompilePredicate(pred, storage.StudyColumns, args)

	conds := []string{cond}
	if status != "" {
		args = append(args, status)
		conds = append(conds, fmt.Sprintf("s.status = $%d", len(args)))
	}
	where := strings.Join(conds, " AND ")

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM studies s WHERE %s`, where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		s.observe("list_studies", err)
		return nil, 0, fmt.Errorf("failed to count studies: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s FROM studies s WHERE %s
		ORDER BY s.created_at DESC, s.id
		LIMIT $%d OFFSET $%d`, studyColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	s.observe("list_studies", err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list studies: %w", err)
	}
	defer rows.Close()

	var studies []*storage.Study
	for rows.Next() {
		study, err := scanStudy(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan study: %w", err)
		}
		studies = append(studies, study)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating studies: %w", err)
	}
	return studies, total, nil
}

func (s *Store) UpdateStudy(ctx context.Context, study *storage.Study, pred policy.Predicate) error {
	args := []interface{}{study.Status, study.Notes, study.ID}
	cond, args := storage.CompilePredicate(pred, storage.StudyColumns, args)
	query := fmt.Sprintf(`
		UPDATE studies s SET status = $1, notes = $2, updated_at = NOW()
		WHERE s.id = $3 AND %s`, cond)

	return s.execExpectingRow(ctx, "update_study", query, args...)
}

// studyDeleteColumns spells the columns without the alias, which DELETE does
// not accept.
var studyDeleteColumns = storage.PredicateColumns{
	Tenant: "studies.tenant_id",
	Owners: []string{"studies.patient_id", "studies.doctor_id"},
}

func (s *Store) DeleteStudy(ctx context.Context, id string, pred policy.Predicate) error {
	args := []interface{}{id}
	cond, args := storage.CompilePredicate(pred, studyDeleteColumns, args)
	query := fmt.Sprintf(`DELETE FROM studies WHERE studies.id = $1 AND %s`, cond)

	return s.execExpectingRow(ctx, "delete_study", query, args...)
}

// AttachResult records uploaded result metadata and moves the study to
// completed in one transaction. A second upload replaces the prior result.
func (s *Store) AttachResult(ctx context.Context, result *storage.ResultFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.observe("attach_result", err)
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM result_files WHERE study_id = $1`, result.StudyID); err != nil {
		s.observe("attach_result", err)
		return fmt.Errorf("failed to replace prior result: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO result_files (id, study_id, file_name, content_type, size, object_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING uploaded_at`,
		result.ID, result.StudyID, result.FileName, result.ContentType,
		result.Size, result.ObjectKey, result.UploadedBy,
	).Scan(&result.UploadedAt)
	if err != nil {
		s.observe("attach_result", err)
		return fmt.Errorf("failed to insert result metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE studies SET status = $2, updated_at = NOW() WHERE id = $1`,
		result.StudyID, storage.StudyCompleted); err != nil {
		s.observe("attach_result", err)
		return fmt.Errorf("failed to mark study completed: %w", err)
	}

	err = tx.Commit()
	s.observe("attach_result", err)
	if err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}
	return nil
}

func (s *Store) getResultFile(ctx context.Context, studyID string) (*storage.ResultFile, error) {
	var r storage.ResultFile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, study_id, file_name, content_type, size, object_key, uploaded_by, uploaded_at
		FROM result_files WHERE study_id = $1`, studyID,
	).Scan(&r.ID, &r.StudyID, &r.FileName, &r.ContentType, &r.Size, &r.ObjectKey, &r.UploadedBy, &r.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result file: %w", err)
	}
	return &r, nil
}

func (s *Store) CreateStudyType(ctx context.Context, st *storage.StudyType) error {
	query := `
		INSERT INTO study_types (id, tenant_id, code, name, description, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		st.ID, st.TenantID, st.Code, st.Name, st.Description, st.Active,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
	s.observe("create_study_type", err)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return storage.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create study type: %w", err)
	}
	return nil
}

func (s *Store) GetStudyType(ctx context.Context, id string, pred policy.Predicate) (*storage.StudyType, error) {
	args := []interface{}{id}
	cond, args := storage.CompilePredicate(pred, storage.StudyTypeColumns, args)
	query := fmt.Sprintf(`
		SELECT st.id, st.tenant_id, st.code, st.name, st.description, st.active,
			st.created_at, st.updated_at
		FROM study_types st WHERE st.id = $1 AND %s`, cond)

	var result storage.StudyType
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&result.ID, &result.TenantID, &result.Code, &result.Name,
		&result.Description, &result.Active, &result.CreatedAt, &result.UpdatedAt,
	)
	s.observe("get_study_type", err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get study type: %w", err)
	}
	return &result, nil
}

func (s *Store) ListStudyTypes(ctx context.Context, pred policy.Predicate) ([]*storage.StudyType, error) {
	var args []interface{}
	cond, args := storage.CompilePredicate(pred, storage.StudyTypeColumns, args)
	query := fmt.Sprintf(`
		SELECT st.id, st.tenant_id, st.code, st.name, st.description, st.active,
			st.created_at, st.updated_at
		FROM study_types st WHERE %s AND st.active = TRUE
		ORDER BY st.name`, cond)

	rows, err := s.db.QueryContext(ctx, query, args...)
	s.observe("list_study_types", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list study types: %w", err)
	}
	defer rows.Close()

	var types []*storage.StudyType
	for rows.Next() {
		var st storage.StudyType
		if err := rows.Scan(
			&st.ID, &st.TenantID, &st.Code, &st.Name,
			&st.Description, &st.Active, &st.CreatedAt, &st.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan study type: %w", err)
		}
		types = append(types, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating study types: %w", err)
	}
	return types, nil
}
