package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/policy"
	"github.com/labcontrol/labcontrol/pkg/storage"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewWithDB(db, nil)
	require.NoError(t, err)
	return store, mock
}

func userRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "email", "first_name", "last_name", "phone_number",
		"role", "tenant_id", "password_hash", "is_active", "is_verified",
		"created_at", "updated_at", "last_login_at",
	}).AddRow(
		"user-1", "pat@example.com", "Pat", "Doe", "",
		"patient", "lab-1", "hash", true, true,
		now, now, nil,
	)
}

func TestGetUserByEmail(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM users u WHERE lower\(u\.email\) = lower\(\$1\)`).
		WithArgs("pat@example.com").
		WillReturnRows(userRows())

	user, err := store.GetUserByEmail(context.Background(), "pat@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, auth.RolePatient, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByEmail_NotFound(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM users u`).
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetUserByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.CreateUser(context.Background(), &auth.User{
		ID:    "user-1",
		Email: "pat@example.com",
		Role:  auth.RolePatient,
	})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestGetUserByID_PredicateInQuery(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM users u WHERE u\.id = \$1 AND u\.tenant_id = \$2 AND \(u\.id = \$3\)`).
		WithArgs("user-1", "lab-1", "user-1").
		WillReturnRows(userRows())

	pred := policy.Predicate{TenantID: "lab-1", OwnerID: "user-1"}
	user, err := store.GetUserByID(context.Background(), "user-1", pred)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByID_NonePredicateCompilesToFalse(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM users u WHERE u\.id = \$1 AND FALSE`).
		WithArgs("user-1").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetUserByID(context.Background(), "user-1", policy.Predicate{None: true})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateUser_OutOfScopeIsNotFound(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectExec(`UPDATE users u`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	pred := policy.Predicate{TenantID: "lab-2"}
	err := store.UpdateUser(context.Background(), &auth.User{ID: "user-1"}, pred)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeactivateUser(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectExec(`UPDATE users u SET is_active = FALSE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.DeactivateUser(context.Background(), "user-1", policy.Predicate{TenantID: "lab-1"})
	assert.NoError(t, err)
}

func studyRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "patient_id", "doctor_id",
		"study_type_id", "status", "notes", "created_at", "updated_at",
	}).AddRow(
		"study-1", "lab-1", "patient-1", "doctor-1",
		"type-1", "pending", "", now, now,
	)
}

func TestGetStudy(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM studies s WHERE s\.id = \$1 AND s\.tenant_id = \$2 AND \(s\.patient_id = \$3 OR s\.doctor_id = \$3\)`).
		WithArgs("study-1", "lab-1", "patient-1").
		WillReturnRows(studyRows())
	mock.ExpectQuery(`SELECT (.+) FROM result_files WHERE study_id = \$1`).
		WithArgs("study-1").
		WillReturnError(sql.ErrNoRows)

	pred := policy.Predicate{TenantID: "lab-1", OwnerID: "patient-1"}
	study, err := store.GetStudy(context.Background(), "study-1", pred)
	require.NoError(t, err)
	assert.Equal(t, "study-1", study.ID)
	assert.Nil(t, study.Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStudy_OutOfScope(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM studies s`).
		WillReturnError(sql.ErrNoRows)

	pred := policy.Predicate{TenantID: "lab-2"}
	_, err := store.GetStudy(context.Background(), "study-1", pred)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListStudies(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM studies s WHERE s\.tenant_id = \$1`).
		WithArgs("lab-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT (.+) FROM studies s WHERE s\.tenant_id = \$1`).
		WithArgs("lab-1", 20, 0).
		WillReturnRows(studyRows())

	studies, total, err := store.ListStudies(context.Background(),
		policy.Predicate{TenantID: "lab-1"}, "", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, studies, 1)
	assert.Equal(t, "study-1", studies[0].ID)
}

func TestAttachResult(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM result_files WHERE study_id = \$1`).
		WithArgs("study-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO result_files`).
		WillReturnRows(sqlmock.NewRows([]string{"uploaded_at"}).AddRow(time.Now()))
	mock.ExpectExec(`UPDATE studies SET status = \$2`).
		WithArgs("study-1", storage.StudyCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.AttachResult(context.Background(), &storage.ResultFile{
		ID:          "result-1",
		StudyID:     "study-1",
		FileName:    "cbc.pdf",
		ContentType: "application/pdf",
		Size:        1024,
		ObjectKey:   "results/lab-1/study-1/result-1",
		UploadedBy:  "staff-1",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotificationRead_OutOfScope(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectExec(`UPDATE notifications n SET read = TRUE`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkNotificationRead(context.Background(), "n-1",
		policy.Predicate{TenantID: "lab-1", OwnerID: "user-2"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListPendingNotifications(t *testing.T) {
	store, mock := setupStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "user_id", "kind", "subject",
		"body", "status", "read", "created_at", "sent_at",
	}).AddRow("n-1", "lab-1", "user-1", "result_ready", "Your results are ready",
		"", "pending", false, now, nil)

	mock.ExpectQuery(`SELECT (.+) FROM notifications n\s+WHERE n\.status = \$1`).
		WithArgs(storage.NotificationPending, 10).
		WillReturnRows(rows)

	pending, err := store.ListPendingNotifications(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "n-1", pending[0].ID)
}
