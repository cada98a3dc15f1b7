package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/policy"
)

// ErrNotFound is returned when a record does not exist or falls outside the
// caller's visibility predicate. The two cases are deliberately identical.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a uniqueness constraint is violated, such as
// registering an email that is already taken.
var ErrConflict = errors.New("record already exists")

// Config holds storage backend settings.
type Config struct {
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// AssetBackend selects where result files live: "filesystem" or "s3".
	AssetBackend   string
	FilesystemRoot string

	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// UserCacheSize bounds the in-process user lookup cache. Zero disables
	// caching.
	UserCacheSize int
}

// StudyStatus is the workflow state of a study.
type StudyStatus string

const (
	StudyPending    StudyStatus = "pending"
	StudyInProgress StudyStatus = "in_progress"
	StudyCompleted  StudyStatus = "completed"
	StudyCancelled  StudyStatus = "cancelled"
)

// StudyType is a catalog entry describing a kind of study a lab offers.
type StudyType struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Study is an ordered medical study. It is owned by both its patient and the
// ordering doctor; visibility follows the scoping predicate.
type Study struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	PatientID   string      `json:"patient_id"`
	DoctorID    string      `json:"doctor_id,omitempty"`
	StudyTypeID string      `json:"study_type_id"`
	Status      StudyStatus `json:"status"`
	Notes       string      `json:"notes,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Result      *ResultFile `json:"result,omitempty"`
}

// OwnerIDs returns every principal with an ownership claim on the study.
func (s *Study) OwnerIDs() []string {
	owners := []string{s.PatientID}
	if s.DoctorID != "" {
		owners = append(owners, s.DoctorID)
	}
	return owners
}

// ResultFile is the metadata of an uploaded study result. The bytes live in
// the asset store under ObjectKey; only metadata is kept in the database.
type ResultFile struct {
	ID          string    `json:"id"`
	StudyID     string    `json:"study_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ObjectKey   string    `json:"-"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// NotificationStatus is the delivery state of a notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is a message queued for a user: verification emails, result
// availability notices, appointment reminders.
type Notification struct {
	ID        string             `json:"id"`
	TenantID  string             `json:"tenant_id"`
	UserID    string             `json:"user_id"`
	Kind      string             `json:"kind"`
	Subject   string             `json:"subject"`
	Body      string             `json:"body"`
	Status    NotificationStatus `json:"status"`
	Read      bool               `json:"read"`
	CreatedAt time.Time          `json:"created_at"`
	SentAt    *time.Time         `json:"sent_at,omitempty"`
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *auth.User) error
	GetUserByID(ctx context.Context, id string, pred policy.Predicate) (*auth.User, error)
	GetUserByEmail(ctx context.Context, email string) (*auth.User, error)
	ListUsers(ctx context.Context, pred policy.Predicate, roles []auth.Role, limit, offset int) ([]*auth.User, int64, error)
	UpdateUser(ctx context.Context, user *auth.User, pred policy.Predicate) error
	DeactivateUser(ctx context.Context, id string, pred policy.Predicate) error
	SetUserVerified(ctx context.Context, id string) error
	SetUserPassword(ctx context.Context, id, passwordHash string) error
	TouchLastLogin(ctx context.Context, id string) error
}

// StudyStore persists studies, the study catalog, and result file metadata.
type StudyStore interface {
	CreateStudy(ctx context.Context, study *Study) error
	GetStudy(ctx context.Context, id string, pred policy.Predicate) (*Study, error)
	ListStudies(ctx context.Context, pred policy.Predicate, status StudyStatus, limit, offset int) ([]*Study, int64, error)
	UpdateStudy(ctx context.Context, study *Study, pred policy.Predicate) error
	DeleteStudy(ctx context.Context, id string, pred policy.Predicate) error
	AttachResult(ctx context.Context, result *ResultFile) error

	CreateStudyType(ctx context.Context, st *StudyType) error
	GetStudyType(ctx context.Context, id string, pred policy.Predicate) (*StudyType, error)
	ListStudyTypes(ctx context.Context, pred policy.Predicate) ([]*StudyType, error)
}

// NotificationStore persists the notification queue.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, pred policy.Predicate, unreadOnly bool, limit, offset int) ([]*Notification, int64, error)
	MarkNotificationRead(ctx context.Context, id string, pred policy.Predicate) error
	ListPendingNotifications(ctx context.Context, limit int) ([]*Notification, error)
	MarkNotificationSent(ctx context.Context, id string, status NotificationStatus) error
}

// Store is the full persistence surface the API is built on.
type Store interface {
	UserStore
	StudyStore
	NotificationStore

	HealthCheck(ctx context.Context) error
	Close() error
}

// AssetStore holds the bytes of uploaded result files, keyed by object key.
type AssetStore interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
	DeleteObject(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}
