package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/policy"
	"github.com/labcontrol/labcontrol/pkg/storage"
)

// fakeStore is an in-memory storage.Store. It applies visibility predicates
// the same way the SQL layer does: an instance outside the predicate does
// not exist.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]*auth.User
	studies       map[string]*storage.Study
	results       map[string]*storage.ResultFile // keyed by study ID
	studyTypes    map[string]*storage.StudyType
	notifications map[string]*storage.Notification

	verifiedErr error // injected SetUserVerified failure
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[string]*auth.User),
		studies:       make(map[string]*storage.Study),
		results:       make(map[string]*storage.ResultFile),
		studyTypes:    make(map[string]*storage.StudyType),
		notifications: make(map[string]*storage.Notification),
	}
}

func (f *fakeStore) CreateUser(ctx context.Context, user *auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, user.Email) {
			return storage.ErrConflict
		}
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string, pred policy.Predicate) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || !pred.MatchesInstance(u.TenantID, u.ID) {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) ListUsers(ctx context.Context, pred policy.Predicate, roles []auth.Role, limit, offset int) ([]*auth.User, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*auth.User
	for _, u := range f.users {
		if !u.IsActive || !pred.MatchesInstance(u.TenantID, u.ID) {
			continue
		}
		if len(roles) > 0 {
			match := false
			for _, r := range roles {
				if u.Role == r {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		cp := *u
		out = append(out, &cp)
	}
	return page(out, limit, offset), int64(len(out)), nil
}

func (f *fakeStore) UpdateUser(ctx context.Context, user *auth.User, pred policy.Predicate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[user.ID]
	if !ok || !pred.MatchesInstance(u.TenantID, u.ID) {
		return storage.ErrNotFound
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeStore) DeactivateUser(ctx context.Context, id string, pred policy.Predicate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || !pred.MatchesInstance(u.TenantID, u.ID) {
		return storage.ErrNotFound
	}
	u.IsActive = false
	return nil
}

func (f *fakeStore) SetUserVerified(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifiedErr != nil {
		return f.verifiedErr
	}
	u, ok := f.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.IsVerified = true
	return nil
}

func (f *fakeStore) failSetUserVerified(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifiedErr = err
}

func (f *fakeStore) SetUserPassword(ctx context.Context, id, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeStore) TouchLastLogin(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now()
	u.LastLoginAt = &now
	return nil
}

func (f *fakeStore) CreateStudy(ctx context.Context, study *storage.Study) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *study
	f.studies[study.ID] = &cp
	return nil
}

func (f *fakeStore) GetStudy(ctx context.Context, id string, pred policy.Predicate) (*storage.Study, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.studies[id]
	if !ok || !pred.MatchesAnyOwner(st.TenantID, st.OwnerIDs()...) {
		return nil, storage.ErrNotFound
	}
	cp := *st
	if r, ok := f.results[id]; ok {
		rc := *r
		cp.Result = &rc
	}
	return &cp, nil
}

func (f *fakeStore) ListStudies(ctx context.Context, pred policy.Predicate, status storage.StudyStatus, limit, offset int) ([]*storage.Study, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storage.Study
	for _, st := range f.studies {
		if !pred.MatchesAnyOwner(st.TenantID, st.OwnerIDs()...) {
			continue
		}
		if status != "" && st.Status != status {
			continue
		}
		cp := *st
		out = append(out, &cp)
	}
	return page(out, limit, offset), int64(len(out)), nil
}

func (f *fakeStore) UpdateStudy(ctx context.Context, study *storage.Study, pred policy.Predicate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.studies[study.ID]
	if !ok || !pred.MatchesAnyOwner(st.TenantID, st.OwnerIDs()...) {
		return storage.ErrNotFound
	}
	cp := *study
	cp.Result = nil
	f.studies[study.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteStudy(ctx context.Context, id string, pred policy.Predicate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.studies[id]
	if !ok || !pred.MatchesAnyOwner(st.TenantID, st.OwnerIDs()...) {
		return storage.ErrNotFound
	}
	delete(f.studies, id)
	delete(f.results, id)
	return nil
}

func (f *fakeStore) AttachResult(ctx context.Context, result *storage.ResultFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.studies[result.StudyID]
	if !ok {
		return storage.ErrNotFound
	}
	cp := *result
	f.results[result.StudyID] = &cp
	st.Status = storage.StudyCompleted
	return nil
}

func (f *fakeStore) CreateStudyType(ctx context.Context, st *storage.StudyType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.studyTypes {
		if existing.TenantID == st.TenantID && existing.Code == st.Code {
			return storage.ErrConflict
		}
	}
	cp := *st
	f.studyTypes[st.ID] = &cp
	return nil
}

func (f *fakeStore) GetStudyType(ctx context.Context, id string, pred policy.Predicate) (*storage.StudyType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.studyTypes[id]
	if !ok || !pred.MatchesInstance(st.TenantID, "") {
		return nil, storage.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStore) ListStudyTypes(ctx context.Context, pred policy.Predicate) ([]*storage.StudyType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storage.StudyType
	for _, st := range f.studyTypes {
		if st.Active && pred.MatchesInstance(st.TenantID, "") {
			cp := *st
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateNotification(ctx context.Context, n *storage.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *n
	cp.CreatedAt = time.Now()
	f.notifications[n.ID] = &cp
	return nil
}

func (f *fakeStore) ListNotifications(ctx context.Context, pred policy.Predicate, unreadOnly bool, limit, offset int) ([]*storage.Notification, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storage.Notification
	for _, n := range f.notifications {
		if !pred.MatchesInstance(n.TenantID, n.UserID) {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return page(out, limit, offset), int64(len(out)), nil
}

func (f *fakeStore) MarkNotificationRead(ctx context.Context, id string, pred policy.Predicate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notifications[id]
	if !ok || !pred.MatchesInstance(n.TenantID, n.UserID) {
		return storage.ErrNotFound
	}
	n.Read = true
	return nil
}

func (f *fakeStore) ListPendingNotifications(ctx context.Context, limit int) ([]*storage.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storage.Notification
	for _, n := range f.notifications {
		if n.Status == storage.NotificationPending {
			cp := *n
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) MarkNotificationSent(ctx context.Context, id string, status storage.NotificationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notifications[id]
	if !ok {
		return storage.ErrNotFound
	}
	n.Status = status
	now := time.Now()
	n.SentAt = &now
	return nil
}

func (f *fakeStore) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                          { return nil }

// lastNotification returns the most recent notification for (userID, kind).
func (f *fakeStore) lastNotification(userID, kind string) *storage.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *storage.Notification
	for _, n := range f.notifications {
		if n.UserID != userID || n.Kind != kind {
			continue
		}
		if latest == nil || n.CreatedAt.After(latest.CreatedAt) {
			latest = n
		}
	}
	return latest
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
