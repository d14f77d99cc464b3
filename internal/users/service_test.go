package users

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roleguard/roleguard/internal/platform/httpx"
	"github.com/roleguard/roleguard/internal/rbac"
	"github.com/roleguard/roleguard/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	users   []User
	lookups atomic.Int32
	block   chan struct{}
}

func (m *memoryRepo) Create(_ context.Context, in NewUser) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == in.Email {
			return User{}, ErrEmailTaken
		}
	}
	now := time.Now()
	u := User{
		ID:           int64(len(m.users) + 1),
		Name:         in.Name,
		Email:        in.Email,
		Role:         in.Role,
		Permissions:  in.Permissions,
		PasswordHash: in.PasswordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.users = append(m.users, u)
	return u, nil
}

func (m *memoryRepo) FindByID(ctx context.Context, id int64) (User, error) {
	m.lookups.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return User{}, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, shared.ErrNotFound
}

func (m *memoryRepo) FindByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, shared.ErrNotFound
}

func (m *memoryRepo) List(context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]User(nil), m.users...), nil
}

type recordingAudit struct {
	logs []shared.AuditLog
	err  error
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return a.err
}

type recordingNotifier struct {
	users     []User
	passwords []string
	err       error
}

func (n *recordingNotifier) UserCreated(_ context.Context, user User, initialPassword string) error {
	n.users = append(n.users, user)
	n.passwords = append(n.passwords, initialPassword)
	return n.err
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *recordingAudit, *recordingNotifier) {
	t.Helper()
	evaluator, err := rbac.NewEvaluator(rbac.DefaultTable())
	require.NoError(t, err)
	repo := &memoryRepo{}
	audit := &recordingAudit{}
	notifier := &recordingNotifier{}
	svc := NewService(repo, evaluator, ServiceConfig{Audit: audit, Notifier: notifier})
	return svc, repo, audit, notifier
}

var adminActor = rbac.Principal{ID: 99, Name: "Root", Email: "root@example.com", Role: rbac.RoleAdmin}

func TestCreateUserSnapshotsRolePermissions(t *testing.T) {
	svc, _, audit, notifier := newTestService(t)

	created, err := svc.CreateUser(context.Background(), adminActor, CreateUserInput{
		Name:     "  Mia Manager ",
		Email:    " Mia@Example.COM ",
		Role:     "Manager",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	assert.Equal(t, "Mia Manager", created.User.Name)
	assert.Equal(t, "mia@example.com", created.User.Email)
	assert.Equal(t, rbac.RoleManager, created.User.Role)
	assert.Equal(t, []string{"read:public", "read:team", "write:team", "approve:requests"}, created.User.Permissions)
	assert.Empty(t, created.InitialPassword)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.User.PasswordHash), []byte("correct-horse")))

	require.Len(t, audit.logs, 1)
	assert.Equal(t, shared.AuditUserCreated, audit.logs[0].Action)
	assert.Equal(t, int64(99), audit.logs[0].ActorID)
	assert.Equal(t, "1", audit.logs[0].EntityID)

	require.Len(t, notifier.users, 1)
	assert.Equal(t, []string{""}, notifier.passwords)
}

func TestCreateUserGeneratesPassword(t *testing.T) {
	svc, _, _, notifier := newTestService(t)

	created, err := svc.CreateUser(context.Background(), adminActor, CreateUserInput{
		Name: "Una", Email: "una@example.com", Role: "user",
	})
	require.NoError(t, err)
	require.Len(t, created.InitialPassword, 20)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.User.PasswordHash), []byte(created.InitialPassword)))
	assert.Equal(t, []string{created.InitialPassword}, notifier.passwords)
}

func TestCreateUserRejections(t *testing.T) {
	manager := rbac.Principal{ID: 5, Role: rbac.RoleManager}
	cases := map[string]struct {
		actor rbac.Principal
		in    CreateUserInput
		want  error
	}{
		"missing name":      {adminActor, CreateUserInput{Email: "a@example.com", Role: "user"}, httpx.ErrValidation},
		"bad email":         {adminActor, CreateUserInput{Name: "A", Email: "nope", Role: "user"}, httpx.ErrValidation},
		"short password":    {adminActor, CreateUserInput{Name: "A", Email: "a@example.com", Role: "user", Password: "short"}, httpx.ErrValidation},
		"unknown role":      {adminActor, CreateUserInput{Name: "A", Email: "a@example.com", Role: "moderator"}, ErrInvalidRole},
		"guest not granted": {adminActor, CreateUserInput{Name: "A", Email: "a@example.com", Role: "guest"}, ErrRoleNotAssignable},
		"outranks actor":    {manager, CreateUserInput{Name: "A", Email: "a@example.com", Role: "admin"}, httpx.ErrForbidden},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, repo, audit, _ := newTestService(t)
			_, err := svc.CreateUser(context.Background(), tc.actor, tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, repo.users)
			assert.Empty(t, audit.logs)
		})
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	in := CreateUserInput{Name: "A", Email: "dup@example.com", Role: "user", Password: "password1"}

	_, err := svc.CreateUser(context.Background(), adminActor, in)
	require.NoError(t, err)
	in.Email = "DUP@example.com"
	_, err = svc.CreateUser(context.Background(), adminActor, in)
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestCreateUserSideEffectFailuresAreNotFatal(t *testing.T) {
	svc, _, audit, notifier := newTestService(t)
	audit.err = errors.New("audit down")
	notifier.err = errors.New("queue down")

	created, err := svc.CreateUser(context.Background(), adminActor, CreateUserInput{
		Name: "B", Email: "b@example.com", Role: "user", Password: "password1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.User.ID)
}

func TestResolvePrincipal(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.users = []User{
		{ID: 1, Name: "Ada", Email: "ada@example.com", Role: rbac.RoleAdmin, IsActive: true},
		{ID: 2, Name: "Old", Email: "old@example.com", Role: rbac.RoleUser, IsActive: false},
	}

	p, err := svc.ResolvePrincipal(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, rbac.Principal{ID: 1, Name: "Ada", Email: "ada@example.com", Role: rbac.RoleAdmin}, p)

	_, err = svc.ResolvePrincipal(context.Background(), 2)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.ResolvePrincipal(context.Background(), 3)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestResolvePrincipalSharesConcurrentLookups(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.users = []User{{ID: 1, Role: rbac.RoleUser, IsActive: true}}
	repo.block = make(chan struct{})

	const callers = 8
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer done.Done()
			started.Done()
			p, err := svc.ResolvePrincipal(context.Background(), 1)
			assert.NoError(t, err)
			assert.Equal(t, rbac.RoleUser, p.Role)
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(repo.block)
	done.Wait()

	assert.Less(t, repo.lookups.Load(), int32(callers))
}

func TestResolvePrincipalSurvivesFirstCallerCancel(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.users = []User{{ID: 1, Role: rbac.RoleManager, IsActive: true}}
	repo.block = make(chan struct{})

	firstCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = svc.ResolvePrincipal(firstCtx, 1)
	}()
	require.Eventually(t, func() bool { return repo.lookups.Load() == 1 }, time.Second, time.Millisecond)

	var second rbac.Principal
	var secondErr error
	go func() {
		defer wg.Done()
		second, secondErr = svc.ResolvePrincipal(context.Background(), 1)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(repo.block)
	wg.Wait()

	require.NoError(t, secondErr)
	assert.Equal(t, rbac.RoleManager, second.Role)
	assert.Equal(t, int32(1), repo.lookups.Load())
}

func TestCreateUserRejectsPasswordOverBcryptLimit(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	_, err := svc.CreateUser(context.Background(), adminActor, CreateUserInput{
		Name: "Eve", Email: "eve@example.com", Role: "user", Password: strings.Repeat("é", 40),
	})
	assert.ErrorIs(t, err, httpx.ErrValidation)
	assert.Empty(t, repo.users)

	_, err = svc.CreateUser(context.Background(), adminActor, CreateUserInput{
		Name: "Eve", Email: "eve@example.com", Role: "user", Password: strings.Repeat("é", 36),
	})
	assert.NoError(t, err)
}
