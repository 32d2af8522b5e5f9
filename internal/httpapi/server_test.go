// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memberd/memberd/internal/httpapi"
	"github.com/memberd/memberd/internal/member"
)

// memRepo is an in-memory member.Repository for handler tests.
type memRepo struct {
	mu      sync.Mutex
	members map[string]member.Member
	fail    error
}

func newMemRepo() *memRepo {
	return &memRepo{members: make(map[string]member.Member)}
}

func (r *memRepo) Create(_ context.Context, m *member.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	if _, ok := r.members[m.UserID]; ok {
		return member.ErrAlreadyExists
	}
	r.members[m.UserID] = *m
	return nil
}

func (r *memRepo) GetByID(_ context.Context, userID string) (*member.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	m, ok := r.members[userID]
	if !ok {
		return nil, member.ErrNotFound
	}
	return &m, nil
}

func (r *memRepo) GetByIDAndName(ctx context.Context, userID, userName string) (*member.Member, error) {
	m, err := r.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if m.UserName != userName {
		return nil, member.ErrNotFound
	}
	return m, nil
}

func (r *memRepo) GetByVerificationToken(_ context.Context, token string) (*member.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.EmailVerificationToken == token {
			m := m
			return &m, nil
		}
	}
	return nil, member.ErrNotFound
}

func (r *memRepo) GetByResetToken(_ context.Context, token string) (*member.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.PasswordResetToken == token {
			m := m
			return &m, nil
		}
	}
	return nil, member.ErrNotFound
}

func (r *memRepo) MarkEmailVerified(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[userID]
	if !ok || m.EmailVerified {
		return member.ErrNotFound
	}
	m.EmailVerified = true
	m.EmailVerifiedAt = &at
	r.members[userID] = m
	return nil
}

func (r *memRepo) SetPasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[userID]
	if !ok {
		return member.ErrNotFound
	}
	m.PasswordResetToken = token
	m.PasswordResetExpiresAt = &expiresAt
	r.members[userID] = m
	return nil
}

func (r *memRepo) CompletePasswordReset(_ context.Context, token, passwordHash string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.members {
		if m.PasswordResetToken == token {
			m.PasswordHash = passwordHash
			m.PasswordResetToken = ""
			m.PasswordResetExpiresAt = nil
			r.members[id] = m
			return nil
		}
	}
	return member.ErrNotFound
}

// stubNotifier records sends and optionally fails.
type stubNotifier struct {
	mu            sync.Mutex
	fail          error
	verifications int
	resets        int
	lastToken     string
}

func (n *stubNotifier) SendVerification(_ context.Context, _, _, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.verifications++
	n.lastToken = token
	return nil
}

func (n *stubNotifier) SendPasswordReset(_ context.Context, _, _, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.resets++
	n.lastToken = token
	return nil
}

type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (stubHasher) Verify(password, hash string) (bool, error) {
	return hash == "hashed:"+password, nil
}

type fixture struct {
	ts       *httptest.Server
	repo     *memRepo
	notifier *stubNotifier
	clock    *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	notifier := &stubNotifier{}
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	svc, err := member.NewLifecycleService(repo, stubHasher{}, notifier,
		member.WithClock(clock.Now))
	require.NoError(t, err)

	srv, err := httpapi.NewServer(":0", svc)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{ts: ts, repo: repo, notifier: notifier, clock: clock}
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.ts.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func errCodeOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := decodeBody[map[string]string](t, resp)
	return body["code"]
}

func register(t *testing.T, f *fixture, userID, userName string) {
	t.Helper()
	resp := f.postJSON(t, "/member/register", map[string]string{
		"user_id":   userID,
		"user_name": userName,
		"password":  "s3cret-enough",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestRegister(t *testing.T) {
	t.Run("creates an unverified member", func(t *testing.T) {
		f := newFixture(t)

		resp := f.postJSON(t, "/member/register", map[string]string{
			"user_id":   "alice@example.com",
			"user_name": "Alice",
			"phone":     "+15550001111",
			"password":  "s3cret-enough",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

		body := decodeBody[map[string]any](t, resp)
		assert.Equal(t, "alice@example.com", body["user_id"])
		assert.Equal(t, "Alice", body["user_name"])

		m, err := f.repo.GetByID(context.Background(), "alice@example.com")
		require.NoError(t, err)
		assert.False(t, m.EmailVerified)
		assert.Equal(t, 1, f.notifier.verifications)
	})

	t.Run("duplicate user ID conflicts", func(t *testing.T) {
		f := newFixture(t)
		register(t, f, "alice@example.com", "Alice")

		resp := f.postJSON(t, "/member/register", map[string]string{
			"user_id":   "alice@example.com",
			"user_name": "Imposter",
			"password":  "other-password",
		})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "MEMBER_DUPLICATE", errCodeOf(t, resp))
	})

	t.Run("missing user name is a bad request", func(t *testing.T) {
		f := newFixture(t)

		resp := f.postJSON(t, "/member/register", map[string]string{
			"user_id":  "alice@example.com",
			"password": "s3cret-enough",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "MEMBER_INVALID_USER_NAME", errCodeOf(t, resp))
	})

	t.Run("malformed JSON is a bad request", func(t *testing.T) {
		f := newFixture(t)

		resp, err := http.Post(f.ts.URL+"/member/register", "application/json",
			strings.NewReader("{not json"))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_REQUEST_BODY", errCodeOf(t, resp))
	})
}

func TestVerifyEmail(t *testing.T) {
	t.Run("verifies with the emailed token", func(t *testing.T) {
		f := newFixture(t)
		register(t, f, "alice@example.com", "Alice")

		resp := f.get(t, "/member/email-auth?id="+f.notifier.lastToken)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[map[string]bool](t, resp)
		assert.True(t, body["verified"])

		m, err := f.repo.GetByID(context.Background(), "alice@example.com")
		require.NoError(t, err)
		assert.True(t, m.EmailVerified)
	})

	t.Run("unknown token is not found", func(t *testing.T) {
		f := newFixture(t)

		resp := f.get(t, "/member/email-auth?id=deadbeef")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "TOKEN_NOT_FOUND", errCodeOf(t, resp))
	})

	t.Run("second verification conflicts", func(t *testing.T) {
		f := newFixture(t)
		register(t, f, "alice@example.com", "Alice")
		token := f.notifier.lastToken

		resp := f.get(t, "/member/email-auth?id="+token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = f.get(t, "/member/email-auth?id="+token)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "MEMBER_ALREADY_VERIFIED", errCodeOf(t, resp))
	})
}

func TestResendVerification(t *testing.T) {
	t.Run("resends the original token", func(t *testing.T) {
		f := newFixture(t)
		register(t, f, "alice@example.com", "Alice")
		first := f.notifier.lastToken

		resp := f.postJSON(t, "/member/email-auth/resend", map[string]string{
			"user_id": "alice@example.com",
		})
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, first, f.notifier.lastToken)
		assert.Equal(t, 2, f.notifier.verifications)
	})

	t.Run("unknown account is indistinguishable from success", func(t *testing.T) {
		f := newFixture(t)

		resp := f.postJSON(t, "/member/email-auth/resend", map[string]string{
			"user_id": "nobody@example.com",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, 0, f.notifier.verifications)
	})

	t.Run("already verified conflicts", func(t *testing.T) {
		f := newFixture(t)
		register(t, f, "alice@example.com", "Alice")
		resp := f.get(t, "/member/email-auth?id="+f.notifier.lastToken)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = f.postJSON(t, "/member/email-auth/resend", map[string]string{
			"user_id": "alice@example.com",
		})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "MEMBER_ALREADY_VERIFIED", errCodeOf(t, resp))
	})

	t.Run("delivery failure is a bad gateway", func(t *testing.T) {
		f := newFixture(t)
		register(t, f, "alice@example.com", "Alice")
		f.notifier.fail = errors.New("smtp down")

		resp := f.postJSON(t, "/member/email-auth/resend", map[string]string{
			"user_id": "alice@example.com",
		})
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, "MAIL_DELIVERY_FAILED", errCodeOf(t, resp))
	})
}

func TestPasswordReset(t *testing.T) {
	setup := func(t *testing.T) *fixture {
		t.Helper()
		f := newFixture(t)
		register(t, f, "alice@example.com", "Alice")
		resp := f.get(t, "/member/email-auth?id="+f.notifier.lastToken)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
		return f
	}

	requestReset := func(t *testing.T, f *fixture, userID, userName string) *http.Response {
		t.Helper()
		return f.postJSON(t, "/member/reset/password/request", map[string]string{
			"user_id":   userID,
			"user_name": userName,
		})
	}

	t.Run("request is accepted and emails a token", func(t *testing.T) {
		f := setup(t)

		resp := requestReset(t, f, "alice@example.com", "Alice")
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, 1, f.notifier.resets)
		assert.NotEmpty(t, f.notifier.lastToken)
	})

	t.Run("unknown account is indistinguishable from success", func(t *testing.T) {
		f := setup(t)

		resp := requestReset(t, f, "nobody@example.com", "Nobody")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, 0, f.notifier.resets)
	})

	t.Run("name mismatch is indistinguishable from success", func(t *testing.T) {
		f := setup(t)

		resp := requestReset(t, f, "alice@example.com", "Mallory")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, 0, f.notifier.resets)
	})

	t.Run("probe reports token validity", func(t *testing.T) {
		f := setup(t)
		resp := requestReset(t, f, "alice@example.com", "Alice")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
		token := f.notifier.lastToken

		resp = f.get(t, "/member/reset/password?id="+token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, decodeBody[struct {
			Valid bool `json:"valid"`
		}](t, resp).Valid)

		f.clock.Advance(25 * time.Hour)

		resp = f.get(t, "/member/reset/password?id="+token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, decodeBody[struct {
			Valid bool `json:"valid"`
		}](t, resp).Valid)
	})

	t.Run("reset replaces the password and consumes the token", func(t *testing.T) {
		f := setup(t)
		resp := requestReset(t, f, "alice@example.com", "Alice")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
		token := f.notifier.lastToken

		resp = f.postJSON(t, "/member/reset/password", map[string]string{
			"token":    token,
			"password": "brand-new-secret",
		})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()

		m, err := f.repo.GetByID(context.Background(), "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "hashed:brand-new-secret", m.PasswordHash)
		assert.Empty(t, m.PasswordResetToken)

		resp = f.postJSON(t, "/member/reset/password", map[string]string{
			"token":    token,
			"password": "again",
		})
		require.Equal(t, http.StatusGone, resp.StatusCode)
		assert.Equal(t, "RESET_TOKEN_INVALID", errCodeOf(t, resp))
	})

	t.Run("expired token is gone", func(t *testing.T) {
		f := setup(t)
		resp := requestReset(t, f, "alice@example.com", "Alice")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
		token := f.notifier.lastToken

		f.clock.Advance(25 * time.Hour)

		resp = f.postJSON(t, "/member/reset/password", map[string]string{
			"token":    token,
			"password": "brand-new-secret",
		})
		require.Equal(t, http.StatusGone, resp.StatusCode)
		assert.Equal(t, "RESET_TOKEN_INVALID", errCodeOf(t, resp))
	})

	t.Run("empty replacement password is a bad request", func(t *testing.T) {
		f := setup(t)
		resp := requestReset(t, f, "alice@example.com", "Alice")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()

		resp = f.postJSON(t, "/member/reset/password", map[string]string{
			"token":    f.notifier.lastToken,
			"password": "",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "RESET_PASSWORD_EMPTY", errCodeOf(t, resp))
	})
}

func TestServerLifecycle(t *testing.T) {
	t.Run("rejects nil service", func(t *testing.T) {
		_, err := httpapi.NewServer(":0", nil)
		require.Error(t, err)
	})

	t.Run("starts and stops", func(t *testing.T) {
		repo := newMemRepo()
		svc, err := member.NewLifecycleService(repo, stubHasher{}, &stubNotifier{})
		require.NoError(t, err)

		srv, err := httpapi.NewServer("localhost:0", svc)
		require.NoError(t, err)

		errCh, err := srv.Start()
		require.NoError(t, err)

		resp, err := http.Get(fmt.Sprintf("http://%s/member/email-auth?id=x", srv.Addr()))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Stop(ctx))

		select {
		case serveErr := <-errCh:
			assert.NoError(t, serveErr)
		case <-time.After(time.Second):
			t.Fatal("server did not shut down")
		}
	})
}
