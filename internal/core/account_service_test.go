package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuvex-backend-go/internal/models"
)

type accountFixture struct {
	identity *fakeIdentity
	accounts *fakeAccounts
	svc      AccountService
}

func newAccountFixture(t *testing.T) *accountFixture {
	t.Helper()
	lf := newLifecycleFixture(t)
	f := &accountFixture{identity: &fakeIdentity{}, accounts: lf.accounts}
	f.svc = NewAccountService(f.identity, lf.svc, testLifecycleConfig(), nil, nil)
	return f
}

func TestSignupStartsTrial(t *testing.T) {
	f := newAccountFixture(t)

	res, err := f.svc.Signup(context.Background(), models.SignupRequest{
		Email:    " Owner@Example.com ",
		Password: "secret1",
		FullName: "Ana Lima",
	})
	require.NoError(t, err)

	assert.Equal(t, "uid_1", res.Account.ID)
	assert.Equal(t, "token-uid_1", res.CustomToken)
	stored := f.accounts.get("uid_1")
	require.NotNil(t, stored)
	assert.Equal(t, "owner@example.com", stored.Email)
	assert.Equal(t, models.StatusTrial, stored.Status)
	assert.Equal(t, testNow.AddDate(0, 0, 7), *stored.TrialEnd)
}

func TestSignupExtendedTrial(t *testing.T) {
	f := newAccountFixture(t)

	_, err := f.svc.Signup(context.Background(), models.SignupRequest{Email: "a@example.com", Password: "secret1", FullName: "A", Trial: "extended"})
	require.NoError(t, err)
	assert.Equal(t, 14, f.accounts.get("uid_1").TrialPeriod)
}

func TestSignupValidation(t *testing.T) {
	f := newAccountFixture(t)

	_, err := f.svc.Signup(context.Background(), models.SignupRequest{Email: "not-an-email", Password: "123", FullName: ""})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "email")
	assert.Contains(t, verr.Fields, "password")
	assert.Contains(t, verr.Fields, "fullName")
	assert.Empty(t, f.identity.users)
}

func TestSignupDuplicateEmail(t *testing.T) {
	f := newAccountFixture(t)
	req := models.SignupRequest{Email: "a@example.com", Password: "secret1", FullName: "A"}

	_, err := f.svc.Signup(context.Background(), req)
	require.NoError(t, err)
	_, err = f.svc.Signup(context.Background(), req)
	assert.True(t, errors.Is(err, ErrEmailInUse))
}

func TestSignupRollsBackIdentityWhenAccountWriteFails(t *testing.T) {
	f := newAccountFixture(t)
	f.accounts.failOn("Create", errBoom)

	_, err := f.svc.Signup(context.Background(), models.SignupRequest{Email: "a@example.com", Password: "secret1", FullName: "A"})
	require.Error(t, err)
	assert.Equal(t, []string{"uid_1"}, f.identity.deleted)
	assert.Empty(t, f.identity.users)
}

func TestGetAccountAppliesTrialExpiry(t *testing.T) {
	lf := newLifecycleFixture(t, &models.Account{ID: "acc1", Status: models.StatusTrial, TrialEnd: at(testNow.Add(-time.Second))})
	svc := NewAccountService(&fakeIdentity{}, lf.svc, testLifecycleConfig(), nil, nil)

	account, err := svc.GetAccount(context.Background(), "acc1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, account.Status)
}
