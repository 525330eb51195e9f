package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newMockStoreClient(repo *MockRepository, opts ...StoreClientOption) *StoreClient {
	opts = append([]StoreClientOption{WithStoreClock(func() time.Time { return fixedNow })}, opts...)
	return NewStoreClient(repo, opts...)
}

func TestStoreClient_DeactivateWithoutActiveRecord(t *testing.T) {
	repo := new(MockRepository)
	client := newMockStoreClient(repo)
	user := userIdentity()
	repo.On("DeactivateByUser", mock.Anything, user.UserID, fixedNow).Return(int64(0), nil)

	n, err := client.Deactivate(context.Background(), user, user.UserID)

	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	repo.AssertExpectations(t)
}

func TestStoreClient_DeactivatePermissions(t *testing.T) {
	repo := new(MockRepository)
	client := newMockStoreClient(repo)
	user := userIdentity()
	other := uuid.New()

	_, err := client.Deactivate(context.Background(), user, other)
	assert.ErrorIs(t, err, entitlement.ErrPermission)

	admin := adminIdentity()
	repo.On("DeactivateByUser", mock.Anything, other, fixedNow).Return(int64(2), nil)
	n, err := client.Deactivate(context.Background(), admin, other)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	repo.AssertExpectations(t)
}

func TestStoreClient_CreateValidation(t *testing.T) {
	repo := new(MockRepository)
	client := newMockStoreClient(repo)
	admin := adminIdentity()
	user := userIdentity()

	tests := []struct {
		name    string
		actor   entitlement.Identity
		input   CreateInput
		wantErr error
	}{
		{
			name:    "unknown plan",
			actor:   admin,
			input:   CreateInput{UserID: user.UserID, PlanType: "lifetime", ExpiresAt: fixedNow.Add(time.Hour), Method: entitlement.ActivationAdmin},
			wantErr: entitlement.ErrValidation,
		},
		{
			name:    "expiry in the past",
			actor:   admin,
			input:   CreateInput{UserID: user.UserID, PlanType: entitlement.PlanMonthly, ExpiresAt: fixedNow.Add(-time.Hour), Method: entitlement.ActivationAdmin},
			wantErr: entitlement.ErrValidation,
		},
		{
			name:    "user granting a paid plan",
			actor:   user,
			input:   CreateInput{UserID: user.UserID, PlanType: entitlement.PlanAnnual, ExpiresAt: fixedNow.Add(time.Hour), Method: entitlement.ActivationPayment},
			wantErr: entitlement.ErrPermission,
		},
		{
			name:    "admin creating a trial",
			actor:   admin,
			input:   CreateInput{UserID: user.UserID, PlanType: entitlement.PlanTrial, ExpiresAt: fixedNow.Add(time.Hour), Method: entitlement.ActivationTrial},
			wantErr: entitlement.ErrPermission,
		},
		{
			name:    "trial for someone else",
			actor:   user,
			input:   CreateInput{UserID: uuid.New(), PlanType: entitlement.PlanTrial, ExpiresAt: fixedNow.Add(time.Hour), Method: entitlement.ActivationTrial},
			wantErr: entitlement.ErrPermission,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Create(context.Background(), tt.actor, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Replace", mock.Anything, mock.Anything)
}

func TestStoreClient_CreateRoutesByPlan(t *testing.T) {
	repo := new(MockRepository)
	feed := &recordingFeed{}
	client := newMockStoreClient(repo, WithChangeNotifier(feed))

	user := userIdentity()
	repo.On("Create", mock.Anything, mock.MatchedBy(func(r *entitlement.Record) bool { return r.IsTrial() })).Return(nil).Once()
	repo.On("Replace", mock.Anything, mock.MatchedBy(func(r *entitlement.Record) bool { return r.PlanType == entitlement.PlanAnnual })).Return(nil).Once()

	trial, err := client.Create(context.Background(), user, CreateInput{
		UserID: user.UserID, PlanType: entitlement.PlanTrial, ExpiresAt: fixedNow.Add(time.Hour), Method: entitlement.ActivationTrial,
	})
	require.NoError(t, err)
	assert.Nil(t, trial.GrantedBy)

	admin := adminIdentity()
	grant, err := client.Create(context.Background(), admin, CreateInput{
		UserID: user.UserID, PlanType: entitlement.PlanAnnual, ExpiresAt: fixedNow.AddDate(1, 0, 0), Method: entitlement.ActivationAdmin,
	})
	require.NoError(t, err)
	require.NotNil(t, grant.GrantedBy)
	assert.Equal(t, admin.UserID, *grant.GrantedBy)

	assert.Equal(t, []entitlement.ChangeNotification{
		{UserID: user.UserID, Op: entitlement.OpInsert},
		{UserID: user.UserID, Op: entitlement.OpInsert},
	}, feed.published())
	repo.AssertExpectations(t)
}

func TestStoreClient_ErrorMapping(t *testing.T) {
	user := userIdentity()
	input := CreateInput{UserID: user.UserID, PlanType: entitlement.PlanTrial, ExpiresAt: fixedNow.Add(time.Hour), Method: entitlement.ActivationTrial}

	t.Run("driver errors become RemoteUnavailable", func(t *testing.T) {
		repo := new(MockRepository)
		client := newMockStoreClient(repo)
		repo.On("FindActiveByUser", mock.Anything, user.UserID).Return(nil, errors.New("pq: connection reset"))

		_, err := client.FetchActive(context.Background(), user.UserID)
		assert.ErrorIs(t, err, entitlement.ErrRemoteUnavailable)
	})

	t.Run("conflicts pass through", func(t *testing.T) {
		repo := new(MockRepository)
		client := newMockStoreClient(repo)
		repo.On("Create", mock.Anything, mock.Anything).Return(entitlement.ErrTrialAlreadyUsed)

		_, err := client.Create(context.Background(), user, input)
		assert.ErrorIs(t, err, entitlement.ErrTrialAlreadyUsed)
		assert.NotErrorIs(t, err, entitlement.ErrRemoteUnavailable)
	})

	t.Run("slow store times out", func(t *testing.T) {
		repo := new(MockRepository)
		client := newMockStoreClient(repo, WithStoreTimeout(10*time.Millisecond))
		repo.On("ExistsTrialForUser", mock.Anything, user.UserID).
			Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
			Return(false, context.DeadlineExceeded)

		_, err := client.HasTrialRecord(context.Background(), user.UserID)
		assert.ErrorIs(t, err, entitlement.ErrRemoteUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestStoreClient_ListAll(t *testing.T) {
	repo := new(MockRepository)
	client := newMockStoreClient(repo)

	_, _, err := client.ListAll(context.Background(), userIdentity(), shared.DefaultFilter())
	assert.ErrorIs(t, err, entitlement.ErrPermission)

	repo.On("FindAll", mock.Anything, shared.DefaultFilter()).Return([]entitlement.Record{{UserID: uuid.New()}}, int64(41), nil)
	records, total, err := client.ListAll(context.Background(), adminIdentity(), shared.DefaultFilter())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int64(41), total)
}
