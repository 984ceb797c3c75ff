package errs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevilshah235/claimledger-sub000/internal/errs"
)

func TestError_UnwrapReturnsWrappedErr(t *testing.T) {
	cause := errors.New("boom")
	err := errs.StorageFailure("commit claim outcome", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "StorageFailure")
	assert.Contains(t, err.Error(), "commit claim outcome")
	assert.Contains(t, err.Error(), "boom")
}

func TestError_ErrorStringOmitsNilCause(t *testing.T) {
	err := errs.Precondition("evaluate", nil)
	assert.Equal(t, "PreconditionFailed: evaluate", err.Error())
}

func TestIs_MatchesOnlyTheDeclaredClass(t *testing.T) {
	err := errs.ChainTransient("isSettled", errors.New("timeout"))

	assert.True(t, errs.Is(err, errs.ClassChainTransient))
	assert.False(t, errs.Is(err, errs.ClassChainPermanent))
	assert.False(t, errs.Is(errors.New("plain"), errs.ClassChainTransient))
}

func TestClassConstructors_SetExpectedClass(t *testing.T) {
	cases := map[errs.Class]*errs.Error{
		errs.ClassPrecondition:    errs.Precondition("op", nil),
		errs.ClassStorageFailure:  errs.StorageFailure("op", nil),
		errs.ClassStageTransient:  errs.StageTransient("op", nil),
		errs.ClassStageFatal:      errs.StageFatal("op", nil),
		errs.ClassChainTransient:  errs.ChainTransient("op", nil),
		errs.ClassChainPermanent:  errs.ChainPermanent("op", nil),
		errs.ClassPaymentRequired: errs.PaymentRequired("op", nil),
		errs.ClassCancelled:       errs.Cancelled("op", nil),
	}
	for want, got := range cases {
		require.Equal(t, want, got.Class)
	}
}
