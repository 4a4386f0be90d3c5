package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCode_WrappedError(t *testing.T) {
	base := InsufficientFunds("owner_earnings", "42", "10", "30")
	wrapped := fmt.Errorf("settle claim: %w", base)

	assert.Equal(t, ErrCodeInsufficientFunds, GetCode(wrapped))
	assert.True(t, Is(wrapped, ErrCodeInsufficientFunds))
	assert.True(t, IsCoded(wrapped))
}

func TestGetCode_PlainErrors(t *testing.T) {
	assert.Equal(t, ErrCodeOK, GetCode(nil))
	assert.Equal(t, ErrCodeInternal, GetCode(stderrors.New("boom")))
	assert.False(t, Is(nil, ErrCodeInternal))
	assert.False(t, IsCoded(stderrors.New("boom")))
}

func TestCodedError_Unwrap(t *testing.T) {
	cause := stderrors.New("getMe: 401 Unauthorized")
	err := CredentialInvalid(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "401")
}

func TestCodedError_HTTPStatus(t *testing.T) {
	tests := []struct {
		err    *CodedError
		status int
	}{
		{Validation("missing text"), http.StatusBadRequest},
		{InvalidAmount("abc"), http.StatusBadRequest},
		{ClaimNotFound(7), http.StatusNotFound},
		{TenantNotFound(7), http.StatusNotFound},
		{ClaimAlreadySettled(7, "approved"), http.StatusConflict},
		{InsufficientFunds("member_wallet", "1:2", "25", "40"), http.StatusConflict},
		{PermissionDenied("owner only"), http.StatusForbidden},
		{CredentialInvalid(nil), http.StatusUnprocessableEntity},
		{Unavailable("db down", nil), http.StatusServiceUnavailable},
		{Internal("oops", nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code.String(), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
		})
	}
}

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "CLAIM_ALREADY_SETTLED", ErrCodeClaimAlreadySettled.String())
	assert.Equal(t, "CODE_4242", ErrorCode(4242).String())
}
