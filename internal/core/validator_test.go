package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydromate/internal/types"
)

type completeRequest struct {
	OpenID string `json:"openid" validate:"required"`
	TaskID string `json:"taskId"`
}

type loginRequest struct {
	Code     string `json:"code" validate:"required"`
	Nickname string `json:"nickname"`
}

func validationCode(t *testing.T, err error) types.ErrorCode {
	t.Helper()
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

func TestValidateStructPasses(t *testing.T) {
	v := NewValidator(nil)
	assert.NoError(t, v.ValidateStruct(completeRequest{OpenID: "oABC"}))
}

func TestValidateStructMissingOpenID(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(completeRequest{})
	assert.Equal(t, types.ErrCodeValidationMissingOpenID, validationCode(t, err))
	assert.Contains(t, err.Error(), "openid is required")
}

func TestValidateStructMissingCode(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(loginRequest{Nickname: "user"})
	assert.Equal(t, types.ErrCodeValidationMissingCode, validationCode(t, err))
}

func TestValidateStructMissingTaskID(t *testing.T) {
	v := NewValidator(nil)

	type cancelRequest struct {
		OpenID string `json:"openid" validate:"required"`
		TaskID string `json:"taskId" validate:"required"`
	}

	err := v.ValidateStruct(cancelRequest{OpenID: "oABC"})
	assert.Equal(t, types.ErrCodeValidationMissingTaskID, validationCode(t, err))
}

func TestValidateStructGenericField(t *testing.T) {
	v := NewValidator(nil)

	type req struct {
		Amount int `json:"amount" validate:"required"`
	}

	err := v.ValidateStruct(req{})
	assert.Equal(t, types.ErrCodeValidationMissingField, validationCode(t, err))
}

func TestValidateStructNonStruct(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(42)
	assert.Equal(t, types.ErrCodeInternalUnexpected, validationCode(t, err))
}
