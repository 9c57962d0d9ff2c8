package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type registrationPayload struct {
	Username string `json:"username" validate:"notblank,max=100"`
	Email    string `json:"email" validate:"required,email,max=100"`
	Password string `json:"password" validate:"required,min=6"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := registrationPayload{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "hunter22",
	}

	require.NoError(t, ValidateStruct(payload))
}

func TestValidateStructFailures(t *testing.T) {
	payload := registrationPayload{
		Username: "   ",
		Email:    "invalid",
		Password: "123",
	}

	err := ValidateStruct(payload)
	require.Error(t, err)

	vErrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	require.Len(t, vErrs, 3)

	fields := map[string]string{}
	for _, v := range vErrs {
		fields[v.Field] = v.Tag
	}
	require.Equal(t, "notblank", fields["username"])
	require.Equal(t, "email", fields["email"])
	require.Equal(t, "min", fields["password"])
}

func TestFirstMessage(t *testing.T) {
	err := ValidateStruct(registrationPayload{Username: "bob", Email: "bob@example.com", Password: "12345"})
	require.Equal(t, "password must be at least 6 characters", FirstMessage(err))

	err = ValidateStruct(registrationPayload{Username: "", Email: "bob@example.com", Password: "123456"})
	require.Equal(t, "username is required", FirstMessage(err))

	require.Empty(t, FirstMessage(nil))
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("lowercase_only", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		for _, r := range value {
			if r >= 'A' && r <= 'Z' {
				return false
			}
		}
		return true
	})
	require.NoError(t, err)

	type custom struct {
		Value string `validate:"lowercase_only"`
	}

	require.NoError(t, ValidateStruct(custom{Value: "abc"}))
	require.Error(t, ValidateStruct(custom{Value: "aBc"}))
}
