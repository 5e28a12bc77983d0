package auth

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// MinPasswordLength is the shortest password accepted before the provider
// is contacted.
const MinPasswordLength = 6

var validate = validator.New()

type signInForm struct {
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

type signUpForm struct {
	Email           string `validate:"required"`
	Password        string `validate:"required,min=6"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
}

func validateSignIn(email, password string) *ValidationError {
	return toValidationError(validate.Struct(signInForm{Email: email, Password: password}))
}

func validateSignUp(email, password, confirm string) *ValidationError {
	return toValidationError(validate.Struct(signUpForm{
		Email:           email,
		Password:        password,
		ConfirmPassword: confirm,
	}))
}

// toValidationError reports the first failure in the order a user fixes
// them: empty fields, then mismatch, then length.
func toValidationError(err error) *ValidationError {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Reason: ReasonEmpty}
	}

	tags := make(map[string]bool, len(verrs))
	for _, fe := range verrs {
		tags[fe.Tag()] = true
	}
	switch {
	case tags["required"]:
		return &ValidationError{Reason: ReasonEmpty}
	case tags["eqfield"]:
		return &ValidationError{Reason: ReasonMismatch}
	default:
		return &ValidationError{Reason: ReasonTooShort}
	}
}

func validationMessage(v *ValidationError) string {
	switch v.Reason {
	case ReasonMismatch:
		return "Passwords do not match"
	case ReasonTooShort:
		return "Password should be at least 6 characters"
	default:
		return "Please fill all the Fields"
	}
}
