package utils

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidEmail reports whether s is a syntactically valid email address.
func ValidEmail(s string) bool {
	return validate.Var(s, "required,email") == nil
}
