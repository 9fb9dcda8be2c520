// Package command contains write operations (CQRS - Commands).
package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// MinReasonLength is the shortest accepted correction reason, in characters.
const MinReasonLength = 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("rollno", func(fl validator.FieldLevel) bool {
		_, err := shared.NewRollNo(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("branch", func(fl validator.FieldLevel) bool {
		_, err := shared.NewBranch(fl.Field().String())
		return err == nil
	})
	return v
}

// validateStruct runs struct-tag validation and folds field errors into a
// single validation DomainError.
func validateStruct(op string, v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return shared.WrapError("ledger", op, shared.ErrValidation, "invalid command", err)
	}

	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fmt.Sprintf("%s:%s", fe.Field(), fe.Tag()))
	}
	sort.Strings(fields)
	return shared.NewDomainError("ledger", op, shared.ErrValidation,
		"invalid fields: "+strings.Join(fields, ", "))
}

// validateCorrection enforces the typed reason and authorizer errors
// before any generic field validation.
func validateCorrection(reason, authorizedBy string) error {
	if utf8.RuneCountInString(strings.TrimSpace(reason)) < MinReasonLength {
		return shared.Detail(shared.ErrReasonTooShort, "minimum %d characters", MinReasonLength)
	}
	if strings.TrimSpace(authorizedBy) == "" {
		return shared.ErrMissingAuthorizer
	}
	return nil
}
