// Package validation holds the pure request predicates run before any network call.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"trip-planner/internal/shared/errors"
	"trip-planner/internal/tripplanner/domain/model"
)

const (
	msgEmptyString = "Empty string"
	msgInvalidUser = "Invalid User Info"
	msgInvalidTrip = "Invalid Trip"
)

var (
	numberPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
	// Only a prefix has to match, trailing text after the TLD is accepted.
	emailPattern = regexp.MustCompile(`(?i)^[A-Z0-9a-z._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,4}`)
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
		_ = validate.RegisterValidation("email_shape", func(fl validator.FieldLevel) bool {
			return IsEmail(fl.Field().String())
		})
		validate.RegisterStructValidation(tripStructLevel, model.Trip{})
	})
	return validate
}

func tripStructLevel(sl validator.StructLevel) {
	trip := sl.Current().Interface().(model.Trip)
	if !trip.HasDestination() {
		sl.ReportError(trip.DestinationName, "DestinationName", "destinationName", "required", "")
	}
	if trip.StartDate.After(trip.EndDate) {
		sl.ReportError(trip.StartDate, "StartDate", "startDate", "ltefield", "EndDate")
	}
}

// IsNumber reports whether s reads as a decimal number
func IsNumber(s string) bool {
	return numberPattern.MatchString(s)
}

// IsEmail applies the address shape check to the trimmed input
func IsEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// ValidateID accepts any non-empty id, except numeric ids that are not positive
func ValidateID(id string) error {
	if id == "" {
		return errors.NewValidationError(msgEmptyString)
	}
	if IsNumber(id) {
		n, err := strconv.ParseFloat(id, 64)
		if err != nil || !(n > 0) {
			return errors.NewValidationError(fmt.Sprintf("Incorrect number: %s", id))
		}
	}
	return nil
}

// ValidateIDs returns the first failing id's error
func ValidateIDs(ids ...string) error {
	for _, id := range ids {
		if err := ValidateID(id); err != nil {
			return err
		}
	}
	return nil
}

// ValidateUser requires a non-blank name and a plausible email
func ValidateUser(u *model.User) error {
	if u == nil {
		return errors.NewValidationError(msgInvalidUser)
	}
	if err := structValidator().Struct(u); err != nil {
		return errors.NewValidationError(msgInvalidUser).WithDetail("fields", fieldNames(err))
	}
	return nil
}

// ValidateTrip requires a destination and a start date not after the end date
func ValidateTrip(t *model.Trip) error {
	if t == nil {
		return errors.NewValidationError(msgInvalidTrip)
	}
	if err := structValidator().Struct(t); err != nil {
		return errors.NewValidationError(msgInvalidTrip).WithDetail("fields", fieldNames(err))
	}
	return nil
}

func fieldNames(err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, fe.Field())
	}
	return names
}
