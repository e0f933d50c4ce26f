package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/watchfix/api/internal/domain"
)

var phonePattern = regexp.MustCompile(`^\+91[6-9][0-9]{9}$`)

// PhonePattern reports whether phone is an Indian mobile number in +91XXXXXXXXXX form.
func PhonePattern(phone string) bool {
	return phonePattern.MatchString(phone)
}

// FieldError describes a single rejected field.
type FieldError struct {
	Field   string
	Message string
}

// Errors is returned by Struct when one or more fields fail validation.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Message)
	}
	return strings.Join(parts, "; ")
}

// Fields returns the offending field names in order.
func (e Errors) Fields() []string {
	out := make([]string, 0, len(e))
	for _, fe := range e {
		out = append(out, fe.Field)
	}
	return out
}

// Validator wraps a configured go-playground validator.
type Validator struct {
	validate *validator.Validate
}

// New builds a Validator with the domain tags registered:
// phone_in, item_category, media_type, request_status.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	mustRegister(v, "phone_in", func(fl validator.FieldLevel) bool {
		return PhonePattern(fl.Field().String())
	})
	mustRegister(v, "item_category", func(fl validator.FieldLevel) bool {
		return domain.ItemCategory(fl.Field().String()).Valid()
	})
	mustRegister(v, "media_type", func(fl validator.FieldLevel) bool {
		return domain.MediaType(fl.Field().String()).Valid()
	})
	mustRegister(v, "request_status", func(fl validator.FieldLevel) bool {
		_, ok := domain.ParseRequestStatus(fl.Field().String())
		return ok
	})
	return &Validator{validate: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("validation: register %s: %v", tag, err))
	}
}

// Struct validates s and returns Errors describing every failed field.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(Errors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, FieldError{Field: fieldPath(fe), Message: message(fe)})
	}
	return out
}

// fieldPath drops the top-level struct name from the namespace, e.g.
// createRequest.items[0].category becomes items[0].category.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s entries", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, strings.ToLower(fe.Param()))
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, fe.Param())
	case "numeric":
		return fmt.Sprintf("%s must contain only digits", field)
	case "phone_in":
		return fmt.Sprintf("%s must be in format +91XXXXXXXXXX", field)
	case "item_category":
		return fmt.Sprintf("%s must be one of: watch, clock, timepiece, smart_wearable, custom", field)
	case "media_type":
		return fmt.Sprintf("%s must be one of: image, video, voice", field)
	case "request_status":
		return fmt.Sprintf("%s is not a known status", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
