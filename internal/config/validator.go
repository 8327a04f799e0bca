package config

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/alexisbeaulieu97/pipewright/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	refIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// Validator returns the shared validator instance. Besides the built-in tags
// it understands duration, timezone and ref_id, and reports fields by their
// yaml names.
func Validator() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})

		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			d, err := time.ParseDuration(fl.Field().String())
			return err == nil && d >= 0
		})

		_ = v.RegisterValidation("timezone", func(fl validator.FieldLevel) bool {
			_, err := time.LoadLocation(fl.Field().String())
			return err == nil
		})

		_ = v.RegisterValidation("ref_id", func(fl validator.FieldLevel) bool {
			return refIDPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// ValidateConfig performs schema validation on the configuration.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return apperrors.NewValidationError("config", "configuration is nil", nil)
	}
	if err := Validator().Struct(cfg); err != nil {
		return ConvertValidationError(err)
	}
	if cfg.Redis.Previous != nil && cfg.Redis.Previous.Address == cfg.Redis.Primary.Address && cfg.Redis.Previous.DB == cfg.Redis.Primary.DB {
		return apperrors.NewValidationError("redis.previous", "previous store must differ from the primary store", nil)
	}
	return nil
}

// ConvertValidationError normalizes validator errors into validation errors
// naming the first offending field.
func ConvertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return apperrors.NewValidationError(field, msg, err)
	}

	return apperrors.NewValidationError("config", err.Error(), err)
}

// yamlishFieldName drops the root struct name from the namespace.
func yamlishFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.Join(parts, ".")
}
