package service

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
)

var credentialTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)

// registerLifecycleValidations installs the custom tags used by sync and callback payloads.
// Credential types are an open set, so only their shape is checked.
func registerLifecycleValidations(v *validator.Validate) {
	_ = v.RegisterValidation("credential_type", func(fl validator.FieldLevel) bool {
		return credentialTypePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("stage", func(fl validator.FieldLevel) bool {
		return models.WorkflowStage(fl.Field().String()).Valid()
	})
}
