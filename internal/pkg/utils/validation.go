package utils

import (
	"strings"

	"ipms-mediator/internal/pkg/hl7"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("hl7", validateHL7)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func validateHL7(fl validator.FieldLevel) bool {
	message := strings.TrimSpace(fl.Field().String())
	return strings.HasPrefix(message, hl7.SegmentMSH)
}
