package project

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

type CreateRequest struct {
	Name              string   `json:"name" validate:"required,min=1,max=64"`
	ProjectAdminEmail string   `json:"project_admin_email" validate:"required,email"`
	Plugins           []string `json:"plugins" validate:"omitempty,unique,dive,required"`
	Invitees          []string `json:"invitees" validate:"omitempty,dive,email"`
}

// Validate reports every violated constraint in one ErrInvalidRequest.
func (r *CreateRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	err := requestValidator.Struct(r)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ErrInvalidRequest.Err(err)
	}
	var causes []error
	for _, e := range verrs {
		causes = append(causes, fmt.Errorf("%s: %s", jsonName(e.Field()), describe(e)))
	}
	return ErrInvalidRequest.Err(causes...)
}

func jsonName(field string) string {
	switch field {
	case "ProjectAdminEmail":
		return "project_admin_email"
	default:
		return strings.ToLower(field)
	}
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return fmt.Sprintf("%q is not a valid email", e.Value())
	case "unique":
		return "must not contain duplicates"
	case "min", "max":
		return fmt.Sprintf("length must satisfy %s=%s", e.Tag(), e.Param())
	default:
		return fmt.Sprintf("failed %s validation", e.Tag())
	}
}
