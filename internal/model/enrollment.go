package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is safe for concurrent use and caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// EnrollmentRequest is the enrollment step completed after sign-up.
type EnrollmentRequest struct {
	Name       string      `json:"name" validate:"required"`
	Role       Role        `json:"user_type" validate:"required,oneof=student teacher admin"`
	Deficiency *Deficiency `json:"deficiencia" validate:"omitempty,oneof=Visual Auditiva"`
	SchoolID   string      `json:"escola_id" validate:"required"`
	ClassID    string      `json:"turma_id" validate:"required"`
	Shift      string      `json:"turno,omitempty"`
}

// Metadata returns the principal metadata stored alongside a sign-up.
func (r EnrollmentRequest) Metadata() map[string]any {
	md := map[string]any{
		"name":      r.Name,
		"user_type": string(r.Role),
		"escola_id": r.SchoolID,
		"turma_id":  r.ClassID,
		"turno":     r.Shift,
	}
	if r.Deficiency != nil {
		md["deficiencia"] = string(*r.Deficiency)
	} else {
		md["deficiencia"] = nil
	}
	return md
}

// Row returns the profiles row written by the enrollment step.
func (r EnrollmentRequest) Row(principalID string) map[string]any {
	row := r.Metadata()
	row["id"] = principalID
	if r.Shift == "" {
		delete(row, "turno")
	}
	return row
}

// SignUpRequest is the sign-up form: credentials plus enrollment.
type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	EnrollmentRequest
}

// ProfilePatch is a partial profile update. Nil fields are left untouched.
type ProfilePatch struct {
	Name       *string     `json:"name,omitempty" validate:"omitempty,min=1"`
	Role       *Role       `json:"user_type,omitempty" validate:"omitempty,oneof=student teacher admin"`
	AvatarURL  *string     `json:"avatar_url,omitempty" validate:"omitempty,url"`
	Deficiency *Deficiency `json:"deficiencia,omitempty" validate:"omitempty,oneof=Visual Auditiva"`
	SchoolID   *string     `json:"escola_id,omitempty"`
	ClassID    *string     `json:"turma_id,omitempty"`
}

// Fields returns the columns set by the patch. Empty school or class ids clear the reference.
func (p ProfilePatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.Name != nil {
		fields["name"] = *p.Name
	}
	if p.Role != nil {
		fields["user_type"] = string(*p.Role)
	}
	if p.AvatarURL != nil {
		fields["avatar_url"] = *p.AvatarURL
	}
	if p.Deficiency != nil {
		fields["deficiencia"] = string(*p.Deficiency)
	}
	if p.SchoolID != nil {
		fields["escola_id"] = nullable(*p.SchoolID)
	}
	if p.ClassID != nil {
		fields["turma_id"] = nullable(*p.ClassID)
	}
	return fields
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid fields: %s", strings.Join(e.Fields, ", "))
}

// Validate checks v against its validate tags.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, fe.Field())
	}
	return out
}
