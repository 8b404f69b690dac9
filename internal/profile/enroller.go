package profile

import (
	"context"
	"fmt"

	"github.com/eremconecta/portal/internal/model"
)

// SignUpper is the part of the authentication service used for registration.
type SignUpper interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.Principal, error)
}

// Enroller registers a principal and writes its profile in one step.
type Enroller struct {
	auth    SignUpper
	profile *Repository
}

func NewEnroller(auth SignUpper, profile *Repository) *Enroller {
	return &Enroller{auth: auth, profile: profile}
}

// SignUp validates req, registers the principal with the enrollment fields as metadata and,
// when the service returns a principal, upserts its profile row.
func (e *Enroller) SignUp(ctx context.Context, req model.SignUpRequest) (*model.Principal, error) {
	if err := model.Validate(req); err != nil {
		return nil, err
	}
	p, err := e.auth.SignUp(ctx, req.Email, req.Password, req.Metadata())
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	if err := e.profile.Enroll(ctx, p.ID, req.EnrollmentRequest); err != nil {
		return p, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}
