// Package validate checks credential input shape, password policy and directory uniqueness.
package validate

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/model"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Password policy bounds, in runes.
const (
	PasswordMin    = 8
	PasswordMax    = 128
	DisplayNameMax = 64
)

// Field reasons produced outside ozzo rules.
const (
	ReasonTaken     = "already taken"
	ReasonAdminRole = "cannot be self-assigned"
	ReasonWeak      = "must contain at least one letter and one digit"
)

var usernameRE = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// RegisterInput is the registration payload.
type RegisterInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	UserType    string `json:"userType"`
}

// Normalize trims whitespace and lower-cases the email.
func (in RegisterInput) Normalize() RegisterInput {
	in.Email = NormalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.UserType = strings.ToLower(strings.TrimSpace(in.UserType))
	return in
}

// LoginInput is the login payload.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// NormalizeEmail is the canonical directory form of an email.
func NormalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Result is a field -> reason map. An empty map means the input is acceptable.
type Result struct {
	Fields map[string]string
}

// OK reports whether no field failed.
func (r Result) OK() bool { return len(r.Fields) == 0 }

// Err converts a failed result into a KindValidation error; nil when OK.
func (r Result) Err(op string) error {
	if r.OK() {
		return nil
	}
	return errs.Validation(op, r.Fields)
}

func (r *Result) add(field, reason string) {
	if r.Fields == nil {
		r.Fields = map[string]string{}
	}
	if _, ok := r.Fields[field]; !ok {
		r.Fields[field] = reason
	}
}

// Directory answers uniqueness questions.
type Directory interface {
	EmailExists(ctx context.Context, email string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
}

// Validator runs the registration and login checks.
type Validator struct {
	dir Directory
}

// New returns a Validator backed by dir.
func New(dir Directory) *Validator { return &Validator{dir: dir} }

// Register validates a normalized registration payload. Expected failures are
// returned in Result; the error is only set when the directory could not answer.
func (v *Validator) Register(ctx context.Context, in RegisterInput) (Result, error) {
	const op = "validate.Register"
	res := RegisterShape(in)

	if _, bad := res.Fields["email"]; !bad {
		taken, err := v.dir.EmailExists(ctx, in.Email)
		if err != nil {
			return Result{}, errs.E(errs.KindDirectory, op, err)
		}
		if taken {
			res.add("email", ReasonTaken)
		}
	}
	if _, bad := res.Fields["username"]; !bad && in.Username != "" {
		taken, err := v.dir.UsernameExists(ctx, in.Username)
		if err != nil {
			return Result{}, errs.E(errs.KindDirectory, op, err)
		}
		if taken {
			res.add("username", ReasonTaken)
		}
	}
	return res, nil
}

// RegisterShape runs the registration checks that need no directory.
func RegisterShape(in RegisterInput) Result {
	var res Result
	collect(&res, validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, validation.RuneLength(3, 254), is.Email),
		validation.Field(&in.Password, validation.Required, validation.RuneLength(PasswordMin, PasswordMax), validation.By(passwordComplexity)),
		validation.Field(&in.Username, validation.Match(usernameRE)),
		validation.Field(&in.DisplayName, validation.RuneLength(0, DisplayNameMax)),
		validation.Field(&in.UserType, validation.By(notAdmin), validation.In(model.RolePlayer, model.RoleDeveloper)),
	))
	return res
}

// Login checks that both credentials are present and the email is well formed.
// The registration password policy is not applied here.
func Login(in LoginInput) Result {
	var res Result
	collect(&res, validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, validation.Required),
	))
	return res
}

func collect(res *Result, err error) {
	if err == nil {
		return
	}
	var fields validation.Errors
	if errors.As(err, &fields) {
		for name, ferr := range fields {
			res.add(name, ferr.Error())
		}
		return
	}
	res.add("_", err.Error())
}

func passwordComplexity(value interface{}) error {
	s, _ := value.(string)
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return errors.New(ReasonWeak)
	}
	return nil
}

func notAdmin(value interface{}) error {
	if s, _ := value.(string); s == model.RoleAdmin {
		return errors.New(ReasonAdminRole)
	}
	return nil
}
