package library

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const dateLayout = "2006-01-02"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so field errors match request bodies.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// AuthorInput creates or replaces an Author or Translator.
type AuthorInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	DateOfBirth string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	DateOfDeath string `json:"date_of_death" validate:"omitempty,datetime=2006-01-02"`
}

// PublisherInput creates or replaces a Publisher.
type PublisherInput struct {
	Name string `json:"name" validate:"required,max=64"`
}

// BookInput creates or replaces a Book. A nil Available keeps the configured
// default on create and the stored value on update.
type BookInput struct {
	Title            string `json:"title" validate:"required,max=255"`
	AuthorID         *int64 `json:"author_id" validate:"omitempty,gt=0"`
	TranslatorID     *int64 `json:"translator_id" validate:"omitempty,gt=0"`
	PublisherID      *int64 `json:"publisher_id" validate:"omitempty,gt=0"`
	ISBN             string `json:"isbn" validate:"omitempty,isbn"`
	Year             int    `json:"year" validate:"required,gte=1"`
	ShortDescription string `json:"short_description" validate:"max=2000"`
	KeyWords         string `json:"key_words" validate:"max=2000"`
	Available        *bool  `json:"available"`
}

// RegisterInput creates an account.
type RegisterInput struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	FullName    string `json:"full_name" validate:"required,max=255"`
	DateOfBirth string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
}

// UserUpdateInput is a staff edit of an account. Nil fields are left alone.
type UserUpdateInput struct {
	Email       *string `json:"email" validate:"omitempty,email,max=255"`
	FullName    *string `json:"full_name" validate:"omitempty,min=1,max=255"`
	DateOfBirth *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Active      *bool   `json:"active"`
}

// checkStruct runs tag validation and converts failures into a KindValidation error.
func checkStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Kind: KindValidation, Message: "invalid input", Cause: err}
	}
	fields := make(map[string]string, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fieldMessage(fe)
		fields[fe.Field()] = msg
		msgs = append(msgs, fe.Field()+": "+msg)
	}
	return &Error{Kind: KindValidation, Message: strings.Join(msgs, "; "), Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "gte", "gt":
		return "is out of range"
	case "datetime":
		return "must be a date formatted YYYY-MM-DD"
	case "email":
		return "must be a valid e-mail address"
	case "isbn":
		return "must be a valid ISBN-10 or ISBN-13"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// parseDate parses an optional YYYY-MM-DD value; empty yields nil.
func parseDate(field, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, invalidField(field, "must be a date formatted YYYY-MM-DD")
	}
	return &t, nil
}

func today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// lifeDates validates a birth/death pair against the clock.
func lifeDates(in AuthorInput, now time.Time) (birth, death *time.Time, err error) {
	if birth, err = parseDate("date_of_birth", in.DateOfBirth); err != nil {
		return nil, nil, err
	}
	if death, err = parseDate("date_of_death", in.DateOfDeath); err != nil {
		return nil, nil, err
	}
	limit := today(now)
	if birth != nil && birth.After(limit) {
		return nil, nil, invalidField("date_of_birth", "cannot be in the future")
	}
	if death != nil && death.After(limit) {
		return nil, nil, invalidField("date_of_death", "cannot be in the future")
	}
	if birth != nil && death != nil && death.Before(*birth) {
		return nil, nil, invalidField("date_of_death", "cannot be before date of birth")
	}
	return birth, death, nil
}

func checkYear(year int, now time.Time) error {
	if year < 1 || year > now.Year() {
		return invalidField("year", fmt.Sprintf("must be between 1 and %d", now.Year()))
	}
	return nil
}

// cleanISBN strips separators so "978-0-306-40615-7" validates and stores as digits.
func cleanISBN(s string) string {
	return strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(s)))
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
