package service

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	appErrors "github.com/noah-isme/olympiad-registration-bot/pkg/errors"
)

var (
	// Latin, Cyrillic and the Uzbek letters plus space, hyphen and apostrophes.
	personNamePattern = regexp.MustCompile(`^[a-zA-Zа-яА-ЯёЁўЎқҚғҒҳҲ\s\-'ʻʼ‘’]+$`)
	// ASCII dot-atom local part and a dotted host with a letter TLD.
	contactEmailShape = regexp.MustCompile(`^[A-Za-z0-9_%+\-]+(\.[A-Za-z0-9_%+\-]+)*@([A-Za-z0-9]([A-Za-z0-9\-]*[A-Za-z0-9])?\.)+[A-Za-z]{2,}$`)
	letterPattern     = regexp.MustCompile(`[a-zA-Zа-яА-ЯёЁўЎқҚғҒҳҲ]`)
)

const (
	tagPersonName   = "person_name"
	tagContactEmail = "contact_email"
	tagSchoolName   = "school_name"
)

// FieldValidator checks one conversation answer at a time and returns the
// normalised value to store.
type FieldValidator struct {
	validate *validator.Validate
	minGrade int
	maxGrade int
}

// Grade bounds used when none are configured.
const (
	DefaultMinGrade = 1
	DefaultMaxGrade = 8
)

// NewFieldValidator registers the conversation tags on validate. Zero bounds
// fall back to the default grade range.
func NewFieldValidator(validate *validator.Validate, minGrade, maxGrade int) *FieldValidator {
	if validate == nil {
		validate = validator.New()
	}
	if minGrade == 0 && maxGrade == 0 {
		minGrade, maxGrade = DefaultMinGrade, DefaultMaxGrade
	}
	_ = validate.RegisterValidation(tagPersonName, func(fl validator.FieldLevel) bool {
		return isPersonName(fl.Field().String())
	})
	_ = validate.RegisterValidation(tagContactEmail, func(fl validator.FieldLevel) bool {
		return contactEmailShape.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation(tagSchoolName, func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) >= 2
	})
	return &FieldValidator{validate: validate, minGrade: minGrade, maxGrade: maxGrade}
}

// GradeBounds returns the configured inclusive grade range.
func (v *FieldValidator) GradeBounds() (int, int) {
	return v.minGrade, v.maxGrade
}

// PersonName validates guardian and participant names.
func (v *FieldValidator) PersonName(raw string) (string, error) {
	value := collapseSpaces(norm.NFC.String(strings.TrimSpace(raw)))
	if err := v.validate.Var(value, "required,"+tagPersonName); err != nil {
		return "", invalidField("name", err)
	}
	return value, nil
}

// Email validates the contact email.
func (v *FieldValidator) Email(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if err := v.validate.Var(value, "required,email,"+tagContactEmail); err != nil {
		return "", invalidField("email", err)
	}
	return value, nil
}

// Grade parses and bounds-checks the participant grade.
func (v *FieldValidator) Grade(raw string) (int, error) {
	grade, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, invalidField("grade", err)
	}
	rule := "gte=" + strconv.Itoa(v.minGrade) + ",lte=" + strconv.Itoa(v.maxGrade)
	if err := v.validate.Var(grade, rule); err != nil {
		return 0, invalidField("grade", err)
	}
	return grade, nil
}

// School validates the school name.
func (v *FieldValidator) School(raw string) (string, error) {
	value := collapseSpaces(strings.TrimSpace(raw))
	if err := v.validate.Var(value, "required,"+tagSchoolName); err != nil {
		return "", invalidField("school", err)
	}
	return value, nil
}

func isPersonName(value string) bool {
	return utf8.RuneCountInString(value) >= 2 &&
		personNamePattern.MatchString(value) &&
		letterPattern.MatchString(value)
}

func collapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func invalidField(field string, err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid "+field)
}
