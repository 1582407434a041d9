package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrValidation              = errors.New("invalid input")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs the struct tags on v and folds failures into one
// ErrValidation error naming every offending field.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

func describeField(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "datetime":
		return fmt.Sprintf("%s must match %s", field, fe.Param())
	case "min", "max":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

func validateSchedule(s DoctorSchedule) error {
	if err := validateStruct(s); err != nil {
		return err
	}

	start, _ := time.Parse("15:04", s.StartTime)
	end, _ := time.Parse("15:04", s.EndTime)
	if !start.Before(end) {
		return fmt.Errorf("%w: start_time must be before end_time", ErrValidation)
	}

	seen := make(map[time.Weekday]bool, len(s.WorkingDays))
	for _, d := range s.WorkingDays {
		if seen[d] {
			return fmt.Errorf("%w: working day %s listed twice", ErrValidation, d)
		}
		seen[d] = true
	}

	for _, v := range s.Vacations {
		if v.To < v.From {
			return fmt.Errorf("%w: vacation %s..%s ends before it starts", ErrValidation, v.From, v.To)
		}
	}
	return nil
}
