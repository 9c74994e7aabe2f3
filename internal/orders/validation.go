package orders

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// normalizeHeader trims every text field so whitespace-only values count as missing.
func normalizeHeader(in HeaderInput) HeaderInput {
	fields := []*string{
		&in.FirmName, &in.PartyPONumber, &in.PartyPODate, &in.PartyName, &in.GSTNumber,
		&in.Address, &in.CustomerCategory, &in.PIType, &in.TransportType, &in.ContactPerson,
		&in.ContactPhone, &in.ContactEmail, &in.PaymentTerms, &in.RetentionTerms,
		&in.SalesPerson, &in.AgentName, &in.Remarks,
	}
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
	return in
}

// validateStruct runs tag validation and renders one message per failed field.
func validateStruct(v *validator.Validate, s any) []string {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fieldMessage(fe))
	}
	return problems
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "datetime":
		return fmt.Sprintf("%s must be a date in YYYY-MM-DD form", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// completeProducts keeps only lines with a product name, a positive
// quantity and a non-negative rate. Everything else is dropped silently.
func completeProducts(in []ProductInput) []ProductInput {
	out := make([]ProductInput, 0, len(in))
	for _, p := range in {
		p.ProductName = strings.TrimSpace(p.ProductName)
		p.UOM = strings.TrimSpace(p.UOM)
		if p.ProductName == "" || p.Quantity == nil || p.Rate == nil {
			continue
		}
		if !p.Quantity.IsPositive() || p.Rate.IsNegative() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// lineValue is quantity times rate rounded to cents unless a value was supplied.
func lineValue(p ProductInput) decimal.Decimal {
	if p.Value != nil {
		return p.Value.Round(2)
	}
	return p.Quantity.Mul(*p.Rate).Round(2)
}

func parseDate(field, s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, newValidationError(fmt.Sprintf("%s must be a date in YYYY-MM-DD form", field))
	}
	return d, nil
}

func checkSlot(slot int) error {
	if slot < 1 || slot > MilestoneSlots {
		return newValidationError(fmt.Sprintf("milestone slot must be between 1 and %d", MilestoneSlots))
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
