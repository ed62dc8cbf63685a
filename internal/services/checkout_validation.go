package services

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/platform/textutil"
)

const (
	// MaxCustomTextLength bounds the personalised text printed on a product.
	MaxCustomTextLength = 20

	defaultCaseType     = "CLASSIC"
	defaultFont         = "Pecita"
	defaultFontSize     = 24
	defaultCountry      = "United States"
	maxInstructionsSize = 500
)

var (
	customTextPattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-.!?&',]+$`)
	postalCodePattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

	// MinimumChargeAmount is the smallest total the payment provider accepts.
	MinimumChargeAmount = decimal.RequireFromString("0.50")
)

// FieldError describes a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation. It matches ErrCheckoutInvalidInput.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrCheckoutInvalidInput.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, field.Field+" "+field.Message)
	}
	return fmt.Sprintf("%s: %s", ErrCheckoutInvalidInput.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrCheckoutInvalidInput
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) errOrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// FieldErrors extracts field level details from a validation failure.
func FieldErrors(err error) []FieldError {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}

type checkoutCustomerInput struct {
	FirstName string `field:"firstName" validate:"required,min=2"`
	LastName  string `field:"lastName" validate:"required,min=2"`
	Email     string `field:"email" validate:"required,email"`
	Phone     string `field:"phone" validate:"required,min=10"`
}

type checkoutAddressInput struct {
	Street     string `field:"address" validate:"required,min=5"`
	City       string `field:"city" validate:"required,min=2"`
	Region     string `field:"state" validate:"required,len=2,alpha"`
	PostalCode string `field:"zipCode" validate:"required,zipcode"`
}

type checkoutItemInput struct {
	Device   string `field:"device" validate:"required"`
	CaseType string `field:"caseType" validate:"required"`
	Text     string `field:"text" validate:"required,customtextlen,customtext"`
	Color    string `field:"color" validate:"required"`
	FontSize int    `field:"fontSize" validate:"gte=8,lte=72"`
	Quantity int    `field:"quantity" validate:"gte=1,lte=100"`
}

type checkoutInput struct {
	Customer        checkoutCustomerInput `field:"customerInfo"`
	ShippingAddress checkoutAddressInput  `field:"shippingAddress"`
	BillingAddress  *checkoutAddressInput `field:"billingAddress" validate:"omitempty"`
	Items           []checkoutItemInput   `field:"items" validate:"required,min=1,dive"`
}

var (
	checkoutValidatorOnce sync.Once
	checkoutValidator     *validator.Validate
)

func getCheckoutValidator() *validator.Validate {
	checkoutValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.TrimSpace(field.Tag.Get("field"))
			if name == "" {
				return field.Name
			}
			return name
		})
		_ = v.RegisterValidation("zipcode", func(fl validator.FieldLevel) bool {
			return postalCodePattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("customtext", func(fl validator.FieldLevel) bool {
			return customTextPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("customtextlen", func(fl validator.FieldLevel) bool {
			n := textutil.RuneLength(fl.Field().String())
			return n >= 1 && n <= MaxCustomTextLength
		})
		checkoutValidator = v
	})
	return checkoutValidator
}

// preparedCheckout is a validated, normalised checkout submission.
type preparedCheckout struct {
	customer            Customer
	shipping            Address
	billing             *Address
	items               []LineItem
	specialInstructions string
}

// prepareCheckout validates the submission and returns server trusted line items.
func prepareCheckout(cmd CheckoutCommand, caseTypes []CaseType) (preparedCheckout, error) {
	prepared := preparedCheckout{
		customer: Customer{
			FirstName: textutil.SanitizePlainText(cmd.Customer.FirstName),
			LastName:  textutil.SanitizePlainText(cmd.Customer.LastName),
			Email:     strings.ToLower(strings.TrimSpace(cmd.Customer.Email)),
			Phone:     strings.TrimSpace(cmd.Customer.Phone),
		},
		shipping:            normalizeCheckoutAddress(cmd.ShippingAddress),
		specialInstructions: textutil.SanitizePlainText(cmd.SpecialInstructions),
	}
	if cmd.BillingAddress != nil {
		billing := normalizeCheckoutAddress(*cmd.BillingAddress)
		prepared.billing = &billing
	}

	input := checkoutInput{
		Customer: checkoutCustomerInput{
			FirstName: prepared.customer.FirstName,
			LastName:  prepared.customer.LastName,
			Email:     prepared.customer.Email,
			Phone:     prepared.customer.Phone,
		},
		ShippingAddress: addressInput(prepared.shipping),
		Items:           make([]checkoutItemInput, 0, len(cmd.Items)),
	}
	if prepared.billing != nil {
		billing := addressInput(*prepared.billing)
		input.BillingAddress = &billing
	}

	prepared.items = make([]LineItem, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		line := LineItem{
			Device:   strings.TrimSpace(item.Device),
			CaseType: strings.ToUpper(strings.TrimSpace(item.CaseType)),
			Customization: Customization{
				Text:     textutil.SanitizePlainText(item.Text),
				Color:    strings.TrimSpace(item.Color),
				Font:     strings.TrimSpace(item.Font),
				FontSize: item.FontSize,
				Logo:     item.Logo,
			},
			UnitPrice: item.Price,
			Quantity:  item.Quantity,
		}
		if line.CaseType == "" {
			line.CaseType = defaultCaseType
		}
		if line.Customization.Font == "" {
			line.Customization.Font = defaultFont
		}
		if line.Customization.FontSize == 0 {
			line.Customization.FontSize = defaultFontSize
		}
		prepared.items = append(prepared.items, line)
		input.Items = append(input.Items, checkoutItemInput{
			Device:   line.Device,
			CaseType: line.CaseType,
			Text:     line.Customization.Text,
			Color:    line.Customization.Color,
			FontSize: line.Customization.FontSize,
			Quantity: line.Quantity,
		})
	}

	verr := &ValidationError{}
	if err := getCheckoutValidator().Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return preparedCheckout{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		for _, fe := range fieldErrs {
			verr.add(fieldPath(fe.Namespace()), fieldMessage(fe))
		}
	}

	basePrices := make(map[string]decimal.Decimal, len(caseTypes))
	for _, ct := range caseTypes {
		basePrices[strings.ToUpper(ct.Code)] = ct.Price
	}
	for i, line := range prepared.items {
		path := fmt.Sprintf("items[%d]", i)
		if line.UnitPrice.IsNegative() {
			verr.add(path+".price", "must be at least 0")
			continue
		}
		base, ok := basePrices[line.CaseType]
		if !ok {
			verr.add(path+".caseType", "is not a known case type")
			continue
		}
		if line.UnitPrice.LessThan(base) {
			verr.add(path+".price", fmt.Sprintf("must be at least %s for %s", base.StringFixed(2), line.CaseType))
		}
		if !line.UnitPrice.Equal(line.UnitPrice.Round(2)) {
			verr.add(path+".price", "must not have more than 2 decimal places")
		}
	}
	if textutil.RuneLength(prepared.specialInstructions) > maxInstructionsSize {
		verr.add("specialInstructions", fmt.Sprintf("must be at most %d characters", maxInstructionsSize))
	}
	if cmd.ClientTotal != nil && cmd.ClientTotal.IsNegative() {
		verr.add("total", "must be at least 0")
	}

	if err := verr.errOrNil(); err != nil {
		return preparedCheckout{}, err
	}
	return prepared, nil
}

func normalizeCheckoutAddress(addr Address) Address {
	normalized := Address{
		Street:     textutil.SanitizePlainText(addr.Street),
		City:       textutil.SanitizePlainText(addr.City),
		Region:     domain.NormalizeRegion(addr.Region),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
	}
	if normalized.Country == "" {
		normalized.Country = defaultCountry
	}
	return normalized
}

func addressInput(addr Address) checkoutAddressInput {
	return checkoutAddressInput{
		Street:     addr.Street,
		City:       addr.City,
		Region:     addr.Region,
		PostalCode: addr.PostalCode,
	}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "alpha":
		return "must contain letters only"
	case "email":
		return "must be a valid email address"
	case "zipcode":
		return "must be a valid ZIP code"
	case "customtext":
		return "contains unsupported characters"
	case "customtextlen":
		return fmt.Sprintf("must be 1-%d characters", MaxCustomTextLength)
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return "is invalid"
	}
}

// validateCustomText applies the storefront rules for printable text.
func validateCustomText(text string) TextValidation {
	sanitized := textutil.SanitizePlainText(text)
	result := TextValidation{
		Sanitized: sanitized,
		Length:    textutil.RuneLength(sanitized),
		MaxLength: MaxCustomTextLength,
	}
	switch {
	case result.Length == 0:
		result.Errors = append(result.Errors, "Text is required")
	case result.Length > MaxCustomTextLength:
		result.Errors = append(result.Errors, fmt.Sprintf("Text must be 1-%d characters", MaxCustomTextLength))
	}
	if result.Length > 0 && !customTextPattern.MatchString(sanitized) {
		result.Errors = append(result.Errors, "Text contains unsupported characters")
	}
	result.Valid = len(result.Errors) == 0
	return result
}
