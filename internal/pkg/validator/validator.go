package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tokenbridge/settlement-api/internal/pkg/money"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func oneOf(values ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		for _, allowed := range values {
			if v == allowed {
				return true
			}
		}
		return false
	}
}

func registerCustomValidations() {
	validate.RegisterValidation("token_type", oneOf("NT", "CT", "USDT"))
	validate.RegisterValidation("mintable_token", oneOf("NT", "CT"))
	validate.RegisterValidation("receive_method", oneOf("bank_transfer", "mobile_money"))
	validate.RegisterValidation("dispute_action", oneOf("refund", "complete", "penalize_agent", "split"))

	// Positive decimal amount; decimals arrive as strings in JSON.
	validate.RegisterValidation("decimal_positive", func(fl validator.FieldLevel) bool {
		d, ok := money.Parse(fl.Field().String())
		return ok && d.IsPositive()
	})
	validate.RegisterValidation("decimal_nonnegative", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		d, ok := money.Parse(s)
		return ok && !d.IsNegative()
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range verrs {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "required_if":
			errors[field] = "This field is required for the selected option"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gt", "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "url":
			errors[field] = "Invalid URL format"
		case "uuid":
			errors[field] = "Invalid identifier"
		case "token_type":
			errors[field] = "Invalid token type. Must be: NT, CT, or USDT"
		case "mintable_token":
			errors[field] = "Invalid token type. Must be: NT or CT"
		case "receive_method":
			errors[field] = "Invalid receive method. Must be: bank_transfer or mobile_money"
		case "dispute_action":
			errors[field] = "Invalid action. Must be: refund, complete, penalize_agent, or split"
		case "decimal_positive":
			errors[field] = "Must be a decimal amount greater than zero with at most 18 decimal places"
		case "decimal_nonnegative":
			errors[field] = "Must be a decimal amount of zero or more with at most 18 decimal places"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}
