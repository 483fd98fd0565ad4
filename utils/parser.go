package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vitwit/chainpay/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	_ = validate.RegisterValidation("positive", validatePositive)
}

// decimalValue lets struct tags see a decimal.Decimal as its string form, so
// "required" fails on the zero value.
func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		if d.IsZero() {
			return ""
		}
		return d.String()
	}
	return nil
}

func validatePositive(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	return err == nil && d.IsPositive()
}

// ValidateStruct runs struct-tag validation and reports failures as
// INVALID_REQUEST errors naming the offending fields. The error data maps
// each field to the failed rule.
func ValidateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			rules := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
				rules[fe.Field()] = fe.Tag()
			}
			return types.Errorf(types.ErrInvalidRequest, "validation failed: %s", strings.Join(fields, ", ")).
				WithData(rules)
		}
		return types.WrapError(types.ErrInvalidRequest, "validation failed", err)
	}
	return nil
}

// ParseRequest decodes JSON into T and validates it.
func ParseRequest[T any](data []byte) (*T, error) {
	var req T

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, types.Errorf(types.ErrInvalidRequest, "failed to parse request: %v", err)
	}

	if err := ValidateStruct(&req); err != nil {
		return nil, err
	}

	return &req, nil
}

// ParseCreateInvoiceRequest parses and validates an invoice creation request
func ParseCreateInvoiceRequest(data []byte) (*types.CreateInvoiceRequest, error) {
	req, err := ParseRequest[types.CreateInvoiceRequest](data)
	if err != nil {
		return nil, err
	}
	if !req.USDValue.IsPositive() {
		return nil, types.NewError(types.ErrInvalidRequest, "usd_value must be positive")
	}
	req.AssetSymbol = strings.ToUpper(strings.TrimSpace(req.AssetSymbol))
	return req, nil
}
