package httpx

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// NewValidator returns a validator that understands decimal.Decimal fields and
// reports JSON field names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("decimals", maxDecimals)
	return v
}

// maxDecimals backs the `decimals=N` tag: the number may carry at most N
// fractional digits. Decimal fields arrive here as float64 through the
// custom type func, so the shortest float representation is inspected.
func maxDecimals(fl validator.FieldLevel) bool {
	places, err := strconv.ParseInt(fl.Param(), 10, 32)
	if err != nil {
		return false
	}
	var d decimal.Decimal
	switch field := fl.Field(); field.Kind() {
	case reflect.Float32, reflect.Float64:
		d = decimal.NewFromFloat(field.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	case reflect.String:
		d, err = decimal.NewFromString(field.String())
		if err != nil {
			return false
		}
	default:
		return false
	}
	return d.Equal(d.Truncate(int32(places)))
}

// DecodeAndValidate decodes the JSON body into target and validates it. It
// writes the problem response itself and returns false on failure.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, target any) bool {
	if err := DecodeJSON(r, target); err != nil {
		RespondError(w, err)
		return false
	}
	if err := v.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields[fe.Field()] = fe.Tag()
			}
			ValidationProblem(w, fields)
			return false
		}
		RespondError(w, err)
		return false
	}
	return true
}
