package middleware

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	brvalidator "github.com/jwalitptl/hospital-api/pkg/validator"
)

var customValidators = map[string]func(string) bool{
	"cpf":      brvalidator.CPF,
	"br_phone": brvalidator.Phone,
	"br_zip":   brvalidator.Zip,
	"uf":       brvalidator.UF,
}

// RegisterValidators installs the Brazilian document checks on gin's binding
// engine and reports field errors by their JSON names.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding engine %T", binding.Validator.Engine())
	}
	return registerValidators(v)
}

func registerValidators(v *validator.Validate) error {
	for tag, check := range customValidators {
		check := check
		err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return check(fl.Field().String())
		})
		if err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return nil
}
