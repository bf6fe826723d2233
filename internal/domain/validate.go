package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// planValidate validates caller-supplied plan parameters.
var planValidate *validator.Validate

func init() {
	planValidate = validator.New()
	_ = planValidate.RegisterValidation("nonzeroaddr", validateNonZeroAddress)
}

// validateNonZeroAddress rejects the zero address.
func validateNonZeroAddress(fl validator.FieldLevel) bool {
	addr, ok := fl.Field().Interface().(common.Address)
	return ok && addr != (common.Address{})
}

// Validate checks the static shape of the parameters. Checks that depend on
// the clock or on configured limits are left to the caller.
// Errors wrap ErrInvalidInput.
func (p CreateParams) Validate() error {
	err := planValidate.Struct(p)
	if err == nil {
		if p.AmountPerInterval.Sign() <= 0 {
			return fmt.Errorf("%w: amount per interval must be positive", ErrInvalidInput)
		}
		if p.TotalAmount.Sign() <= 0 {
			return fmt.Errorf("%w: total amount must be positive", ErrInvalidInput)
		}
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, ", "))
}
