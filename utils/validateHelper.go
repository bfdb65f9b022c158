package utils

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// ChaveLength is the fixed length of an NF-e access key.
const ChaveLength = 44

// IsValidChave reports whether s is a well-formed NF-e access key:
// exactly 44 numeric digits. Anything else is an ingestion bug upstream.
func IsValidChave(s string) bool {
	if len(s) != ChaveLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IsValidCNPJ validates a 14-digit CNPJ including both check digits.
func IsValidCNPJ(s string) bool {
	if len(s) != 14 {
		return false
	}
	digits := make([]int, 14)
	allSame := true
	for i := 0; i < 14; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
		digits[i] = int(s[i] - '0')
		if digits[i] != digits[0] {
			allSame = false
		}
	}
	if allSame {
		return false
	}

	if cnpjCheckDigit(digits[:12]) != digits[12] {
		return false
	}
	return cnpjCheckDigit(digits[:13]) == digits[13]
}

func cnpjCheckDigit(digits []int) int {
	// Weights cycle 2..9 from the rightmost digit leftwards.
	weight := 2
	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		sum += digits[i] * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	rest := sum % 11
	if rest < 2 {
		return 0
	}
	return 11 - rest
}

// RegisterBindingValidators installs the custom `chave` and `cnpj` validators
// on gin's binding engine. Call once at startup.
func RegisterBindingValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("chave", func(fl validator.FieldLevel) bool {
		return IsValidChave(fl.Field().String())
	})
	_ = v.RegisterValidation("cnpj", func(fl validator.FieldLevel) bool {
		return IsValidCNPJ(fl.Field().String())
	})
}
