package auth

import "unicode"

// PolicyViolation is one unmet password rule. Key is stable for clients,
// Message is shown to the user.
type PolicyViolation struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

const minPasswordLength = 8

// ValidatePassword checks the candidate against the shared strength rules
// and returns every violated rule, not just the first.
func ValidatePassword(password string) []PolicyViolation {
	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsNumber(r):
			hasNumber = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	var violations []PolicyViolation
	if len(password) < minPasswordLength {
		violations = append(violations, PolicyViolation{
			Key:     "length",
			Message: "Kata sandi minimal 8 karakter.",
		})
	}
	if !hasUpper {
		violations = append(violations, PolicyViolation{
			Key:     "upper",
			Message: "Kata sandi harus memuat huruf besar.",
		})
	}
	if !hasLower {
		violations = append(violations, PolicyViolation{
			Key:     "lower",
			Message: "Kata sandi harus memuat huruf kecil.",
		})
	}
	if !hasNumber {
		violations = append(violations, PolicyViolation{
			Key:     "number",
			Message: "Kata sandi harus memuat angka.",
		})
	}
	if !hasSpecial {
		violations = append(violations, PolicyViolation{
			Key:     "special",
			Message: "Kata sandi harus memuat karakter spesial.",
		})
	}

	return violations
}
