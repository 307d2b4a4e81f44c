package rules

import (
	"strings"
	"unicode"

	"bank-service/internal/models"
)

// Registration is the raw sign-up form.
type Registration struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	CNIC           string `json:"cnic"`
	Phone          string `json:"phone"`
	PIN            string `json:"pin"`
	ConfirmPIN     string `json:"confirm_pin"`
	SecurityAnswer string `json:"security_answer"`
}

// ValidateRegistration checks every field in form order and returns the
// first failure. The returned copy has its email normalized.
func ValidateRegistration(r Registration) (Registration, error) {
	if err := ValidateName(r.FirstName, "First Name"); err != nil {
		return r, err
	}
	if err := ValidateName(r.LastName, "Last Name"); err != nil {
		return r, err
	}
	email, err := ValidateEmail(r.Email)
	if err != nil {
		return r, err
	}
	r.Email = email
	if err := ValidateCNIC(r.CNIC); err != nil {
		return r, err
	}
	if err := ValidatePhone(r.Phone); err != nil {
		return r, err
	}
	if err := ValidatePIN(r.PIN, r.ConfirmPIN); err != nil {
		return r, err
	}
	if err := ValidateSecurityAnswer(r.SecurityAnswer); err != nil {
		return r, err
	}
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	return r, nil
}

// ValidateName accepts a single word of at least two letters.
func ValidateName(text, field string) error {
	if len(strings.TrimSpace(text)) < 2 {
		return invalid("%s cannot be empty or too short.", field)
	}
	text = strings.TrimSpace(text)
	if strings.ContainsRune(text, ' ') {
		return invalid("%s must be a single word (No spaces allowed).", field)
	}
	for _, r := range text {
		if !unicode.IsLetter(r) {
			return invalid("%s should only contain letters (A-Z).", field)
		}
	}
	return nil
}

func ValidateCNIC(cnic string) error {
	if len(cnic) != 13 || !allDigits(cnic) {
		return invalid("CNIC Error: Must be exactly 13 digits (No spaces or dashes).")
	}
	return nil
}

func ValidatePhone(phone string) error {
	if len(phone) != 11 || !allDigits(phone) {
		return invalid("Phone Error: Must be exactly 11 digits (e.g. 03001234567).")
	}
	if !strings.HasPrefix(phone, "03") {
		return invalid("Phone Error: Must start with 03.")
	}
	return nil
}

// ValidateEmail accepts lower-case .com addresses with a single alphabetic
// domain label, and returns the normalized form.
func ValidateEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	switch {
	case email == "":
		return "", invalid("Email is required.")
	case strings.ContainsRune(email, ' '):
		return "", invalid("Email must not contain spaces.")
	case strings.Count(email, "@") != 1:
		return "", invalid("Email must contain exactly one '@'.")
	case !strings.HasSuffix(email, ".com"):
		return "", invalid("Only '.com' email addresses are allowed.")
	}

	local, domain, _ := strings.Cut(email, "@")
	switch {
	case len(local) < 2:
		return "", invalid("Email username is too short.")
	case strings.HasPrefix(local, ".") || strings.HasSuffix(local, "."):
		return "", invalid("Email username cannot start or end with dot.")
	case strings.Contains(local, ".."):
		return "", invalid("Email username cannot contain consecutive dots.")
	}
	for _, r := range local {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '.' || r == '_' || r == '-') {
			return "", invalid("Invalid character in email username.")
		}
	}

	if strings.Count(domain, ".") != 1 {
		return "", invalid("Invalid domain format.")
	}
	name, ext, _ := strings.Cut(domain, ".")
	if ext != "com" {
		return "", invalid("Only '.com' extension is allowed.")
	}
	if len(name) < 2 {
		return "", invalid("Invalid domain name.")
	}
	for _, r := range name {
		if r < 'a' || r > 'z' {
			return "", invalid("Domain name must contain only letters.")
		}
	}
	return email, nil
}

// ValidatePIN checks a new PIN and its confirmation.
func ValidatePIN(pin, confirm string) error {
	if !IsPINFormat(pin) {
		return invalid("PIN Error: Must be exactly 4 digits.")
	}
	if pin != confirm {
		return invalid("PIN Error: PINs do not match.")
	}
	return nil
}

func ValidateSecurityAnswer(answer string) error {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return invalid("Security answer is required.")
	}
	if strings.ContainsRune(answer, ' ') {
		return invalid("Security answer must be a single word.")
	}
	return nil
}

// IsPINFormat reports whether s is exactly four ASCII digits.
func IsPINFormat(s string) bool {
	return len(s) == 4 && allDigits(s)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func invalid(format string, args ...interface{}) error {
	return models.NewUserError(models.ErrInvalidInput, format, args...)
}
