package rules

import (
	"regexp"
	"strings"

	"bank-service/internal/models"
)

var accountNoPattern = regexp.MustCompile(`^BOP-\d{8}$`)

const qrScheme = "bank:"

// IsAccountNumber reports whether s has the BOP-######## shape.
func IsAccountNumber(s string) bool {
	return accountNoPattern.MatchString(s)
}

// ParseQRPayload extracts the recipient account number from a scanned code.
func ParseQRPayload(payload string) (string, error) {
	acc := strings.TrimSpace(payload)
	acc = strings.TrimPrefix(acc, qrScheme)
	acc = strings.ToUpper(strings.TrimSpace(acc))
	if !IsAccountNumber(acc) {
		return "", models.NewUserError(models.ErrInvalidInput, "Invalid QR code: no account number found.")
	}
	return acc, nil
}

// QRPayload is the text encoded into an account's receive code.
func QRPayload(accountNo string) string {
	return qrScheme + accountNo
}

// ValidateInsuranceProfile applies the input ranges of the premium estimator.
func ValidateInsuranceProfile(p models.InsuranceProfile) (models.InsuranceProfile, error) {
	switch {
	case p.Age < 18 || p.Age > 100:
		return p, invalid("Age must be between 18 and 100.")
	case p.BMI < 10 || p.BMI > 50:
		return p, invalid("BMI must be between 10 and 50.")
	case p.Children < 0 || p.Children > 10:
		return p, invalid("Children must be between 0 and 10.")
	case p.BloodPressure < 80 || p.BloodPressure > 200:
		return p, invalid("Blood pressure must be between 80 and 200.")
	}

	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	if p.Gender != "male" && p.Gender != "female" {
		return p, invalid("Gender must be male or female.")
	}
	var ok bool
	if p.Diabetic, ok = yesNo(p.Diabetic); !ok {
		return p, invalid("Diabetic must be Yes or No.")
	}
	if p.Smoker, ok = yesNo(p.Smoker); !ok {
		return p, invalid("Smoker must be Yes or No.")
	}
	return p, nil
}

func yesNo(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return "Yes", true
	case "no":
		return "No", true
	}
	return s, false
}
