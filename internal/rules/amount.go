package rules

import (
	"strings"

	"bank-service/internal/models"

	"github.com/shopspring/decimal"
)

// ValidateAmount parses raw and checks it is a positive number. When
// requireBalance is set (every debit), the amount may not exceed balance.
func ValidateAmount(raw string, balance decimal.Decimal, requireBalance bool) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, models.NewUserError(models.ErrInvalidAmount, "Please enter a valid numeric amount.")
	}
	return CheckAmount(amount, balance, requireBalance)
}

// CheckAmount applies the same rules to an already parsed amount.
func CheckAmount(amount, balance decimal.Decimal, requireBalance bool) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, models.NewUserError(models.ErrInvalidAmount, "Amount must be greater than 0.")
	}
	if requireBalance && amount.GreaterThan(balance) {
		return decimal.Zero, models.NewUserError(models.ErrInsufficientFunds,
			"Insufficient Balance. Available: Rs. %s", FormatRupees(balance))
	}
	return amount, nil
}

// FormatRupees renders an amount with two decimals and thousands separators.
func FormatRupees(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "." + frac
}
