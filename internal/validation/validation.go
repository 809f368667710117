package validation

import (
	"fmt"
	"strings"
	"unicode"

	"card-reward-advisor/internal/models"
)

const (
	maxIdentifierLength = 128
	maxNameLength       = 256
	maxMultipliers      = 100
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateCard checks a card's static reward terms. Optional fields
// (multiplier maps, fee, milestone values) may be empty or zero; only
// negative values and missing identifiers are rejected.
func ValidateCard(card models.Card) error {
	if err := ValidateIdentifier(card.ID, "card_id"); err != nil {
		return err
	}

	if card.RewardRate < 0 {
		return &ValidationError{Field: "reward_rate", Message: "must be non-negative"}
	}
	if card.RewardRate > 1 {
		return &ValidationError{Field: "reward_rate", Message: "must be a fraction between 0 and 1"}
	}
	if card.MonthlyRewardCap < 0 {
		return &ValidationError{Field: "monthly_reward_cap", Message: "must be non-negative"}
	}
	if card.AnnualFee < 0 {
		return &ValidationError{Field: "annual_fee", Message: "must be non-negative"}
	}
	if card.MilestoneSpend < 0 {
		return &ValidationError{Field: "milestone_spend", Message: "must be non-negative"}
	}
	if card.MilestoneBonus < 0 {
		return &ValidationError{Field: "milestone_bonus", Message: "must be non-negative"}
	}

	for field, table := range map[string]map[string]float64{
		"category_multipliers": card.CategoryMultipliers,
		"channel_multipliers":  card.ChannelMultipliers,
		"merchant_multipliers": card.MerchantMultipliers,
	} {
		if err := validateMultipliers(field, table); err != nil {
			return err
		}
	}

	return nil
}

// ValidateOffer checks an offer before ingestion. Discount types are not
// restricted here: unrecognized types are tolerated and simply contribute
// zero discount downstream.
func ValidateOffer(offer models.Offer) error {
	if err := ValidateIdentifier(offer.ID, "offer_id"); err != nil {
		return err
	}
	if err := ValidateIdentifier(offer.CardID, "card_id"); err != nil {
		return err
	}
	if err := validateName(offer.Merchant, "merchant"); err != nil {
		return err
	}

	if offer.DiscountValue < 0 {
		return &ValidationError{Field: "discount_value", Message: "must be non-negative"}
	}
	if offer.MinSpend < 0 {
		return &ValidationError{Field: "min_spend", Message: "must be non-negative"}
	}
	if offer.MaxDiscount < 0 {
		return &ValidationError{Field: "max_discount", Message: "must be non-negative"}
	}

	return nil
}

// ValidateExpense checks a recorded purchase.
func ValidateExpense(expense models.Expense) error {
	if err := ValidateIdentifier(expense.CardID, "card_id"); err != nil {
		return err
	}
	if err := validateName(expense.Merchant, "merchant"); err != nil {
		return err
	}
	if expense.Amount <= 0 {
		return &ValidationError{Field: "amount", Message: "must be positive"}
	}
	return nil
}

// SanitizeString strips control characters and surrounding whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ValidateIdentifier checks a card or offer identifier slug.
func ValidateIdentifier(id, fieldName string) error {
	if id == "" {
		return &ValidationError{Field: fieldName, Message: "is required"}
	}

	id = SanitizeString(id)
	if id == "" {
		return &ValidationError{Field: fieldName, Message: "is required"}
	}

	if len(id) > maxIdentifierLength {
		return &ValidationError{Field: fieldName, Message: fmt.Sprintf("cannot exceed %d characters", maxIdentifierLength)}
	}

	return nil
}

func validateName(name, fieldName string) error {
	if SanitizeString(name) == "" {
		return &ValidationError{Field: fieldName, Message: "is required"}
	}
	if len(name) > maxNameLength {
		return &ValidationError{Field: fieldName, Message: fmt.Sprintf("cannot exceed %d characters", maxNameLength)}
	}
	return nil
}

func validateMultipliers(fieldName string, table map[string]float64) error {
	if len(table) == 0 {
		return nil
	}

	if len(table) > maxMultipliers {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("cannot contain more than %d entries", maxMultipliers),
		}
	}

	for key, rate := range table {
		if SanitizeString(key) == "" {
			return &ValidationError{Field: fieldName, Message: "contains an empty key"}
		}
		if rate < 0 {
			return &ValidationError{
				Field:   fieldName,
				Message: fmt.Sprintf("rate for %q must be non-negative", key),
			}
		}
		if rate > 1 {
			return &ValidationError{
				Field:   fieldName,
				Message: fmt.Sprintf("rate for %q must be a fraction between 0 and 1", key),
			}
		}
	}

	return nil
}
