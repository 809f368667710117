package models

import "time"

// Card represents a credit card and its static reward terms.
type Card struct {
	ID                  string             `json:"card_id"`
	Bank                string             `json:"bank"`
	Network             string             `json:"network"`
	RewardRate          float64            `json:"reward_rate"`          // fraction of spend returned, e.g. 0.05
	MonthlyRewardCap    float64            `json:"monthly_reward_cap"`   // currency units per month
	CategoryMultipliers map[string]float64 `json:"category_multipliers"` // lowercase category -> rate
	ChannelMultipliers  map[string]float64 `json:"channel_multipliers"`  // lowercase channel -> rate
	MerchantMultipliers map[string]float64 `json:"merchant_multipliers"` // lowercase merchant -> rate
	AnnualFee           float64            `json:"annual_fee"`
	MilestoneSpend      float64            `json:"milestone_spend"` // zero disables milestone logic
	MilestoneBonus      float64            `json:"milestone_bonus"`
}

// Offer represents a promotional offer tied to a card.
type Offer struct {
	ID            string  `json:"offer_id"`
	CardID        string  `json:"card_id"`
	Merchant      string  `json:"merchant"`
	Channel       string  `json:"channel"` // "all" or a specific channel
	DiscountType  string  `json:"discount_type"`
	DiscountValue float64 `json:"discount_value"`
	MinSpend      float64 `json:"min_spend"`
	MaxDiscount   float64 `json:"max_discount"`
	Source        string  `json:"source"` // ingestion source label, e.g. "bank"
	Active        bool    `json:"active"`
}

// Expense represents a single recorded purchase on a card.
type Expense struct {
	ID       int64     `json:"id"`
	CardID   string    `json:"card_id"`
	Merchant string    `json:"merchant"`
	Amount   float64   `json:"amount"`
	Category string    `json:"category"`
	SpentAt  time.Time `json:"spent_at"`
}

// Recommendation is the engine's output for one card: the amount it was
// evaluated against, the computed savings, and which rule produced them.
type Recommendation struct {
	CardID  string  `json:"card_id"`
	Amount  float64 `json:"amount"`
	Savings float64 `json:"savings"`
	Reason  string  `json:"reason"`
}

// RecommendRequest is the request body for POST /recommend.
type RecommendRequest struct {
	Merchant string  `json:"merchant"`
	Amount   float64 `json:"amount"`
	Channel  string  `json:"channel"`
	Category string  `json:"category"`
	Split    bool    `json:"split"`
}

// RecommendResponse is the response payload for POST /recommend.
type RecommendResponse struct {
	Recommendations []Recommendation `json:"recommendations"`
	Insights        *InsightResult   `json:"insights,omitempty"`
	RefinedResponse string           `json:"refined_response,omitempty"`
}

// InsightItem is a single community mention collected for a merchant.
type InsightItem struct {
	Source  string `json:"source"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// InsightSource identifies where community mentions were collected from.
type InsightSource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// InsightResult aggregates community mentions for a merchant.
type InsightResult struct {
	Summary string          `json:"summary"`
	Sources []InsightSource `json:"sources"`
	Items   []InsightItem   `json:"items"`
}

// SyncCardsResponse reports how many cards were upserted.
type SyncCardsResponse struct {
	Count int `json:"count"`
}

// RecordExpenseRequest is the request body for POST /expenses.
type RecordExpenseRequest struct {
	CardID   string  `json:"card_id"`
	Merchant string  `json:"merchant"`
	Amount   float64 `json:"amount"`
	Category string  `json:"category"`
}

// RefreshResult reports the outcome of one source's offer refresh.
type RefreshResult struct {
	Source string `json:"source"`
	Status string `json:"status"` // "ok" or "failed"
	Offers int    `json:"offers"`
	Detail string `json:"detail,omitempty"`
}

// RefreshResponse is the response payload for POST /offers/refresh.
type RefreshResponse struct {
	Results []RefreshResult `json:"results"`
}

// CardsResponse wraps the card list for GET /cards.
type CardsResponse struct {
	Cards []Card `json:"cards"`
}

// OffersResponse wraps the offer list for GET /offers.
type OffersResponse struct {
	Offers []Offer `json:"offers"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
