package recommender

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"card-reward-advisor/internal/models"
)

// Default match keys used when the caller does not specify one.
const (
	DefaultChannel  = "all"
	DefaultCategory = "other"
)

// DiscountType identifies how an offer's discount is computed.
type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFlat    DiscountType = "flat"
)

// Discount computes the discount an offer yields for the given amount.
// Unrecognized types contribute zero rather than erroring.
func (t DiscountType) Discount(amount float64, offer models.Offer) float64 {
	switch t {
	case DiscountPercent:
		return math.Min(amount*offer.DiscountValue, offer.MaxDiscount)
	case DiscountFlat:
		return math.Min(offer.DiscountValue, offer.MaxDiscount)
	default:
		return 0
	}
}

// Engine ranks cards by effective savings for a transaction. It is a pure
// computation over the snapshot it was constructed with: it performs no I/O
// and never mutates its inputs, so a fresh instance per request is safe to
// use from any goroutine.
type Engine struct {
	cards        []models.Card
	offers       []models.Offer
	monthlySpend map[string]float64
	cardsByID    map[string]models.Card
}

// NewEngine creates an engine over a snapshot of cards, offers, and
// cumulative monthly spend keyed by card id.
func NewEngine(cards []models.Card, offers []models.Offer, monthlySpend map[string]float64) *Engine {
	byID := make(map[string]models.Card, len(cards))
	for _, c := range cards {
		byID[c.ID] = c
	}
	if monthlySpend == nil {
		monthlySpend = map[string]float64{}
	}
	return &Engine{
		cards:        cards,
		offers:       offers,
		monthlySpend: monthlySpend,
		cardsByID:    byID,
	}
}

// effectiveRate resolves the best single reward rate for the transaction:
// the maximum of the card's base rate and any matching category, channel,
// or merchant multiplier. Rates never stack.
func effectiveRate(card models.Card, merchant, channel, category string) float64 {
	rate := card.RewardRate
	for _, lookup := range []struct {
		table map[string]float64
		key   string
	}{
		{card.CategoryMultipliers, category},
		{card.ChannelMultipliers, channel},
		{card.MerchantMultipliers, merchant},
	} {
		if lookup.table == nil {
			continue
		}
		if v, ok := lookup.table[strings.ToLower(lookup.key)]; ok && v > rate {
			rate = v
		}
	}
	return rate
}

// effectiveSavings computes the total monetary benefit of putting amount on
// card: capped base reward, best matching offer discount, one-time milestone
// bonus if this transaction crosses the threshold, minus the monthly share
// of the annual fee. Never negative.
func (e *Engine) effectiveSavings(card models.Card, amount float64, merchant, channel, category string) (float64, string) {
	spent := e.monthlySpend[card.ID]
	rate := effectiveRate(card, merchant, channel, category)

	capLeft := math.Max(card.MonthlyRewardCap-spent, 0)
	baseReward := math.Min(amount*rate, capLeft)

	reason := "base rewards"
	if rate > card.RewardRate {
		reason = fmt.Sprintf("dynamic rate %g%%", rate*100)
	}

	bestOffer := 0.0
	for _, offer := range e.offers {
		if !offer.Active {
			continue
		}
		if offer.CardID != card.ID {
			continue
		}
		if !strings.EqualFold(offer.Merchant, merchant) {
			continue
		}
		offerChannel := strings.ToLower(offer.Channel)
		if offerChannel != DefaultChannel && !strings.EqualFold(offer.Channel, channel) {
			continue
		}
		if amount < offer.MinSpend {
			continue
		}

		discount := DiscountType(offer.DiscountType).Discount(amount, offer)
		if discount > bestOffer {
			bestOffer = discount
			reason = fmt.Sprintf("%s:%s", offer.Source, offer.Channel)
		}
	}

	milestone := 0.0
	if card.MilestoneSpend > 0 && spent < card.MilestoneSpend && spent+amount >= card.MilestoneSpend {
		milestone = card.MilestoneBonus
	}

	total := baseReward + bestOffer + milestone - card.AnnualFee/12
	return math.Max(total, 0), reason
}

// Recommend ranks every card by total effective savings for the transaction,
// descending. The sort is stable: cards with equal savings keep their input
// order. Empty channel and category fall back to "all" and "other".
func (e *Engine) Recommend(amount float64, merchant, channel, category string) []models.Recommendation {
	if channel == "" {
		channel = DefaultChannel
	}
	if category == "" {
		category = DefaultCategory
	}

	ranked := make([]models.Recommendation, 0, len(e.cards))
	for _, card := range e.cards {
		savings, reason := e.effectiveSavings(card, amount, merchant, channel, category)
		ranked = append(ranked, models.Recommendation{
			CardID:  card.ID,
			Amount:  amount,
			Savings: savings,
			Reason:  reason,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Savings > ranked[j].Savings
	})
	return ranked
}

// SuggestSplit divides the purchase across the ranked cards to capture more
// aggregate benefit than a single card would yield. Each card takes at most
// half the original amount, its savings re-evaluated against just its slice.
// Any rounding remainder is folded into the last allocation's amount without
// recomputing that allocation's savings, so the final slice may slightly
// understate its true benefit. Allocation amounts always sum exactly to the
// requested amount.
func (e *Engine) SuggestSplit(amount float64, merchant, channel, category string) ([]models.Recommendation, error) {
	if amount <= 0 {
		return []models.Recommendation{}, nil
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if category == "" {
		category = DefaultCategory
	}

	var allocations []models.Recommendation
	remaining := amount
	for _, item := range e.Recommend(amount, merchant, channel, category) {
		if remaining <= 0 {
			break
		}
		card, ok := e.cardsByID[item.CardID]
		if !ok {
			return nil, fmt.Errorf("split references unknown card %q", item.CardID)
		}
		allocation := round2(math.Min(remaining, amount*0.5))
		savings, _ := e.effectiveSavings(card, allocation, merchant, channel, category)
		allocations = append(allocations, models.Recommendation{
			CardID:  item.CardID,
			Amount:  allocation,
			Savings: savings,
			Reason:  fmt.Sprintf("split strategy via %s", item.Reason),
		})
		remaining = round2(remaining - allocation)
	}

	if remaining > 0 && len(allocations) > 0 {
		allocations[len(allocations)-1].Amount = round2(allocations[len(allocations)-1].Amount + remaining)
	}
	return allocations, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
