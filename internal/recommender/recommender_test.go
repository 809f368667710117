package recommender

import (
	"math"
	"strings"
	"testing"

	"card-reward-advisor/internal/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBaseReward_CappedAtMonthlyHeadroom(t *testing.T) {
	cards := []models.Card{
		{ID: "a", RewardRate: 0.1, MonthlyRewardCap: 1000},
	}
	eng := NewEngine(cards, nil, map[string]float64{"a": 900})

	ranked := eng.Recommend(500, "grocer", "all", "other")
	if len(ranked) != 1 {
		t.Fatalf("Expected 1 recommendation, got %d", len(ranked))
	}
	// 500 * 0.1 = 50, well within the 100 of headroom left.
	if !almostEqual(ranked[0].Savings, 50) {
		t.Errorf("Expected savings 50, got %v", ranked[0].Savings)
	}

	// Push the reward past the remaining headroom: 2000 * 0.1 = 200 > 100.
	ranked = eng.Recommend(2000, "grocer", "all", "other")
	if !almostEqual(ranked[0].Savings, 100) {
		t.Errorf("Expected savings capped at 100, got %v", ranked[0].Savings)
	}
}

func TestRecommend_OfferBeatsHigherBaseRate(t *testing.T) {
	cards := []models.Card{
		{ID: "a", RewardRate: 0.02, MonthlyRewardCap: 1000},
		{ID: "b", RewardRate: 0.05, MonthlyRewardCap: 1000},
	}
	offers := []models.Offer{
		{
			ID:            "o1",
			CardID:        "a",
			Merchant:      "zomato",
			Channel:       "zomato",
			DiscountType:  "percent",
			DiscountValue: 0.2,
			MinSpend:      200,
			MaxDiscount:   500,
			Source:        "bank",
			Active:        true,
		},
	}
	eng := NewEngine(cards, offers, nil)

	ranked := eng.Recommend(1000, "zomato", "zomato", "other")
	if ranked[0].CardID != "a" {
		t.Fatalf("Expected card a (base+offer) to rank first, got %s", ranked[0].CardID)
	}
	// 1000*0.02 = 20 base + min(1000*0.2, 500) = 200 offer.
	if !almostEqual(ranked[0].Savings, 220) {
		t.Errorf("Expected savings 220, got %v", ranked[0].Savings)
	}
	if ranked[0].Reason != "bank:zomato" {
		t.Errorf("Expected reason 'bank:zomato', got %q", ranked[0].Reason)
	}
	if !almostEqual(ranked[1].Savings, 50) {
		t.Errorf("Expected card b savings 50, got %v", ranked[1].Savings)
	}
}

func TestRecommend_InactiveOfferIgnored(t *testing.T) {
	cards := []models.Card{{ID: "a", RewardRate: 0.01, MonthlyRewardCap: 1000}}
	offers := []models.Offer{
		{ID: "o1", CardID: "a", Merchant: "zomato", Channel: "all", DiscountType: "flat", DiscountValue: 300, MaxDiscount: 300, Source: "bank", Active: false},
	}
	eng := NewEngine(cards, offers, nil)

	ranked := eng.Recommend(1000, "zomato", "all", "other")
	if !almostEqual(ranked[0].Savings, 10) {
		t.Errorf("Inactive offer must not contribute, expected 10, got %v", ranked[0].Savings)
	}
	if ranked[0].Reason != "base rewards" {
		t.Errorf("Expected reason 'base rewards', got %q", ranked[0].Reason)
	}
}

func TestRecommend_UnknownDiscountTypeContributesZero(t *testing.T) {
	cards := []models.Card{{ID: "a", RewardRate: 0.01, MonthlyRewardCap: 1000}}
	offers := []models.Offer{
		{ID: "o1", CardID: "a", Merchant: "zomato", Channel: "all", DiscountType: "bogo", DiscountValue: 500, MaxDiscount: 500, Source: "bank", Active: true},
	}
	eng := NewEngine(cards, offers, nil)

	ranked := eng.Recommend(1000, "zomato", "all", "other")
	if !almostEqual(ranked[0].Savings, 10) {
		t.Errorf("Unknown discount type must contribute zero, expected 10, got %v", ranked[0].Savings)
	}
}

func TestRecommend_OfferTieKeepsEarliest(t *testing.T) {
	cards := []models.Card{{ID: "a", RewardRate: 0, MonthlyRewardCap: 1000}}
	offers := []models.Offer{
		{ID: "o1", CardID: "a", Merchant: "zomato", Channel: "all", DiscountType: "flat", DiscountValue: 100, MaxDiscount: 100, Source: "first", Active: true},
		{ID: "o2", CardID: "a", Merchant: "zomato", Channel: "all", DiscountType: "flat", DiscountValue: 100, MaxDiscount: 100, Source: "second", Active: true},
	}
	eng := NewEngine(cards, offers, nil)

	ranked := eng.Recommend(1000, "zomato", "all", "other")
	if ranked[0].Reason != "first:all" {
		t.Errorf("Equal discounts must keep the earliest offer, got reason %q", ranked[0].Reason)
	}
}

func TestEffectiveRate_CategoryMultiplierWinsNotAdds(t *testing.T) {
	cards := []models.Card{
		{
			ID:                  "a",
			RewardRate:          0.01,
			MonthlyRewardCap:    10000,
			CategoryMultipliers: map[string]float64{"dining": 0.06},
		},
	}
	eng := NewEngine(cards, nil, nil)

	ranked := eng.Recommend(1000, "some-bistro", "all", "dining")
	// 6%, not 7%: the richest single rate wins, rates never stack.
	if !almostEqual(ranked[0].Savings, 60) {
		t.Errorf("Expected savings 60 at the 6%% dining rate, got %v", ranked[0].Savings)
	}
	if ranked[0].Reason != "dynamic rate 6%" {
		t.Errorf("Expected reason 'dynamic rate 6%%', got %q", ranked[0].Reason)
	}

	// Case-insensitive lookup on the request side.
	ranked = eng.Recommend(1000, "some-bistro", "all", "DINING")
	if !almostEqual(ranked[0].Savings, 60) {
		t.Errorf("Expected case-insensitive category match, got %v", ranked[0].Savings)
	}
}

func TestMilestone_FiresOnlyOnCrossing(t *testing.T) {
	card := models.Card{
		ID:               "a",
		RewardRate:       0,
		MonthlyRewardCap: 0,
		MilestoneSpend:   5000,
		MilestoneBonus:   250,
	}

	eng := NewEngine([]models.Card{card}, nil, map[string]float64{"a": 4900})
	ranked := eng.Recommend(500, "grocer", "all", "other")
	if !almostEqual(ranked[0].Savings, 250) {
		t.Errorf("Crossing 5000 must award the bonus, got %v", ranked[0].Savings)
	}

	eng = NewEngine([]models.Card{card}, nil, map[string]float64{"a": 5100})
	ranked = eng.Recommend(500, "grocer", "all", "other")
	if !almostEqual(ranked[0].Savings, 0) {
		t.Errorf("Already past the threshold, bonus must not fire, got %v", ranked[0].Savings)
	}

	eng = NewEngine([]models.Card{card}, nil, map[string]float64{"a": 4000})
	ranked = eng.Recommend(500, "grocer", "all", "other")
	if !almostEqual(ranked[0].Savings, 0) {
		t.Errorf("Spend short of the threshold must not fire the bonus, got %v", ranked[0].Savings)
	}
}

func TestAnnualFee_AmortizedMonthlyAndFlooredAtZero(t *testing.T) {
	cards := []models.Card{
		{ID: "a", RewardRate: 0.05, MonthlyRewardCap: 1000, AnnualFee: 120},
		{ID: "b", RewardRate: 0, MonthlyRewardCap: 1000, AnnualFee: 1200},
	}
	eng := NewEngine(cards, nil, nil)

	ranked := eng.Recommend(1000, "grocer", "all", "other")
	// a: 50 reward - 120/12 fee drag = 40.
	if !almostEqual(ranked[0].Savings, 40) {
		t.Errorf("Expected savings 40 after fee amortization, got %v", ranked[0].Savings)
	}
	// b: 0 - 100 floors at zero, never negative.
	if !almostEqual(ranked[1].Savings, 0) {
		t.Errorf("Expected savings floored at 0, got %v", ranked[1].Savings)
	}
}

func TestRecommend_StableOrderOnTies(t *testing.T) {
	cards := []models.Card{
		{ID: "first", RewardRate: 0.02, MonthlyRewardCap: 1000},
		{ID: "second", RewardRate: 0.02, MonthlyRewardCap: 1000},
		{ID: "third", RewardRate: 0.02, MonthlyRewardCap: 1000},
	}
	eng := NewEngine(cards, nil, nil)

	ranked := eng.Recommend(100, "grocer", "all", "other")
	for i, want := range []string{"first", "second", "third"} {
		if ranked[i].CardID != want {
			t.Errorf("Tied savings must preserve input order: position %d expected %s, got %s", i, want, ranked[i].CardID)
		}
	}
}

func TestRecommend_ZeroAmountStillRanksAllCards(t *testing.T) {
	cards := []models.Card{
		{ID: "a", RewardRate: 0.02, MonthlyRewardCap: 1000},
		{ID: "b", RewardRate: 0.05, MonthlyRewardCap: 1000},
	}
	eng := NewEngine(cards, nil, nil)

	ranked := eng.Recommend(0, "grocer", "all", "other")
	if len(ranked) != 2 {
		t.Fatalf("Expected all cards ranked for zero amount, got %d", len(ranked))
	}
	for _, r := range ranked {
		if !almostEqual(r.Savings, 0) {
			t.Errorf("Expected zero savings for zero amount, got %v for %s", r.Savings, r.CardID)
		}
	}
}

func TestSuggestSplit_SumsExactly(t *testing.T) {
	cards := []models.Card{
		{ID: "a", RewardRate: 0.02, MonthlyRewardCap: 1000},
		{ID: "b", RewardRate: 0.01, MonthlyRewardCap: 1000},
	}
	eng := NewEngine(cards, nil, nil)

	for _, amount := range []float64{1200, 999.99, 0.01, 333.33} {
		split, err := eng.SuggestSplit(amount, "restaurant", "all", "other")
		if err != nil {
			t.Fatalf("SuggestSplit(%v) returned error: %v", amount, err)
		}
		sum := 0.0
		for _, alloc := range split {
			sum += alloc.Amount
		}
		if round2(sum) != round2(amount) {
			t.Errorf("Allocations for %v sum to %v, want exact amount", amount, sum)
		}
	}
}

func TestSuggestSplit_ZeroAndNegativeAmountEmpty(t *testing.T) {
	cards := []models.Card{{ID: "a", RewardRate: 0.02, MonthlyRewardCap: 1000}}
	eng := NewEngine(cards, nil, nil)

	for _, amount := range []float64{0, -50} {
		split, err := eng.SuggestSplit(amount, "grocer", "all", "other")
		if err != nil {
			t.Fatalf("SuggestSplit(%v) returned error: %v", amount, err)
		}
		if len(split) != 0 {
			t.Errorf("Expected empty allocation for amount %v, got %d entries", amount, len(split))
		}
	}
}

func TestSuggestSplit_ReasonAndPerSliceSavings(t *testing.T) {
	cards := []models.Card{
		{ID: "a", RewardRate: 0.02, MonthlyRewardCap: 1000},
		{ID: "b", RewardRate: 0.01, MonthlyRewardCap: 1000},
	}
	eng := NewEngine(cards, nil, nil)

	split, err := eng.SuggestSplit(1000, "grocer", "all", "other")
	if err != nil {
		t.Fatalf("SuggestSplit returned error: %v", err)
	}
	if len(split) != 2 {
		t.Fatalf("Expected 2 allocations, got %d", len(split))
	}
	for _, alloc := range split {
		if !strings.HasPrefix(alloc.Reason, "split strategy via ") {
			t.Errorf("Expected split reason prefix, got %q", alloc.Reason)
		}
	}
	// Each slice's savings must reflect its own amount, not the full purchase.
	if !almostEqual(split[0].Savings, 500*0.02) {
		t.Errorf("Expected first slice savings 10, got %v", split[0].Savings)
	}
	if !almostEqual(split[1].Savings, 500*0.01) {
		t.Errorf("Expected second slice savings 5, got %v", split[1].Savings)
	}
}

func TestSuggestSplit_RemainderFoldedIntoLastAllocation(t *testing.T) {
	// A single card caps out at half the amount, so the loop exhausts the
	// ranked list with money left over; the remainder lands on the last
	// allocation untouched.
	cards := []models.Card{{ID: "a", RewardRate: 0.02, MonthlyRewardCap: 1000}}
	eng := NewEngine(cards, nil, nil)

	split, err := eng.SuggestSplit(1000, "grocer", "all", "other")
	if err != nil {
		t.Fatalf("SuggestSplit returned error: %v", err)
	}
	if len(split) != 1 {
		t.Fatalf("Expected 1 allocation, got %d", len(split))
	}
	if !almostEqual(split[0].Amount, 1000) {
		t.Errorf("Expected the full amount on the sole allocation, got %v", split[0].Amount)
	}
	// The stated savings were computed for the 500 slice before the
	// remainder was folded in, so they understate the true value of the
	// final 1000 allocation (10 vs 20). Documented approximation, kept.
	if !almostEqual(split[0].Savings, 10) {
		t.Errorf("Expected savings evaluated at the pre-remainder slice (10), got %v", split[0].Savings)
	}
}

func TestSuggestSplit_ReChecksOfferMinimumAtSliceAmount(t *testing.T) {
	// Offer qualifies for the full purchase but not for the half-sized
	// slice, so the split must not count it.
	cards := []models.Card{{ID: "a", RewardRate: 0.01, MonthlyRewardCap: 1000}}
	offers := []models.Offer{
		{ID: "o1", CardID: "a", Merchant: "zomato", Channel: "all", DiscountType: "flat", DiscountValue: 100, MaxDiscount: 100, MinSpend: 800, Source: "bank", Active: true},
	}
	eng := NewEngine(cards, offers, nil)

	split, err := eng.SuggestSplit(1000, "zomato", "all", "other")
	if err != nil {
		t.Fatalf("SuggestSplit returned error: %v", err)
	}
	// Slice of 500 is under the 800 minimum: base reward only.
	if !almostEqual(split[0].Savings, 5) {
		t.Errorf("Expected offer excluded below its minimum at slice size, got savings %v", split[0].Savings)
	}
}
