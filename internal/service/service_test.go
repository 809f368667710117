package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"card-reward-advisor/internal/database"
	"card-reward-advisor/internal/features"
	"card-reward-advisor/internal/models"
	"card-reward-advisor/internal/provider"
)

func setupTestDB(t *testing.T) (*database.DB, func()) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}

	return db, cleanup
}

func testCards() []models.Card {
	return []models.Card{
		{
			ID:               "hdfc-millennia",
			Bank:             "HDFC",
			Network:          "Visa",
			RewardRate:       0.02,
			MonthlyRewardCap: 1000,
		},
		{
			ID:               "axis-ace",
			Bank:             "Axis",
			Network:          "Mastercard",
			RewardRate:       0.05,
			MonthlyRewardCap: 1000,
		},
	}
}

func TestSyncCards_Success(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})

	count, err := svc.SyncCards(context.Background(), testCards())
	if err != nil {
		t.Fatalf("Failed to sync cards: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 cards synced, got %d", count)
	}

	cards, err := svc.Cards(context.Background())
	if err != nil {
		t.Fatalf("Failed to fetch cards: %v", err)
	}
	if len(cards) != 2 {
		t.Errorf("Expected 2 cards stored, got %d", len(cards))
	}
}

func TestSyncCards_RejectsNegativeRate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})

	_, err := svc.SyncCards(context.Background(), []models.Card{
		{ID: "bad-card", RewardRate: -0.1, MonthlyRewardCap: 100},
	})
	if err == nil {
		t.Fatal("Expected validation error for negative reward rate")
	}
}

func TestSyncCardsFromPayload_CSV(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})

	csvData := "card_id,bank,network,reward_rate,monthly_reward_cap\n" +
		"hdfc-millennia,HDFC,Visa,0.05,1200\n"
	count, err := svc.SyncCardsFromPayload(context.Background(), "cards.csv", []byte(csvData))
	if err != nil {
		t.Fatalf("Failed to sync cards from CSV: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 card synced, got %d", count)
	}

	cards, _ := svc.Cards(context.Background())
	if len(cards) != 1 || cards[0].ID != "hdfc-millennia" {
		t.Fatalf("Unexpected cards after CSV sync: %+v", cards)
	}
	if cards[0].RewardRate != 0.05 {
		t.Errorf("Expected reward rate 0.05, got %v", cards[0].RewardRate)
	}
}

func TestRecommend_PrefersOfferOverHigherBaseRate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})
	ctx := context.Background()

	if _, err := svc.SyncCards(ctx, testCards()); err != nil {
		t.Fatalf("Failed to sync cards: %v", err)
	}

	offers := []models.Offer{
		{
			ID:            "o1",
			CardID:        "hdfc-millennia",
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
	if err := db.ReplaceOffers(offers, "bank"); err != nil {
		t.Fatalf("Failed to seed offers: %v", err)
	}

	response, err := svc.Recommend(ctx, models.RecommendRequest{
		Merchant: "zomato",
		Amount:   1000,
		Channel:  "zomato",
	})
	if err != nil {
		t.Fatalf("Failed to recommend: %v", err)
	}

	if len(response.Recommendations) != 2 {
		t.Fatalf("Expected 2 recommendations, got %d", len(response.Recommendations))
	}
	if response.Recommendations[0].CardID != "hdfc-millennia" {
		t.Errorf("Expected the offer-backed card first, got %s", response.Recommendations[0].CardID)
	}
	if response.Recommendations[0].Reason != "bank:zomato" {
		t.Errorf("Expected offer reason, got %q", response.Recommendations[0].Reason)
	}
}

func TestRecommend_MonthlySpendReducesHeadroom(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})
	ctx := context.Background()

	_, err := svc.SyncCards(ctx, []models.Card{
		{ID: "hdfc-millennia", Bank: "HDFC", Network: "Visa", RewardRate: 0.1, MonthlyRewardCap: 1000},
	})
	if err != nil {
		t.Fatalf("Failed to sync cards: %v", err)
	}

	// 900 already spent this month leaves 100 of cap headroom.
	if err := svc.RecordExpense(ctx, models.RecordExpenseRequest{
		CardID:   "hdfc-millennia",
		Merchant: "grocer",
		Amount:   900,
		Category: "grocery",
	}); err != nil {
		t.Fatalf("Failed to record expense: %v", err)
	}

	response, err := svc.Recommend(ctx, models.RecommendRequest{Merchant: "grocer", Amount: 2000})
	if err != nil {
		t.Fatalf("Failed to recommend: %v", err)
	}

	// 2000 at 10% would earn 200, but only 100 of headroom remains.
	got := response.Recommendations[0].Savings
	if got != 100 {
		t.Errorf("Expected savings capped at 100 by monthly headroom, got %v", got)
	}
}

func TestRecommend_SplitSumsToAmount(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})
	ctx := context.Background()

	if _, err := svc.SyncCards(ctx, testCards()); err != nil {
		t.Fatalf("Failed to sync cards: %v", err)
	}

	response, err := svc.Recommend(ctx, models.RecommendRequest{
		Merchant: "restaurant",
		Amount:   1200,
		Split:    true,
	})
	if err != nil {
		t.Fatalf("Failed to recommend split: %v", err)
	}

	sum := 0.0
	for _, alloc := range response.Recommendations {
		sum += alloc.Amount
		if !strings.HasPrefix(alloc.Reason, "split strategy via ") {
			t.Errorf("Expected split reason, got %q", alloc.Reason)
		}
	}
	if sum != 1200 {
		t.Errorf("Expected allocations summing to 1200, got %v", sum)
	}
}

func TestRecommend_SplitHonoredWithDefaultOptions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	// A bare service must not silently downgrade split requests.
	svc := NewService(db, Options{})
	ctx := context.Background()

	if _, err := svc.SyncCards(ctx, testCards()); err != nil {
		t.Fatalf("Failed to sync cards: %v", err)
	}

	response, err := svc.Recommend(ctx, models.RecommendRequest{
		Merchant: "restaurant",
		Amount:   1000,
		Split:    true,
	})
	if err != nil {
		t.Fatalf("Failed to recommend split: %v", err)
	}

	sum := 0.0
	for _, alloc := range response.Recommendations {
		sum += alloc.Amount
		if !strings.HasPrefix(alloc.Reason, "split strategy via ") {
			t.Errorf("Expected split allocation, got reason %q", alloc.Reason)
		}
	}
	if sum != 1000 {
		t.Errorf("Expected allocations summing to 1000, got %v", sum)
	}
}

func TestRecommend_SplitDowngradedWhenFlagDisabled(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	flags := features.NewManager()
	flags.Register(features.FeatureSplitStrategy, false, "Allow multi-card split suggestions")
	svc := NewService(db, Options{Features: flags})
	ctx := context.Background()

	if _, err := svc.SyncCards(ctx, testCards()); err != nil {
		t.Fatalf("Failed to sync cards: %v", err)
	}

	response, err := svc.Recommend(ctx, models.RecommendRequest{
		Merchant: "restaurant",
		Amount:   1000,
		Split:    true,
	})
	if err != nil {
		t.Fatalf("Failed to recommend: %v", err)
	}

	for _, rec := range response.Recommendations {
		if strings.HasPrefix(rec.Reason, "split strategy via ") {
			t.Errorf("Split disabled, expected plain ranking, got reason %q", rec.Reason)
		}
		if rec.Amount != 1000 {
			t.Errorf("Expected full-amount ranking rows, got amount %v", rec.Amount)
		}
	}
}

func TestRecommend_MerchantRequired(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})

	_, err := svc.Recommend(context.Background(), models.RecommendRequest{Amount: 100})
	if err == nil {
		t.Fatal("Expected error for missing merchant")
	}
}

func TestRecordExpense_RejectsNonPositiveAmount(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})

	err := svc.RecordExpense(context.Background(), models.RecordExpenseRequest{
		CardID:   "hdfc-millennia",
		Merchant: "grocer",
		Amount:   0,
	})
	if err == nil {
		t.Fatal("Expected validation error for zero amount")
	}
}

func TestRefreshOffers_FromJSONFile(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	offersPath := filepath.Join(t.TempDir(), "offers.json")
	payload := []models.Offer{
		{
			ID:            "o1",
			CardID:        "hdfc-millennia",
			Merchant:      "zomato",
			Channel:       "zomato",
			DiscountType:  "percent",
			DiscountValue: 0.1,
			MinSpend:      100,
			MaxDiscount:   250,
		},
	}
	raw, _ := json.Marshal(payload)
	if err := os.WriteFile(offersPath, raw, 0o600); err != nil {
		t.Fatalf("Failed to write offers file: %v", err)
	}

	refresher := provider.NewRefresher(db, []provider.Source{
		provider.NewJSONFileSource("bank", offersPath),
	})
	svc := NewService(db, Options{Refresher: refresher})

	results, err := svc.RefreshOffers(context.Background())
	if err != nil {
		t.Fatalf("Failed to refresh offers: %v", err)
	}
	if len(results) != 1 || results[0].Status != "ok" || results[0].Offers != 1 {
		t.Fatalf("Unexpected refresh results: %+v", results)
	}

	offers, err := svc.ActiveOffers(context.Background(), "zomato")
	if err != nil {
		t.Fatalf("Failed to fetch offers: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("Expected 1 active offer, got %d", len(offers))
	}
	if offers[0].Source != "bank" || !offers[0].Active {
		t.Errorf("Offer not stamped by source: %+v", offers[0])
	}
}

func TestRefreshOffers_RecordsLastRefresh(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	offersPath := filepath.Join(t.TempDir(), "offers.json")
	raw, _ := json.Marshal([]models.Offer{
		{ID: "o1", CardID: "a", Merchant: "zomato", Channel: "all", DiscountType: "flat", DiscountValue: 50, MaxDiscount: 50},
	})
	if err := os.WriteFile(offersPath, raw, 0o600); err != nil {
		t.Fatalf("Failed to write offers file: %v", err)
	}

	refresher := provider.NewRefresher(db, []provider.Source{
		provider.NewJSONFileSource("bank", offersPath),
	})
	svc := NewService(db, Options{Refresher: refresher})
	ctx := context.Background()

	at, err := svc.LastRefreshAt(ctx)
	if err != nil {
		t.Fatalf("Failed to read last refresh: %v", err)
	}
	if at != "never" {
		t.Errorf("Expected 'never' before any refresh, got %q", at)
	}

	if _, err := svc.RefreshOffers(ctx); err != nil {
		t.Fatalf("Failed to refresh offers: %v", err)
	}

	at, err = svc.LastRefreshAt(ctx)
	if err != nil {
		t.Fatalf("Failed to read last refresh: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, at); err != nil {
		t.Errorf("Expected an RFC3339 refresh time, got %q", at)
	}
}

func TestRefreshOffers_NoSourcesConfigured(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})

	if _, err := svc.RefreshOffers(context.Background()); err == nil {
		t.Fatal("Expected error when no sources are configured")
	}
}

func TestDeleteCard(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})
	ctx := context.Background()

	if _, err := svc.SyncCards(ctx, testCards()); err != nil {
		t.Fatalf("Failed to sync cards: %v", err)
	}

	deleted, err := svc.DeleteCard(ctx, "hdfc-millennia")
	if err != nil {
		t.Fatalf("Failed to delete card: %v", err)
	}
	if !deleted {
		t.Error("Expected card to be deleted")
	}

	deleted, err = svc.DeleteCard(ctx, "no-such-card")
	if err != nil {
		t.Fatalf("Unexpected error deleting missing card: %v", err)
	}
	if deleted {
		t.Error("Expected no deletion for a missing card")
	}
}

func TestHasCardsAndRecentExpenses(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})
	ctx := context.Background()

	ok, err := svc.HasCards(ctx)
	if err != nil {
		t.Fatalf("Failed to check cards: %v", err)
	}
	if ok {
		t.Error("Expected no cards in a fresh store")
	}

	if _, err := svc.SyncCards(ctx, testCards()); err != nil {
		t.Fatalf("Failed to sync cards: %v", err)
	}
	ok, err = svc.HasCards(ctx)
	if err != nil || !ok {
		t.Fatalf("Expected cards after sync, got ok=%v err=%v", ok, err)
	}

	for _, amount := range []float64{100, 200} {
		err := svc.RecordExpense(ctx, models.RecordExpenseRequest{
			CardID: "hdfc-millennia", Merchant: "grocer", Amount: amount,
		})
		if err != nil {
			t.Fatalf("Failed to record expense: %v", err)
		}
	}

	// Non-positive limit falls back to the default.
	expenses, err := svc.RecentExpenses(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to fetch expenses: %v", err)
	}
	if len(expenses) != 2 {
		t.Errorf("Expected 2 expenses, got %d", len(expenses))
	}

	expenses, err = svc.RecentExpenses(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to fetch expenses: %v", err)
	}
	if len(expenses) != 1 {
		t.Errorf("Expected limit of 1 respected, got %d", len(expenses))
	}
}

func TestRecommend_SnapshotIsPointInTime(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db, Options{})
	ctx := context.Background()

	_, err := svc.SyncCards(ctx, []models.Card{
		{ID: "hdfc-millennia", Bank: "HDFC", Network: "Visa", RewardRate: 0.02, MonthlyRewardCap: 1000},
	})
	if err != nil {
		t.Fatalf("Failed to sync cards: %v", err)
	}

	before, err := svc.Recommend(ctx, models.RecommendRequest{Merchant: "grocer", Amount: 100})
	if err != nil {
		t.Fatalf("Failed to recommend: %v", err)
	}

	// Recording spend after the call must not change the already-returned
	// snapshot result.
	if err := svc.RecordExpense(ctx, models.RecordExpenseRequest{
		CardID: "hdfc-millennia", Merchant: "grocer", Amount: 999,
	}); err != nil {
		t.Fatalf("Failed to record expense: %v", err)
	}

	if before.Recommendations[0].Savings != 2 {
		t.Errorf("Expected snapshot savings of 2, got %v", before.Recommendations[0].Savings)
	}

	// Give the async event handlers a moment; nothing should mutate state.
	time.Sleep(10 * time.Millisecond)
}
