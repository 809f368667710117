package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"card-reward-advisor/internal/cache"
	"card-reward-advisor/internal/database"
	"card-reward-advisor/internal/events"
	"card-reward-advisor/internal/features"
	"card-reward-advisor/internal/insight"
	"card-reward-advisor/internal/models"
	"card-reward-advisor/internal/provider"
	"card-reward-advisor/internal/recommender"
	"card-reward-advisor/internal/validation"
)

// Options holds the service's optional collaborators. Nil fields disable the
// corresponding behavior.
type Options struct {
	Refresher *provider.Refresher
	Scanner   *insight.Scanner
	Refiner   *insight.Refiner
	Cache     cache.Cache
	CacheTTL  time.Duration
	Features  *features.Manager
	Events    *events.Manager
}

// Service provides business logic for the card reward advisor.
type Service struct {
	db        *database.DB
	refresher *provider.Refresher
	scanner   *insight.Scanner
	refiner   *insight.Refiner
	cache     cache.Cache
	cacheTTL  time.Duration
	features  *features.Manager
	events    *events.Manager
}

// NewService creates a new service instance. When no feature flag manager is
// supplied, one is built with defaults derived from the other options, so a
// bare service still honors split requests and uses whatever collaborators
// were handed in.
func NewService(db *database.DB, opts Options) *Service {
	if opts.Features == nil {
		opts.Features = features.NewManager()
		opts.Features.Register(features.FeatureCacheEnabled, opts.Cache != nil, "Cache recommendation responses")
		opts.Features.Register(features.FeatureInsightsEnabled, opts.Scanner != nil, "Attach community insights and LLM summaries")
		opts.Features.Register(features.FeatureEventHooksEnabled, opts.Events != nil, "Publish domain events")
		opts.Features.Register(features.FeatureSplitStrategy, true, "Allow multi-card split suggestions")
	}
	if opts.Events == nil {
		opts.Events = events.NewManager(false)
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Service{
		db:        db,
		refresher: opts.Refresher,
		scanner:   opts.Scanner,
		refiner:   opts.Refiner,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		features:  opts.Features,
		events:    opts.Events,
	}
}

// SyncCards validates and upserts a batch of cards.
func (s *Service) SyncCards(ctx context.Context, cards []models.Card) (int, error) {
	if len(cards) == 0 {
		return 0, fmt.Errorf("no cards provided")
	}

	for i, card := range cards {
		if err := validation.ValidateCard(card); err != nil {
			return 0, fmt.Errorf("invalid card at index %d: %w", i, err)
		}
	}

	if err := s.db.UpsertCards(cards); err != nil {
		return 0, fmt.Errorf("failed to upsert cards: %w", err)
	}

	s.events.PublishCardsSynced(ctx, len(cards))
	return len(cards), nil
}

// SyncCardsFromPayload parses a JSON or CSV card list and upserts it. CSV
// payloads carry only the base columns; multiplier maps and milestone terms
// require JSON.
func (s *Service) SyncCardsFromPayload(ctx context.Context, filename string, raw []byte) (int, error) {
	cards, err := parseCardsPayload(filename, raw)
	if err != nil {
		return 0, err
	}
	return s.SyncCards(ctx, cards)
}

func parseCardsPayload(filename string, raw []byte) ([]models.Card, error) {
	if strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return parseCardsCSV(raw)
	}

	var cards []models.Card
	if err := json.Unmarshal(raw, &cards); err != nil {
		return nil, fmt.Errorf("failed to parse cards JSON: %w", err)
	}
	return cards, nil
}

func parseCardsCSV(raw []byte) ([]models.Card, error) {
	reader := csv.NewReader(strings.NewReader(string(raw)))
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse cards CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("cards CSV requires a header row and at least one card")
	}

	index := make(map[string]int, len(rows[0]))
	for i, header := range rows[0] {
		index[strings.TrimSpace(header)] = i
	}
	for _, required := range []string{"card_id", "bank", "network", "reward_rate", "monthly_reward_cap"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("cards CSV is missing column %q", required)
		}
	}

	field := func(row []string, name string) string {
		return strings.TrimSpace(row[index[name]])
	}

	var cards []models.Card
	for i, row := range rows[1:] {
		rate, err := strconv.ParseFloat(field(row, "reward_rate"), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid reward_rate on row %d: %w", i+2, err)
		}
		capValue, err := strconv.ParseFloat(field(row, "monthly_reward_cap"), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid monthly_reward_cap on row %d: %w", i+2, err)
		}
		cards = append(cards, models.Card{
			ID:               field(row, "card_id"),
			Bank:             field(row, "bank"),
			Network:          field(row, "network"),
			RewardRate:       rate,
			MonthlyRewardCap: capValue,
		})
	}
	return cards, nil
}

// Cards returns all stored cards.
func (s *Service) Cards(ctx context.Context) ([]models.Card, error) {
	cards, err := s.db.Cards()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cards: %w", err)
	}
	return cards, nil
}

// DeleteCard removes a card. Returns false when no such card exists.
func (s *Service) DeleteCard(ctx context.Context, cardID string) (bool, error) {
	if err := validation.ValidateIdentifier(cardID, "card_id"); err != nil {
		return false, err
	}
	return s.db.DeleteCard(cardID)
}

// ActiveOffers returns active offers, optionally filtered by merchant.
func (s *Service) ActiveOffers(ctx context.Context, merchant string) ([]models.Offer, error) {
	offers, err := s.db.ActiveOffers(merchant)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch offers: %w", err)
	}
	return offers, nil
}

// RecordExpense validates and stores an expense.
func (s *Service) RecordExpense(ctx context.Context, req models.RecordExpenseRequest) error {
	expense := models.Expense{
		CardID:   req.CardID,
		Merchant: req.Merchant,
		Amount:   req.Amount,
		Category: req.Category,
	}
	if err := validation.ValidateExpense(expense); err != nil {
		return err
	}

	if err := s.db.InsertExpense(expense); err != nil {
		return fmt.Errorf("failed to record expense: %w", err)
	}

	s.events.PublishExpenseRecorded(ctx, expense)
	return nil
}

const stateLastRefresh = "last_refresh_at"

// RefreshOffers runs one refresh pass over all configured offer sources and
// records when it happened.
func (s *Service) RefreshOffers(ctx context.Context) ([]models.RefreshResult, error) {
	if s.refresher == nil {
		return nil, fmt.Errorf("no offer sources configured")
	}

	results := s.refresher.Refresh(ctx)
	if err := s.db.SetState(stateLastRefresh, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Printf("Failed to record refresh time: %v", err)
	}
	s.events.PublishOffersRefreshed(ctx, results)
	return results, nil
}

// LastRefreshAt returns when offers were last refreshed, or "never".
func (s *Service) LastRefreshAt(ctx context.Context) (string, error) {
	return s.db.GetState(stateLastRefresh, "never")
}

// HasCards reports whether any cards have been synced.
func (s *Service) HasCards(ctx context.Context) (bool, error) {
	return s.db.HasCards()
}

// RecentExpenses returns the most recently recorded expenses, newest first.
func (s *Service) RecentExpenses(ctx context.Context, limit int) ([]models.Expense, error) {
	if limit <= 0 {
		limit = 20
	}
	expenses, err := s.db.Expenses(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch expenses: %w", err)
	}
	return expenses, nil
}

// Recommend computes ranked (or split) savings estimates for a transaction,
// building a fresh engine from a point-in-time snapshot of cards, active
// offers for the merchant, and this month's spend. Insights are attached
// when enabled and are never allowed to fail the request.
func (s *Service) Recommend(ctx context.Context, req models.RecommendRequest) (models.RecommendResponse, error) {
	if strings.TrimSpace(req.Merchant) == "" {
		return models.RecommendResponse{}, &validation.ValidationError{Field: "merchant", Message: "is required"}
	}
	if req.Channel == "" {
		req.Channel = recommender.DefaultChannel
	}
	if req.Category == "" {
		req.Category = recommender.DefaultCategory
	}
	if req.Split && !s.features.IsEnabled(features.FeatureSplitStrategy) {
		req.Split = false
	}

	cacheKey := cache.RecommendationKey(strings.ToLower(req.Merchant), req.Amount, strings.ToLower(req.Channel), strings.ToLower(req.Category), req.Split)
	if s.cacheEnabled() {
		var cached models.RecommendResponse
		if err := cache.GetJSON(ctx, s.cache, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	cards, err := s.db.Cards()
	if err != nil {
		return models.RecommendResponse{}, fmt.Errorf("failed to fetch cards: %w", err)
	}
	offers, err := s.db.ActiveOffers(req.Merchant)
	if err != nil {
		return models.RecommendResponse{}, fmt.Errorf("failed to fetch offers: %w", err)
	}
	monthlySpend, err := s.db.MonthlySpendByCard()
	if err != nil {
		return models.RecommendResponse{}, fmt.Errorf("failed to fetch monthly spend: %w", err)
	}

	engine := recommender.NewEngine(cards, offers, monthlySpend)

	var recommendations []models.Recommendation
	if req.Split {
		recommendations, err = engine.SuggestSplit(req.Amount, req.Merchant, req.Channel, req.Category)
		if err != nil {
			return models.RecommendResponse{}, fmt.Errorf("split suggestion failed: %w", err)
		}
	} else {
		recommendations = engine.Recommend(req.Amount, req.Merchant, req.Channel, req.Category)
	}

	response := models.RecommendResponse{Recommendations: recommendations}

	if s.insightsEnabled() {
		result := s.scanForMerchant(ctx, req.Merchant)
		response.Insights = &result
		if s.refiner != nil {
			response.RefinedResponse = s.refiner.Refine(ctx, insight.RefineContext{
				Merchant:        req.Merchant,
				Amount:          req.Amount,
				Channel:         req.Channel,
				Split:           req.Split,
				Recommendations: recommendations,
				CommunityItems:  result.Items,
			})
		}
	}

	if s.cacheEnabled() {
		if err := cache.SetJSON(ctx, s.cache, cacheKey, response, s.cacheTTL); err != nil {
			log.Printf("Failed to cache recommendation: %v", err)
		}
	}

	s.events.PublishRecommendationServed(ctx, req.Merchant, req.Amount, req.Split, recommendations)
	return response, nil
}

// scanForMerchant runs a community scan, reusing a cached result so repeated
// requests for the same merchant do not hammer the upstream search API.
func (s *Service) scanForMerchant(ctx context.Context, merchant string) models.InsightResult {
	key := cache.InsightKey(strings.ToLower(merchant))
	if s.cacheEnabled() {
		var cached models.InsightResult
		if err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil {
			return cached
		}
	}

	result := s.scanner.Scan(ctx, merchant)
	if s.cacheEnabled() {
		if err := cache.SetJSON(ctx, s.cache, key, result, s.cacheTTL); err != nil {
			log.Printf("Failed to cache insight scan: %v", err)
		}
	}
	return result
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.features.IsEnabled(features.FeatureCacheEnabled)
}

func (s *Service) insightsEnabled() bool {
	return s.scanner != nil && s.features.IsEnabled(features.FeatureInsightsEnabled)
}
