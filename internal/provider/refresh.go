package provider

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"card-reward-advisor/internal/models"
	"card-reward-advisor/internal/validation"
)

// OfferStore is the slice of the persistence layer the refresher needs.
type OfferStore interface {
	ReplaceOffers(offers []models.Offer, source string) error
	LogRefresh(source, status, detail string) error
}

// Refresher pulls offers from each configured source and replaces that
// source's offers in the store, recording every attempt in the refresh log.
// A failing source never aborts the others.
type Refresher struct {
	store   OfferStore
	sources []Source
}

// NewRefresher creates a refresher over the given store and sources.
func NewRefresher(store OfferStore, sources []Source) *Refresher {
	return &Refresher{store: store, sources: sources}
}

// Refresh runs one refresh pass across all sources.
func (r *Refresher) Refresh(ctx context.Context) []models.RefreshResult {
	results := make([]models.RefreshResult, 0, len(r.sources))
	for _, source := range r.sources {
		result := models.RefreshResult{Source: source.Name(), Status: "ok"}

		offers, err := source.FetchOffers(ctx)
		if err == nil {
			err = validateOffers(offers)
		}
		if err == nil {
			err = r.store.ReplaceOffers(offers, source.Name())
		}

		if err != nil {
			result.Status = "failed"
			result.Detail = err.Error()
			if logErr := r.store.LogRefresh(source.Name(), "failed", err.Error()); logErr != nil {
				log.Printf("Failed to log refresh failure for %s: %v", source.Name(), logErr)
			}
		} else {
			result.Offers = len(offers)
			detail := fmt.Sprintf("offers=%d", len(offers))
			if logErr := r.store.LogRefresh(source.Name(), "ok", detail); logErr != nil {
				log.Printf("Failed to log refresh for %s: %v", source.Name(), logErr)
			}
		}

		results = append(results, result)
	}
	return results
}

// validateOffers rejects a feed wholesale when any row is invalid, so a bad
// source never partially replaces its previous offers.
func validateOffers(offers []models.Offer) error {
	for i, offer := range offers {
		if err := validation.ValidateOffer(offer); err != nil {
			return fmt.Errorf("invalid offer at index %d: %w", i, err)
		}
	}
	return nil
}

// StartDaemon schedules periodic refreshes on the given cron spec (e.g.
// "@every 48h") and returns the running scheduler. Call Stop on it to halt.
func (r *Refresher) StartDaemon(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		results := r.Refresh(ctx)
		for _, result := range results {
			if result.Status == "failed" {
				log.Printf("Offer refresh failed for %s: %s", result.Source, result.Detail)
			} else {
				log.Printf("Offer refresh ok for %s: %d offers", result.Source, result.Offers)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule refresh: %w", err)
	}
	c.Start()
	return c, nil
}
