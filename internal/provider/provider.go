package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"card-reward-advisor/internal/models"
)

// Source supplies a normalized list of offers from somewhere external: a
// bank feed dump, a scraping pipeline, anything that can produce offer
// records. Each source owns a stable name used to label and replace its
// offers on refresh.
type Source interface {
	Name() string
	FetchOffers(ctx context.Context) ([]models.Offer, error)
}

// JSONFileSource reads offers from a JSON file on disk. Offers in the file
// may omit source, active, and offer_id; they are stamped on load.
type JSONFileSource struct {
	name     string
	filePath string
}

// NewJSONFileSource creates a source that reads the given file.
func NewJSONFileSource(name, filePath string) *JSONFileSource {
	return &JSONFileSource{name: name, filePath: filePath}
}

// Name returns the source label.
func (s *JSONFileSource) Name() string {
	return s.name
}

// FetchOffers loads and normalizes the file's offers.
func (s *JSONFileSource) FetchOffers(ctx context.Context) ([]models.Offer, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read offers file: %w", err)
	}

	var offers []models.Offer
	if err := json.Unmarshal(data, &offers); err != nil {
		return nil, fmt.Errorf("failed to parse offers file: %w", err)
	}

	for i := range offers {
		offers[i].Source = s.name
		offers[i].Active = true
		if offers[i].ID == "" {
			offers[i].ID = uuid.New().String()
		}
		if offers[i].Channel == "" {
			offers[i].Channel = "all"
		}
	}

	return offers, nil
}

// StaticSource serves a fixed offer list. Used as a stand-in for scraping
// adapters that are not wired up and in tests.
type StaticSource struct {
	name   string
	offers []models.Offer
}

// NewStaticSource creates a source returning the given offers verbatim,
// stamped with the source name.
func NewStaticSource(name string, offers []models.Offer) *StaticSource {
	return &StaticSource{name: name, offers: offers}
}

// Name returns the source label.
func (s *StaticSource) Name() string {
	return s.name
}

// FetchOffers returns the configured offers.
func (s *StaticSource) FetchOffers(ctx context.Context) ([]models.Offer, error) {
	offers := make([]models.Offer, len(s.offers))
	copy(offers, s.offers)
	for i := range offers {
		offers[i].Source = s.name
		offers[i].Active = true
	}
	return offers, nil
}
