package catalog

import (
	"context"

	"tciasync-desktop/internal/models"
)

// Source is the subset of the Orthanc client used to load the catalog
type Source interface {
	GetCollectionValues(ctx context.Context) ([]string, error)
	GetModalityValues(ctx context.Context, collection string) ([]string, error)
	GetBodyPartValues(ctx context.Context, collection string) ([]string, error)
}

// CollectionEvent is emitted each time a facet of a collection resolves
type CollectionEvent struct {
	Index      int               `json:"index"`
	Collection models.Collection `json:"collection"`
}

// LoadedEvent is emitted once the collection names are known
type LoadedEvent struct {
	Collections []models.Collection `json:"collections"`
}

// facet describes one pipeline: how to query it and where to write the result
type facet struct {
	name  string
	fetch func(ctx context.Context, collection string) ([]string, error)
	apply func(c *models.Collection, value string)
}
