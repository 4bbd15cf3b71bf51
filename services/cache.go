package services

import (
	"context"

	"sosband-backend/dtos"
)

// PageCache stores resolved public SOS pages by bracelet identifier.
// A nil PageCache disables caching.
//
// Generation is read before the page is loaded and handed back to Set, which
// must drop the page when Invalidate ran in between.
type PageCache interface {
	Get(ctx context.Context, identifier string) (*dtos.SosPage, bool, error)
	Generation(ctx context.Context, identifier string) (int64, error)
	Set(ctx context.Context, identifier string, page *dtos.SosPage, gen int64) error
	Invalidate(ctx context.Context, identifier string) error
}
