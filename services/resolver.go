package services

import (
	"context"
	"errors"
	"sort"
	"strings"

	"sosband-backend/database"
	"sosband-backend/dtos"
	"sosband-backend/models"

	"go.uber.org/zap"
)

// Resolver builds the public SOS page of a bracelet from its public
// identifier. It needs no identity.
type Resolver struct {
	gw     *database.Gateway
	cache  PageCache
	logger *zap.Logger
}

func NewResolver(gw *database.Gateway, cache PageCache, logger *zap.Logger) *Resolver {
	return &Resolver{gw: gw, cache: cache, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, identifier string) (*dtos.SosPage, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		sosResolutions.WithLabelValues("not_found").Inc()
		return nil, NotFound("bracelet not found")
	}

	cacheable := false
	var gen int64
	if r.cache != nil {
		page, ok, err := r.cache.Get(ctx, identifier)
		if err != nil {
			r.logger.Warn("sos page cache read failed", zap.String("identificador", identifier), zap.Error(err))
		} else if ok {
			sosResolutions.WithLabelValues("cache_hit").Inc()
			return page, nil
		}
		// The generation must be read before the page data.
		if gen, err = r.cache.Generation(ctx, identifier); err != nil {
			r.logger.Warn("sos page cache generation read failed", zap.String("identificador", identifier), zap.Error(err))
		} else {
			cacheable = true
		}
	}

	b, err := r.gw.FindBraceletByIdentifier(ctx, identifier)
	if errors.Is(err, database.ErrNotFound) {
		sosResolutions.WithLabelValues("not_found").Inc()
		return nil, NotFound("bracelet not found")
	}
	if err != nil {
		return nil, err
	}

	profile, err := r.gw.FindProfile(ctx, b.ID)
	if errors.Is(err, database.ErrNotFound) {
		profile, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	fields, err := r.gw.ListFields(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = []models.CustomField{}
	}
	SortFields(fields)

	page := &dtos.SosPage{
		Bracelet: dtos.PublicBracelet{ID: b.ID, Identifier: b.Identifier, Assigned: b.Assigned()},
		Profile:  profile,
		Fields:   fields,
	}

	if cacheable {
		if err := r.cache.Set(ctx, identifier, page, gen); err != nil {
			r.logger.Warn("sos page cache write failed", zap.String("identificador", identifier), zap.Error(err))
		}
	}
	sosResolutions.WithLabelValues("resolved").Inc()
	return page, nil
}

// SortFields orders fields by Order, then creation time, then id.
func SortFields(fields []models.CustomField) {
	sort.SliceStable(fields, func(i, j int) bool {
		a, b := fields[i], fields[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}
