package lookup

import (
	"context"
	"errors"
	"log/slog"

	"listing-enricher/internal/models"
)

// Lookup resolves an address to a registry building. A nil record with a nil
// error means the registry has no such building.
type Lookup interface {
	LookupBuilding(ctx context.Context, addr models.Address) (*models.BuildingRecord, error)
}

// Chain tries each lookup in order and returns the first building found.
// A lookup that fails or finds nothing falls through to the next one.
type Chain struct {
	lookups []Lookup
	logger  *slog.Logger
}

// NewChain creates a chain over lookups.
func NewChain(logger *slog.Logger, lookups ...Lookup) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{lookups: lookups, logger: logger}
}

// LookupBuilding returns the first record any lookup finds. When none finds
// one, the joined errors are returned, or nil if every lookup simply came
// up empty.
func (c *Chain) LookupBuilding(ctx context.Context, addr models.Address) (*models.BuildingRecord, error) {
	var errs []error
	for i, l := range c.lookups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := l.LookupBuilding(ctx, addr)
		if err != nil {
			c.logger.Warn("lookup failed, trying next", "index", i, "address", addr.String(), "error", err)
			errs = append(errs, err)
			continue
		}
		if b != nil {
			return b, nil
		}
	}
	return nil, errors.Join(errs...)
}
