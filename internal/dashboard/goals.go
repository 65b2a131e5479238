package dashboard

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-insights/internal/model"
)

// ErrInvalidGoals is returned when goals fail validation.
var ErrInvalidGoals = eris.New("dashboard: invalid goals")

// Goals returns the saved goals filled in from the configured defaults.
func (s *Service) Goals(ctx context.Context) (model.DemandGoals, error) {
	if s.store == nil {
		return model.DemandGoals{}.WithDefaults(s.opts.DefaultGoals), nil
	}
	saved, err := s.store.LoadGoals(ctx)
	if err != nil {
		return model.DemandGoals{}, eris.Wrap(err, "dashboard: load goals")
	}
	if saved == nil {
		return model.DemandGoals{}.WithDefaults(s.opts.DefaultGoals), nil
	}
	return saved.WithDefaults(s.opts.DefaultGoals), nil
}

// SaveGoals validates and persists goals.
func (s *Service) SaveGoals(ctx context.Context, goals model.DemandGoals) error {
	if err := ValidateGoals(goals); err != nil {
		return err
	}
	if s.store == nil {
		return eris.New("dashboard: no store configured for goals")
	}
	return eris.Wrap(s.store.SaveGoals(ctx, goals), "dashboard: save goals")
}

// ValidateGoals rejects negative targets and conversion rates outside
// [0, 100].
func ValidateGoals(goals model.DemandGoals) error {
	if goals.ConversionRate < 0 || goals.ConversionRate > 100 {
		return eris.Wrapf(ErrInvalidGoals, "conversion rate %.2f outside [0, 100]", goals.ConversionRate)
	}
	for name, g := range goals.Channels {
		if name == "" {
			return eris.Wrap(ErrInvalidGoals, "empty channel name")
		}
		if g.Revenue < 0 || g.Pipeline < 0 {
			return eris.Wrapf(ErrInvalidGoals, "negative target for channel %q", name)
		}
	}
	return nil
}
