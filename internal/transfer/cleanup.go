package transfer

import (
	"errors"
	"fmt"
)

// ConfirmationToken must be typed to allow a clean.
const ConfirmationToken = "YES"

// Cleaner deletes selected objects in reverse send order.
type Cleaner struct {
	*session
}

// NewCleaner creates a Cleaner for one run.
func NewCleaner(reg Registry, report *Reporter) *Cleaner {
	return &Cleaner{session: newSession(reg, report)}
}

// Clean deletes every selected object that is not managed by the
// controller. Nothing happens unless confirmation is ConfirmationToken.
// Failed deletions are reported and the walk continues.
func (c *Cleaner) Clean(sel Selection, confirmation string) (*Recap, error) {
	if confirmation != ConfirmationToken {
		return nil, ErrNotConfirmed
	}
	if len(sel) == 0 {
		return nil, ErrNoAssets
	}
	for idx := len(SendOrder) - 1; idx >= 0; idx-- {
		t := SendOrder[idx]
		pick, ok := sel[t]
		if !ok {
			continue
		}
		objs, failures := c.selectObjects(t, pick)
		for _, f := range failures {
			if errors.Is(f.err, ErrNotFound) {
				c.log.Info().Str("type", string(t)).Str("name", f.name).Msg("already absent")
				c.report.Record(t, f.name, OutcomeOK, nil, nil)
				continue
			}
			c.report.Record(t, f.name, OutcomeFailed, nil, f.err)
		}
		for _, obj := range objs {
			name := stringField(obj, IdentityField(t.Kind()))
			if isManaged(obj) {
				c.report.Record(t, name, OutcomeOK, []string{"managed by the controller, not deleted"}, nil)
				continue
			}
			if err := c.reg.Delete(t.Kind(), resourceID(obj)); err != nil {
				c.report.Record(t, name, OutcomeFailed, nil, fmt.Errorf("deleting: %w", err))
				continue
			}
			c.resolver.Forget(t.Kind(), name)
			c.report.Record(t, name, OutcomeChanged, nil, nil)
		}
	}
	return c.report.Recap(), nil
}
