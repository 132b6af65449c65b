package engine

import (
	"context"
	"errors"
	"time"
)

// Log routes a record through the model. Pre-filters along the category's
// ancestry run first and may accept (skipping the level check) or deny the
// record. Each logger on the path then applies its filters and writes to its
// configured and attached sinks, stopping at the first non-additive logger.
// A sink reached through several loggers receives the record once.
func (m *Model) Log(ctx context.Context, rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	rec.Category = normalizeName(rec.Category)
	chain := m.chain(rec.Category)

	accepted := false
pre:
	for _, lg := range chain {
		for _, a := range lg.Attachments(KindPreFilter) {
			switch a.Filter.Decide(rec) {
			case Deny:
				return nil
			case Accept:
				accepted = true
				break pre
			}
		}
	}
	if !accepted && rec.Level < m.EffectiveLevel(rec.Category) {
		return nil
	}

	var errs []error
	written := make(map[string]bool)
	for _, lg := range chain {
		if denied(lg, rec) {
			if !lg.Additive() {
				break
			}
			continue
		}
		for _, name := range lg.Sinks() {
			if written[name] {
				continue
			}
			written[name] = true
			m.mu.RLock()
			h, ok := m.outputs[name]
			m.mu.RUnlock()
			if !ok {
				continue
			}
			if err := h.write(ctx, rec); err != nil {
				errs = append(errs, err)
			}
		}
		for _, a := range lg.Attachments(KindSink) {
			if written["attached:"+a.Name] {
				continue
			}
			written["attached:"+a.Name] = true
			if err := a.Appender.Append(ctx, rec); err != nil {
				errs = append(errs, err)
			}
		}
		if !lg.Additive() {
			break
		}
	}
	return errors.Join(errs...)
}

func denied(lg *Logger, rec Record) bool {
	for _, a := range lg.Attachments(KindFilter) {
		switch a.Filter.Decide(rec) {
		case Deny:
			return true
		case Accept:
			return false
		}
	}
	return false
}
