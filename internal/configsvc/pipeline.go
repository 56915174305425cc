package configsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/confhub/internal/events"
	"github.com/alfredjeanlab/confhub/internal/metrics"
	"github.com/alfredjeanlab/confhub/internal/model"
)

// step is one stage of the post-commit pipeline. A fatal step aborts the
// pipeline and its error is returned; any other failure is logged and the
// pipeline continues.
type step struct {
	name  string
	fatal bool
	run   func(ctx context.Context) error
}

// commit runs steps in order.
func (s *Service) commit(ctx context.Context, op string, steps ...step) error {
	for _, st := range steps {
		err := st.run(ctx)
		if err == nil {
			continue
		}
		if st.fatal {
			return err
		}
		s.logger.Warn("post-commit step failed", "op", op, "step", st.name, "err", err)
	}
	return nil
}

// persist wraps the store write. It is the only fatal step.
func persist(ct model.ChangeType, fn func(ctx context.Context) error) step {
	return step{name: "persist", fatal: true, run: func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		metrics.RecordMutation(string(ct))
		return nil
	}}
}

// invalidate drops the cached item and the namespace listings.
func (s *Service) invalidate(ns, key string) step {
	return step{name: "invalidate", run: func(ctx context.Context) error {
		s.cache.Invalidate(ctx, ns, key)
		return nil
	}}
}

// publish announces the committed item state. item is read when the step
// runs, after persist has filled it in.
func (s *Service) publish(ct model.ChangeType, item **model.ConfigItem) step {
	return step{name: "publish", run: func(ctx context.Context) error {
		it := *item
		if it == nil {
			return fmt.Errorf("no committed item to announce")
		}
		return s.notifier.Notify(ctx, events.ChangeEvent{
			Namespace:   it.Namespace,
			Key:         it.Key,
			Version:     it.Version,
			ContentHash: it.ContentHash,
			ChangeType:  ct,
			ChangedAt:   s.now(),
		})
	}}
}

func defaultNow() time.Time { return time.Now().UTC() }
