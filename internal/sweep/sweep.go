// Package sweep runs periodic housekeeping over the persistence layer:
// stale unattached resource records and expired dedup entries are
// pruned on a cron schedule.
package sweep

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"beacon/internal/eventbus"
	"beacon/internal/storage"
	logx "beacon/pkg/logx"
)

type Config struct {
	Enabled bool
	// Spec is a cron expression ("*/5 * * * *", optionally prefixed
	// "cron:"), an interval ("interval:10m" or a bare duration like
	// "10m"), or an "@every <duration>" / "@daily" descriptor.
	Spec string
	// StaleAfter prunes unattached resource records older than this.
	// Zero disables resource pruning.
	StaleAfter time.Duration
	Timezone   string
}

// Result summarizes one housekeeping pass. Published on the bus as
// eventbus.TypeSweepCompleted.
type Result struct {
	ResourcesPruned int
	DedupPruned     int
	Took            time.Duration
}

type Service struct {
	cfg    Config
	store  storage.Store
	log    logx.Logger
	bus    eventbus.Bus
	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, store storage.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		store: store,
		log:   log,
		bus:   bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ParseSpec validates a sweep schedule without starting anything.
func (s *Service) ParseSpec(spec string) error {
	_, err := s.parser.Parse(normalizeSpec(spec))
	return err
}

// normalizeSpec lowers the accepted spec forms onto what the cron
// parser understands.
func normalizeSpec(spec string) string {
	sp := strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(sp, "cron:"); ok {
		return strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutPrefix(sp, "interval:"); ok {
		return "@every " + strings.TrimSpace(rest)
	}
	if _, err := time.ParseDuration(sp); err == nil {
		return "@every " + sp
	}
	return sp
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled || s.store == nil {
		s.log.Debug("sweep disabled")
		return nil
	}
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid sweep timezone; using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	spec := normalizeSpec(s.cfg.Spec)
	if _, err := s.c.AddFunc(spec, func() { s.runOnce(ctx) }); err != nil {
		s.c = nil
		return err
	}
	s.c.Start()
	s.log.Info("sweep started", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	c := s.c
	s.c = nil
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("sweep stopped")
}

func (s *Service) runOnce(ctx context.Context) {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var res Result
	if s.cfg.StaleAfter > 0 {
		n, err := s.store.PruneResources(cctx, "unattached", start.Add(-s.cfg.StaleAfter))
		if err != nil {
			s.log.Warn("resource prune failed", logx.Err(err))
		}
		res.ResourcesPruned = n
	}
	n, err := s.store.PruneDedup(cctx, start)
	if err != nil {
		s.log.Warn("dedup prune failed", logx.Err(err))
	}
	res.DedupPruned = n
	res.Took = time.Since(start)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeSweepCompleted, Time: time.Now(), Data: res})
	}
	s.log.Debug("sweep completed",
		logx.Int("resources_pruned", res.ResourcesPruned),
		logx.Int("dedup_pruned", res.DedupPruned),
		logx.Duration("took", res.Took),
	)
}
