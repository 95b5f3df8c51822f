package cli

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tuneloop/tuneloop/internal/advisor"
	"github.com/tuneloop/tuneloop/internal/config"
	"github.com/tuneloop/tuneloop/internal/coordinator"
	"github.com/tuneloop/tuneloop/internal/experiment"
	"github.com/tuneloop/tuneloop/internal/store"
	"github.com/tuneloop/tuneloop/internal/trend"
)

// app bundles the wired components commands work with.
type app struct {
	cfg      config.Config
	store    *store.SQLiteStore
	log      *zap.Logger
	engine   *experiment.Engine
	analyzer *trend.Analyzer
	advisor  *advisor.Advisor
	coord    *coordinator.Coordinator
}

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// withApp wires the full optimization stack on top of withStore.
func withApp(fn func(*app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	return withStore(func(s *store.SQLiteStore) error {
		log, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync()

		engine := experiment.NewEngine(s, experiment.Config{
			SignificanceThreshold: cfg.SignificanceThreshold,
			MinSampleSize:         cfg.MinSampleSize,
			MaxTestDuration:       cfg.MaxTestDuration,
			MaxConcurrent:         cfg.MaxConcurrentExperiments,
		}, log)

		analyzer := trend.NewAnalyzer(s, trend.Config{
			AnomalyStdDevThreshold: cfg.AnomalyStdDevThreshold,
			AnomalyWindow:          cfg.AnomalyWindow,
			FlatThreshold:          cfg.TrendFlatThreshold,
		}, log)

		adv := advisor.New(advisor.Config{
			MinConfidence: cfg.MinProposalConfidence,
			FlatThreshold: cfg.TrendFlatThreshold,
		}, log)

		coord := coordinator.New(s, engine, analyzer, adv, &coordinator.LogApplier{Log: log}, coordinator.Config{
			AutoApplyFloor:    cfg.AutoApplyFloor,
			MaxAutoApplies:    cfg.MaxAutoApplies,
			ApplyTimeout:      cfg.ApplyTimeout,
			RetryBackoff:      cfg.RetryBackoff,
			BaselineSnapshots: cfg.BaselineSnapshots,
			HealthWeights:     cfg.HealthWeights,
		}, log)

		return fn(&app{
			cfg:      cfg,
			store:    s,
			log:      log,
			engine:   engine,
			analyzer: analyzer,
			advisor:  adv,
			coord:    coord,
		})
	})
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, nil
}

// parseAdjustment turns a compact flag value into a typed adjustment:
//
//	timing:<platform>@<hour>       timing:twitter@19
//	format:<format>:<delta>        format:video:+0.1
//	threshold:<parameter>=<value>  threshold:min_insight_confidence=0.7
func parseAdjustment(spec string) (store.Adjustment, error) {
	kind, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return store.Adjustment{}, fmt.Errorf("invalid adjustment %q, expected kind:payload", spec)
	}

	var adj store.Adjustment
	switch kind {
	case "timing":
		platform, hourStr, ok := strings.Cut(rest, "@")
		if !ok {
			return store.Adjustment{}, fmt.Errorf("invalid timing adjustment %q, expected timing:platform@hour", spec)
		}
		hour, err := strconv.Atoi(hourStr)
		if err != nil {
			return store.Adjustment{}, fmt.Errorf("invalid hour in %q: %w", spec, err)
		}
		adj = store.Adjustment{
			Kind:        store.AdjustTimingShift,
			TimingShift: &store.TimingShift{Platform: platform, Hour: hour},
		}

	case "format":
		format, deltaStr, ok := strings.Cut(rest, ":")
		if !ok {
			return store.Adjustment{}, fmt.Errorf("invalid format adjustment %q, expected format:name:delta", spec)
		}
		delta, err := strconv.ParseFloat(deltaStr, 64)
		if err != nil {
			return store.Adjustment{}, fmt.Errorf("invalid weight delta in %q: %w", spec, err)
		}
		adj = store.Adjustment{
			Kind:           store.AdjustFormatPriority,
			FormatPriority: &store.FormatPriority{Format: format, WeightDelta: delta},
		}

	case "threshold":
		param, valueStr, ok := strings.Cut(rest, "=")
		if !ok {
			return store.Adjustment{}, fmt.Errorf("invalid threshold adjustment %q, expected threshold:parameter=value", spec)
		}
		value, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return store.Adjustment{}, fmt.Errorf("invalid value in %q: %w", spec, err)
		}
		adj = store.Adjustment{
			Kind:                store.AdjustConfidenceThreshold,
			ConfidenceThreshold: &store.ConfidenceThreshold{Parameter: param, Value: value},
		}

	default:
		return store.Adjustment{}, fmt.Errorf("unknown adjustment kind %q (timing, format, threshold)", kind)
	}

	if err := adj.Validate(); err != nil {
		return store.Adjustment{}, err
	}
	return adj, nil
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
