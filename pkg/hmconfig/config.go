// Package hmconfig holds the enumerated runtime knobs the HiveMind
// core reads (spec §6). Loading this struct from environment, file, or
// CRD is a transport/composition-root concern, not core — this package
// only defines the struct and its defaults.
package hmconfig

import "time"

// TierLimits holds per-tier request-rate quotas, requests per minute.
type TierLimits struct {
	ContribPerMin int
	SearchPerMin  int
}

// QualityWeights are the weights used by the quality aggregation job's
// scoring function (spec §4.6). They must sum in the documented
// proportions but are not normalized at runtime — operators own that.
type QualityWeights struct {
	Usefulness    float64
	Popularity    float64
	Freshness     float64
	Contradiction float64
	VersionCurrent  float64 // bonus applied when is_version_current
}

// Config is the full set of runtime knobs named in spec.md §6.
type Config struct {
	// Ingestion
	InjectionThreshold   float64
	BurstThreshold       int
	BurstWindow          time.Duration
	CosineDedupThreshold float64
	MinHashNumPerm       int
	MinHashThreshold     float64
	LLMTimeout           time.Duration
	PIIRedactionRatioMax float64
	PIIMinVerbatimLen    int

	// Retrieval
	RRFK               int
	QualityBoostBase   float64
	QualityBoostWeight float64
	MaxSearchLimit     int
	VectorTopK         int
	LexicalTopK        int

	// Workers
	QualityWeights                 QualityWeights
	QualityHalfLifeDays            float64
	QualityAggregationInterval     time.Duration
	DistillationInterval           time.Duration
	DistillationPendingThreshold   int
	DistillationConflictThreshold  int
	DistillationPreScreenThreshold float64
	RetentionInterval              time.Duration
	RetentionPurgeAfter            time.Duration

	// Access & limiting
	TierLimits map[string]TierLimits

	// Webhooks
	WebhookTimeout    time.Duration
	WebhookMaxRetries int
	WebhookRetryDelay time.Duration
}

// Default returns the configuration with every default named in spec §6.
func Default() Config {
	return Config{
		InjectionThreshold:   0.5,
		BurstThreshold:       50,
		BurstWindow:          60 * time.Second,
		CosineDedupThreshold: 0.35,
		MinHashNumPerm:       128,
		MinHashThreshold:     0.95,
		LLMTimeout:           10 * time.Second,
		PIIRedactionRatioMax: 0.50,
		PIIMinVerbatimLen:    4,

		RRFK:               60,
		QualityBoostBase:   0.7,
		QualityBoostWeight: 0.3,
		MaxSearchLimit:     100,
		VectorTopK:         20,
		LexicalTopK:        20,

		QualityWeights: QualityWeights{
			Usefulness:    0.40,
			Popularity:    0.25,
			Freshness:     0.20,
			Contradiction: 0.15,
			VersionCurrent:  0.10,
		},
		QualityHalfLifeDays:            90,
		QualityAggregationInterval:     10 * time.Minute,
		DistillationInterval:           30 * time.Minute,
		DistillationPendingThreshold:   20,
		DistillationConflictThreshold:  5,
		DistillationPreScreenThreshold: 0.2,
		RetentionInterval:              24 * time.Hour,
		RetentionPurgeAfter:            90 * 24 * time.Hour,

		TierLimits: map[string]TierLimits{
			"free":       {ContribPerMin: 10, SearchPerMin: 30},
			"pro":        {ContribPerMin: 60, SearchPerMin: 200},
			"enterprise": {ContribPerMin: 300, SearchPerMin: 1000},
		},

		WebhookTimeout:    10 * time.Second,
		WebhookMaxRetries: 3,
		WebhookRetryDelay: 5 * time.Second,
	}
}
