package store_test

import (
	"testing"

	"github.com/tuneloop/tuneloop/internal/store"
)

func TestAdjustment_Validate(t *testing.T) {
	tests := []struct {
		name    string
		adj     store.Adjustment
		wantErr bool
	}{
		{
			name: "valid timing shift",
			adj: store.Adjustment{
				Kind:        store.AdjustTimingShift,
				TimingShift: &store.TimingShift{Platform: "twitter", Hour: 19},
			},
		},
		{
			name: "timing hour out of range",
			adj: store.Adjustment{
				Kind:        store.AdjustTimingShift,
				TimingShift: &store.TimingShift{Platform: "twitter", Hour: 24},
			},
			wantErr: true,
		},
		{
			name: "valid format priority",
			adj: store.Adjustment{
				Kind:           store.AdjustFormatPriority,
				FormatPriority: &store.FormatPriority{Format: "video", WeightDelta: 0.1},
			},
		},
		{
			name: "format priority without format",
			adj: store.Adjustment{
				Kind:           store.AdjustFormatPriority,
				FormatPriority: &store.FormatPriority{WeightDelta: 0.1},
			},
			wantErr: true,
		},
		{
			name: "valid confidence threshold",
			adj: store.Adjustment{
				Kind:                store.AdjustConfidenceThreshold,
				ConfidenceThreshold: &store.ConfidenceThreshold{Parameter: "min_insight_confidence", Value: 0.7},
			},
		},
		{
			name: "confidence threshold out of range",
			adj: store.Adjustment{
				Kind:                store.AdjustConfidenceThreshold,
				ConfidenceThreshold: &store.ConfidenceThreshold{Parameter: "min_insight_confidence", Value: 1.5},
			},
			wantErr: true,
		},
		{
			name: "payload mismatch",
			adj: store.Adjustment{
				Kind:           store.AdjustTimingShift,
				FormatPriority: &store.FormatPriority{Format: "video", WeightDelta: 0.1},
			},
			wantErr: true,
		},
		{
			name: "two payloads set",
			adj: store.Adjustment{
				Kind:           store.AdjustTimingShift,
				TimingShift:    &store.TimingShift{Platform: "twitter", Hour: 9},
				FormatPriority: &store.FormatPriority{Format: "video", WeightDelta: 0.1},
			},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			adj:     store.Adjustment{Kind: "reboot"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.adj.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAdjustment_Parameter(t *testing.T) {
	tests := []struct {
		adj  store.Adjustment
		want string
	}{
		{
			adj: store.Adjustment{
				Kind:        store.AdjustTimingShift,
				TimingShift: &store.TimingShift{Platform: "twitter", Hour: 19},
			},
			want: "posting_hour/twitter",
		},
		{
			adj: store.Adjustment{
				Kind:           store.AdjustFormatPriority,
				FormatPriority: &store.FormatPriority{Format: "video", WeightDelta: 0.1},
			},
			want: "format_weight/video",
		},
		{
			adj: store.Adjustment{
				Kind:                store.AdjustConfidenceThreshold,
				ConfidenceThreshold: &store.ConfidenceThreshold{Parameter: "min_insight_confidence", Value: 0.7},
			},
			want: "min_insight_confidence",
		},
	}

	for _, tt := range tests {
		if got := tt.adj.Parameter(); got != tt.want {
			t.Errorf("Parameter() = %s, want %s", got, tt.want)
		}
	}
}

func TestVariant_RateAndSuccesses(t *testing.T) {
	v := store.Variant{
		Impressions: 200,
		Clicks:      40,
		Engagements: 30,
		Conversions: 10,
	}

	if got := v.Successes(store.MetricClick); got != 40 {
		t.Errorf("Successes(click) = %d, want 40", got)
	}
	if got := v.Successes(store.MetricEngagement); got != 30 {
		t.Errorf("Successes(engagement) = %d, want 30", got)
	}
	if got := v.Rate(store.MetricConversion); got != 0.05 {
		t.Errorf("Rate(conversion) = %f, want 0.05", got)
	}

	empty := store.Variant{}
	if got := empty.Rate(store.MetricEngagement); got != 0 {
		t.Errorf("Rate with zero impressions = %f, want 0", got)
	}
}

func TestPerformanceRecord_EngagementRate(t *testing.T) {
	rec := store.PerformanceRecord{Views: 1000, Likes: 50, Comments: 30, Shares: 20}
	if got := rec.EngagementRate(); got != 0.1 {
		t.Errorf("EngagementRate() = %f, want 0.1", got)
	}

	zero := store.PerformanceRecord{}
	if got := zero.EngagementRate(); got != 0 {
		t.Errorf("EngagementRate() with zero views = %f, want 0", got)
	}
}
