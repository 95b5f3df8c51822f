package store

import (
	"errors"
	"fmt"
)

// AdjustmentKind enumerates the closed set of configuration changes the
// system knows how to apply. Variant configs and proposal deltas both use
// this type; anything outside the set is rejected at validation time.
type AdjustmentKind string

const (
	AdjustTimingShift         AdjustmentKind = "timing_shift"
	AdjustFormatPriority      AdjustmentKind = "format_priority"
	AdjustConfidenceThreshold AdjustmentKind = "confidence_threshold"
)

// TimingShift moves the primary posting slot for a platform.
type TimingShift struct {
	Platform string `json:"platform"`
	Hour     int    `json:"hour"` // 0-23, UTC
}

// FormatPriority changes the scheduling weight of a content format.
type FormatPriority struct {
	Format      string  `json:"format"`
	WeightDelta float64 `json:"weight_delta"`
}

// ConfidenceThreshold changes a named confidence gate, e.g. the minimum
// insight confidence required before content is generated for it.
type ConfidenceThreshold struct {
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
}

// Adjustment is a tagged union over the known adjustment kinds. Exactly one
// payload matching Kind must be set.
type Adjustment struct {
	Kind                AdjustmentKind       `json:"kind"`
	TimingShift         *TimingShift         `json:"timing_shift,omitempty"`
	FormatPriority      *FormatPriority      `json:"format_priority,omitempty"`
	ConfidenceThreshold *ConfidenceThreshold `json:"confidence_threshold,omitempty"`
}

var errAdjustmentPayload = errors.New("adjustment payload does not match kind")

// Validate checks the tag/payload pairing and payload ranges.
func (a Adjustment) Validate() error {
	switch a.Kind {
	case AdjustTimingShift:
		if a.TimingShift == nil || a.FormatPriority != nil || a.ConfidenceThreshold != nil {
			return errAdjustmentPayload
		}
		if a.TimingShift.Hour < 0 || a.TimingShift.Hour > 23 {
			return fmt.Errorf("timing shift hour %d out of range", a.TimingShift.Hour)
		}
	case AdjustFormatPriority:
		if a.FormatPriority == nil || a.TimingShift != nil || a.ConfidenceThreshold != nil {
			return errAdjustmentPayload
		}
		if a.FormatPriority.Format == "" {
			return errors.New("format priority requires a format")
		}
	case AdjustConfidenceThreshold:
		if a.ConfidenceThreshold == nil || a.TimingShift != nil || a.FormatPriority != nil {
			return errAdjustmentPayload
		}
		if a.ConfidenceThreshold.Value < 0 || a.ConfidenceThreshold.Value > 1 {
			return fmt.Errorf("confidence threshold %.2f out of range", a.ConfidenceThreshold.Value)
		}
	default:
		return fmt.Errorf("unknown adjustment kind %q", a.Kind)
	}
	return nil
}

// Parameter returns the concrete target parameter this adjustment writes to.
// Two proposals with the same parameter are mutually exclusive while pending.
func (a Adjustment) Parameter() string {
	switch a.Kind {
	case AdjustTimingShift:
		return "posting_hour/" + a.TimingShift.Platform
	case AdjustFormatPriority:
		return "format_weight/" + a.FormatPriority.Format
	case AdjustConfidenceThreshold:
		return a.ConfidenceThreshold.Parameter
	}
	return ""
}

// Category returns the proposal category an adjustment of this kind falls in.
func (a Adjustment) Category() string {
	switch a.Kind {
	case AdjustTimingShift:
		return "timing"
	case AdjustFormatPriority:
		return "format-priority"
	case AdjustConfidenceThreshold:
		return "confidence-threshold"
	}
	return ""
}

func (a Adjustment) String() string {
	switch a.Kind {
	case AdjustTimingShift:
		return fmt.Sprintf("shift %s primary posting slot to %02d:00 UTC", a.TimingShift.Platform, a.TimingShift.Hour)
	case AdjustFormatPriority:
		return fmt.Sprintf("adjust %s format weight by %+.2f", a.FormatPriority.Format, a.FormatPriority.WeightDelta)
	case AdjustConfidenceThreshold:
		return fmt.Sprintf("set %s to %.2f", a.ConfidenceThreshold.Parameter, a.ConfidenceThreshold.Value)
	}
	return string(a.Kind)
}
