package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Simplified E-model constants. The jitter term is a flat linear
// approximation inherited from the historical scorer; downstream alert
// thresholds were tuned against it, so it must not be replaced with the
// ITU coefficient.
const (
	mosBaseRating        = 93.2
	mosDelayThresholdMs  = 177.3
	mosPacketLossBpl     = 25.0
	mosEquipmentIe       = 0.0
	mosJitterCoefficient = 0.2
)

// ComputeMOS estimates a Mean Opinion Score from network impairments using
// the simplified E-model. Inputs are clamped at zero; the result is in
// [1, 4.5]. Round before storing; compare thresholds against the raw value.
func ComputeMOS(jitterMs, packetLossPct, rttMs float64) float64 {
	jitterMs = math.Max(jitterMs, 0)
	packetLossPct = math.Max(packetLossPct, 0)
	rttMs = math.Max(rttMs, 0)

	d := rttMs / 2
	id := 0.024 * d
	if d > mosDelayThresholdMs {
		id += 0.11 * (d - mosDelayThresholdMs)
	}

	ieEff := mosEquipmentIe + (95-mosEquipmentIe)*packetLossPct/(packetLossPct+mosPacketLossBpl)
	jitterPenalty := jitterMs * mosJitterCoefficient

	r := mosBaseRating - id - ieEff - jitterPenalty
	r = math.Min(math.Max(r, 0), 100)

	switch {
	case r < 0:
		return 1
	case r > 100:
		return 4.5
	default:
		return 1 + 0.035*r + r*(r-60)*(100-r)*7e-6
	}
}

// RoundMOS rounds a score to one decimal, the precision stored with samples.
func RoundMOS(mos float64) float64 {
	return math.Round(mos*10) / 10
}

// QualityStatus buckets a MOS score for display and alerting.
type QualityStatus string

const (
	QualityExcellent QualityStatus = "excellent"
	QualityGood      QualityStatus = "good"
	QualityFair      QualityStatus = "fair"
	QualityPoor      QualityStatus = "poor"
	QualityBad       QualityStatus = "bad"
)

func QualityStatusForMOS(mos float64) QualityStatus {
	switch {
	case mos >= 4.0:
		return QualityExcellent
	case mos >= 3.5:
		return QualityGood
	case mos >= 3.0:
		return QualityFair
	case mos >= 2.5:
		return QualityPoor
	default:
		return QualityBad
	}
}

// QualitySample is one RTP/WebRTC statistics report for a call.
type QualitySample struct {
	ID            string
	CallID        string
	CarrierID     string
	TrunkID       string
	AccountID     string
	JitterMs      float64
	PacketLossPct float64
	RTTMs         float64
	PacketsSent   int64
	PacketsLost   int64
	MOS           float64
	Status        QualityStatus
	CreatedAt     time.Time
}

func (s *QualitySample) Validate() error {
	if s.CallID == "" {
		return fmt.Errorf("%w: call id is required", ErrValidation)
	}
	if s.TrunkID == "" {
		return fmt.Errorf("%w: trunk id is required", ErrValidation)
	}
	return nil
}

// QualityAggregate is the rolling per-call rollup maintained incrementally
// alongside the sample stream.
type QualityAggregate struct {
	CallID      string
	CarrierID   string
	TrunkID     string
	SampleCount int64
	MinJitterMs float64
	MaxJitterMs float64
	AvgJitterMs float64
	MinRTTMs    float64
	MaxRTTMs    float64
	AvgRTTMs    float64
	AvgMOS      float64
	PacketsSent int64
	PacketsLost int64
	UpdatedAt   time.Time
}

// AlertSeverity ranks quality alerts.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

func (s AlertSeverity) IsValid() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// AlertMetric names the telemetry dimension that breached a threshold.
type AlertMetric string

const (
	MetricJitter     AlertMetric = "jitter"
	MetricPacketLoss AlertMetric = "packet_loss"
	MetricRTT        AlertMetric = "rtt"
	MetricMOS        AlertMetric = "mos"
)

// QualityAlert is raised when a sample crosses a threshold. Append-only;
// acknowledgement is the only mutation and is idempotent.
type QualityAlert struct {
	ID             string
	AccountID      string
	CarrierID      string
	TrunkID        string
	CallID         string
	Metric         AlertMetric
	Severity       AlertSeverity
	Threshold      float64
	Observed       float64
	Message        string
	AcknowledgedAt *time.Time
	AcknowledgedBy string
	CreatedAt      time.Time
}

// Thresholds holds warning/critical bounds per metric. MOS direction is
// inverted: values below the bound trigger.
type Thresholds struct {
	JitterWarningMs  float64
	JitterCriticalMs float64
	LossWarningPct   float64
	LossCriticalPct  float64
	RTTWarningMs     float64
	RTTCriticalMs    float64
	MOSWarning       float64
	MOSCritical      float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		JitterWarningMs:  30,
		JitterCriticalMs: 50,
		LossWarningPct:   1,
		LossCriticalPct:  3,
		RTTWarningMs:     200,
		RTTCriticalMs:    400,
		MOSWarning:       3.5,
		MOSCritical:      3.0,
	}
}

// Breach is a single threshold violation within one sample.
type Breach struct {
	Metric    AlertMetric
	Severity  AlertSeverity
	Threshold float64
	Observed  float64
}

// Evaluate compares one sample against the thresholds and returns at most
// one breach per metric; critical takes precedence over warning. The MOS
// passed in must be the unrounded score.
func (t Thresholds) Evaluate(jitterMs, packetLossPct, rttMs, mos float64) []Breach {
	breaches := make([]Breach, 0, 4)

	if b, ok := breachAbove(MetricJitter, jitterMs, t.JitterWarningMs, t.JitterCriticalMs); ok {
		breaches = append(breaches, b)
	}
	if b, ok := breachAbove(MetricPacketLoss, packetLossPct, t.LossWarningPct, t.LossCriticalPct); ok {
		breaches = append(breaches, b)
	}
	if b, ok := breachAbove(MetricRTT, rttMs, t.RTTWarningMs, t.RTTCriticalMs); ok {
		breaches = append(breaches, b)
	}
	if mos < t.MOSCritical {
		breaches = append(breaches, Breach{Metric: MetricMOS, Severity: SeverityCritical, Threshold: t.MOSCritical, Observed: mos})
	} else if mos < t.MOSWarning {
		breaches = append(breaches, Breach{Metric: MetricMOS, Severity: SeverityWarning, Threshold: t.MOSWarning, Observed: mos})
	}

	return breaches
}

func breachAbove(metric AlertMetric, observed, warning, critical float64) (Breach, bool) {
	switch {
	case observed > critical:
		return Breach{Metric: metric, Severity: SeverityCritical, Threshold: critical, Observed: observed}, true
	case observed > warning:
		return Breach{Metric: metric, Severity: SeverityWarning, Threshold: warning, Observed: observed}, true
	}
	return Breach{}, false
}

// Message renders the operator-facing alert text.
func (b Breach) Message() string {
	direction := "exceeded"
	if b.Metric == MetricMOS {
		direction = "dropped below"
	}
	return fmt.Sprintf("%s %s %s threshold: observed %.2f, threshold %.2f",
		strings.ReplaceAll(string(b.Metric), "_", " "), direction, b.Severity, b.Observed, b.Threshold)
}
