// Package heuristic evaluates the fixed threshold rules against the windowed
// features of a single flow.
package heuristic

import (
	"math"

	"FlowSentry/internal/model"
)

// Rule thresholds. These are detection contracts, not tuning knobs.
const (
	PortScanUniquePorts     = 20
	BruteForceConnThreshold = 50
	ExfilBytesThreshold     = 1_000_000
	ExfilRatio              = 10.0
	BeaconCVThreshold       = 0.2
	BeaconMinCount          = 5
)

// Rule inspects one feature vector and reports at most one detection.
type Rule interface {
	Reason() string
	Evaluate(v model.FeatureVector) (model.Detection, bool)
}

// Rules returns the built-in rules in evaluation order.
func Rules() []Rule {
	return []Rule{portScanRule{}, bruteForceRule{}, exfiltrationRule{}, beaconingRule{}}
}

var defaultRules = Rules()

// Evaluate applies every built-in rule to v. The returned detections follow
// rule order and are never deduplicated.
func Evaluate(v model.FeatureVector) []model.Detection {
	var dets []model.Detection
	for _, r := range defaultRules {
		if d, ok := r.Evaluate(v); ok {
			d.RowID = v.RowID
			dets = append(dets, d)
		}
	}
	return dets
}

type portScanRule struct{}

func (portScanRule) Reason() string { return model.ReasonPortScan }

func (portScanRule) Evaluate(v model.FeatureVector) (model.Detection, bool) {
	up := v.GetOr(model.FeatUniqueDstPorts, 0)
	if up < PortScanUniquePorts {
		return model.Detection{}, false
	}
	return model.Detection{
		Reason:     model.ReasonPortScan,
		Score:      math.Min(1.0, up/(PortScanUniquePorts*2)),
		ClassGuess: model.ClassPortScan,
		Explain:    map[string]any{"unique_ports": up},
	}, true
}

type bruteForceRule struct{}

func (bruteForceRule) Reason() string { return model.ReasonBruteForce }

func (bruteForceRule) Evaluate(v model.FeatureVector) (model.Detection, bool) {
	conns := v.GetOr(model.FeatConnectionsSameDst, 0)
	if conns < BruteForceConnThreshold {
		return model.Detection{}, false
	}
	return model.Detection{
		Reason:     model.ReasonBruteForce,
		Score:      math.Min(1.0, conns/(BruteForceConnThreshold*2)),
		ClassGuess: model.ClassBruteForce,
		Explain:    map[string]any{"connections_to_same_dst": conns},
	}, true
}

type exfiltrationRule struct{}

func (exfiltrationRule) Reason() string { return model.ReasonExfiltration }

func (exfiltrationRule) Evaluate(v model.FeatureVector) (model.Detection, bool) {
	outb := v.GetOr(model.FeatOutboundBytes, 0)
	inb := v.GetOr(model.FeatInboundBytes, 0)
	if outb < ExfilBytesThreshold && outb/(inb+1.0) < ExfilRatio {
		return model.Detection{}, false
	}
	return model.Detection{
		Reason:     model.ReasonExfiltration,
		Score:      1.0,
		ClassGuess: model.ClassExfiltration,
		Explain:    map[string]any{"outbound_bytes": outb, "inbound_bytes": inb},
	}, true
}

type beaconingRule struct{}

func (beaconingRule) Reason() string { return model.ReasonBeaconing }

// An absent beacon_cv_window column counts as maximal irregularity.
func (beaconingRule) Evaluate(v model.FeatureVector) (model.Detection, bool) {
	cv := v.GetOr(model.FeatBeaconCV, 1.0)
	count := v.GetOr(model.FeatRecentConnCount, 0)
	if cv > BeaconCVThreshold || count < BeaconMinCount {
		return model.Detection{}, false
	}
	score := (BeaconMinCount / math.Max(1.0, count)) * (1.0 - cv)
	return model.Detection{
		Reason:     model.ReasonBeaconing,
		Score:      math.Max(0, math.Min(1.0, score)),
		ClassGuess: model.ClassBeaconing,
		Explain:    map[string]any{"beacon_cv": cv, "recent_count": count},
	}, true
}
