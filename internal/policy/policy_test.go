package policy_test

import (
	"testing"

	"taskforge/internal/domain"
	"taskforge/internal/policy"
)

func TestDefaultGateAllowsEverything(t *testing.T) {
	g := policy.Gate{MinROI: 0, MaxRisk: 100, MinAutomation: 0}
	ok, _ := g.Check(domain.Scores{ROI: 0, Automation: 0, Risk: 100})
	if !ok {
		t.Fatalf("permissive gate rejected scores")
	}
}

func TestGateRejectsPerThreshold(t *testing.T) {
	cases := []struct {
		name   string
		gate   policy.Gate
		scores domain.Scores
		roiOK  bool
		riskOK bool
		autoOK bool
	}{
		{"low roi", policy.Gate{MinROI: 60, MaxRisk: 100}, domain.Scores{ROI: 50, Automation: 80, Risk: 10}, false, true, true},
		{"high risk", policy.Gate{MaxRisk: 40}, domain.Scores{ROI: 80, Automation: 80, Risk: 70}, true, false, true},
		{"low automation", policy.Gate{MaxRisk: 100, MinAutomation: 70}, domain.Scores{ROI: 80, Automation: 50, Risk: 10}, true, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, d := tc.gate.Check(tc.scores)
			if ok {
				t.Fatalf("expected rejection")
			}
			if d.ROIOK != tc.roiOK || d.RiskOK != tc.riskOK || d.AutomationOK != tc.autoOK {
				t.Fatalf("details = %+v", d)
			}
		})
	}
}

func TestGateBoundaryIsInclusive(t *testing.T) {
	g := policy.Gate{MinROI: 50, MaxRisk: 50, MinAutomation: 50}
	ok, _ := g.Check(domain.Scores{ROI: 50, Automation: 50, Risk: 50})
	if !ok {
		t.Fatalf("boundary scores should pass")
	}
}
