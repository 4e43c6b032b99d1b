package policy

import "taskforge/internal/domain"

// Gate is the score-threshold predicate deciding whether a classified
// opportunity may become a persisted blueprint.
type Gate struct {
	MinROI        float64
	MaxRisk       float64
	MinAutomation float64
}

// Details explains each threshold outcome for event payloads.
type Details struct {
	ROIOK        bool    `json:"roi_ok"`
	RiskOK       bool    `json:"risk_ok"`
	AutomationOK bool    `json:"auto_ok"`
	MinROI       float64 `json:"min_roi_score"`
	MaxRisk      float64 `json:"max_risk_score"`
	MinAuto      float64 `json:"min_automation_score"`
}

// Check returns whether the scores clear every threshold.
func (g Gate) Check(s domain.Scores) (bool, Details) {
	d := Details{
		ROIOK:        s.ROI >= g.MinROI,
		RiskOK:       s.Risk <= g.MaxRisk,
		AutomationOK: s.Automation >= g.MinAutomation,
		MinROI:       g.MinROI,
		MaxRisk:      g.MaxRisk,
		MinAuto:      g.MinAutomation,
	}
	return d.ROIOK && d.RiskOK && d.AutomationOK, d
}
