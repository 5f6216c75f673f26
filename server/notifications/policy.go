package notifications

import "fmt"

// Rule selects the alert for detections of a label.
// An empty Label matches every label.
type Rule struct {
	Label         string    `json:"label"`
	MinConfidence float32   `json:"minConfidence"`
	Type          AlertType `json:"type"`
	Recipient     string    `json:"recipient"`
}

func (r *Rule) Matches(label string, confidence float32) bool {
	return (r.Label == "" || r.Label == label) && confidence >= r.MinConfidence
}

// Policy decides whether (and how) a detection event is alerted.
// The first matching rule wins.
type Policy struct {
	Rules []Rule `json:"rules"`
}

// DefaultPolicy logs every detection event
func DefaultPolicy() Policy {
	return Policy{
		Rules: []Rule{
			{Type: AlertTypeLog, Recipient: "security-desk"},
		},
	}
}

func (p *Policy) Validate() error {
	for i, r := range p.Rules {
		switch r.Type {
		case AlertTypeLog, AlertTypeWebhook, AlertTypeEmail, AlertTypeSMS:
		default:
			return fmt.Errorf("Alert rule %v has invalid type '%v'", i, r.Type)
		}
		if r.MinConfidence < 0 || r.MinConfidence > 1 {
			return fmt.Errorf("Alert rule %v has invalid minConfidence %v", i, r.MinConfidence)
		}
	}
	return nil
}

// Select returns the rule for a detection, or false if the detection is not alerted
func (p *Policy) Select(label string, confidence float32) (Rule, bool) {
	for _, r := range p.Rules {
		if r.Matches(label, confidence) {
			return r, true
		}
	}
	return Rule{}, false
}
