package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/cyclopcam/logs"
)

type AlertType string

const (
	AlertTypeLog     AlertType = "log"
	AlertTypeWebhook AlertType = "webhook"
	AlertTypeEmail   AlertType = "email"
	AlertTypeSMS     AlertType = "sms"
)

// Alert is a request to notify somebody about a detection
// SYNC-ALERT-JSON
type Alert struct {
	DetectionID int64     `json:"detectionID"`
	CameraID    int64     `json:"cameraID"`
	Type        AlertType `json:"type"`
	Recipient   string    `json:"recipient"`
	Label       string    `json:"label"`
	Confidence  float32   `json:"confidence"`
	Time        time.Time `json:"time"`
	FramePath   string    `json:"framePath,omitempty"`
}

// Describe produces a one line human readable summary of the alert
func (a *Alert) Describe() string {
	return fmt.Sprintf("%v detected on camera %v with confidence %.2f", a.Label, a.CameraID, a.Confidence)
}

// Ack is the receipt for a delivered alert
type Ack struct {
	Recipient string
	Message   string
}

// Dispatcher delivers alerts.
// Send is called at most once per detection event, so implementations must not assume retries.
type Dispatcher interface {
	Send(ctx context.Context, alert Alert) (Ack, error)
}

// LogDispatcher writes alerts to the log and always succeeds
type LogDispatcher struct {
	Log logs.Log
}

func NewLogDispatcher(log logs.Log) *LogDispatcher {
	return &LogDispatcher{
		Log: logs.NewPrefixLogger(log, "Alert"),
	}
}

func (d *LogDispatcher) Send(ctx context.Context, alert Alert) (Ack, error) {
	d.Log.Infof("To %v: %v (detection %v)", alert.Recipient, alert.Describe(), alert.DetectionID)
	return Ack{Recipient: alert.Recipient, Message: "logged"}, nil
}

// Router sends each alert to the dispatcher registered for its type
type Router struct {
	Routes map[AlertType]Dispatcher
}

func NewRouter() *Router {
	return &Router{
		Routes: map[AlertType]Dispatcher{},
	}
}

func (r *Router) Add(alertType AlertType, d Dispatcher) {
	r.Routes[alertType] = d
}

func (r *Router) Send(ctx context.Context, alert Alert) (Ack, error) {
	d := r.Routes[alert.Type]
	if d == nil {
		return Ack{}, fmt.Errorf("No dispatcher for alert type '%v'", alert.Type)
	}
	return d.Send(ctx, alert)
}
