package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Alert is an operational event that must reach a human, never an end user.
type Alert struct {
	Kind       string            `json:"kind"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}

type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter writes the alert at error level and counts consistency faults.
type LogAlerter struct {
	Log     Logger
	Metrics *Metrics
}

func (l *LogAlerter) Alert(_ context.Context, a Alert) error {
	kv := make([]interface{}, 0, 2+len(a.Attributes)*2)
	kv = append(kv, "alert", a.Kind)
	for k, v := range a.Attributes {
		kv = append(kv, k, v)
	}
	l.Log.With(kv...).Errorf("ALERT %s", a.Message)
	if l.Metrics != nil && a.Kind == AlertConsistencyFault {
		l.Metrics.ConsistencyFaults.Inc()
	}
	return nil
}

const AlertConsistencyFault = "consistency_fault"

// NATSAlerter publishes alerts as JSON on a subject.
type NATSAlerter struct {
	conn    *nats.Conn
	subject string
}

func NewNATSAlerter(url, subject string) (*NATSAlerter, error) {
	conn, err := nats.Connect(url, nats.Name("club-membership-alerts"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSAlerter{conn: conn, subject: subject}, nil
}

func (n *NATSAlerter) Alert(_ context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

func (n *NATSAlerter) Close() {
	n.conn.Close()
}

// MultiAlerter fans out to every alerter and returns the first error.
type MultiAlerter []Alerter

func (m MultiAlerter) Alert(ctx context.Context, a Alert) error {
	var first error
	for _, al := range m {
		if err := al.Alert(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}
