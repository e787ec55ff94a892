// Package findings accumulates the two report streams a batch run produces:
// anomalies (tamper and threat indicators) and logical issues (consistency
// observations). Both streams are append-only. Messages arrive fully
// formatted and are kept in arrival order, duplicates included.
package findings

import "sync"

// Sink collects findings for one batch run. A fresh sink is created per run
// so results never leak between batches.
type Sink struct {
	mu        sync.Mutex
	anomalies []string
	issues    []string
}

func NewSink() *Sink {
	return &Sink{}
}

// AddAnomaly appends a formatted anomaly message.
func (s *Sink) AddAnomaly(msg string) {
	s.mu.Lock()
	s.anomalies = append(s.anomalies, msg)
	s.mu.Unlock()
}

// AddIssue appends a formatted logical issue message.
func (s *Sink) AddIssue(msg string) {
	s.mu.Lock()
	s.issues = append(s.issues, msg)
	s.mu.Unlock()
}

// Anomalies returns a snapshot of the anomaly stream in arrival order.
func (s *Sink) Anomalies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.anomalies))
	copy(out, s.anomalies)
	return out
}

// LogicalIssues returns a snapshot of the logical issue stream in arrival
// order.
func (s *Sink) LogicalIssues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.issues))
	copy(out, s.issues)
	return out
}
