package store

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

type instrumented struct {
	Store
	backend string
}

// WithMetrics wraps s so every Load and Persist records its duration and
// failures, labelled with backend.
func WithMetrics(s Store, backend string) Store {
	if backend == "" {
		backend = "json"
	}
	return &instrumented{Store: s, backend: backend}
}

func (s *instrumented) Load() (*Document, error) {
	start := time.Now()
	doc, err := s.Store.Load()
	s.observe("load", start, err)
	return doc, err
}

func (s *instrumented) Persist(doc *Document) error {
	start := time.Now()
	err := s.Store.Persist(doc)
	s.observe("persist", start, err)
	return err
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	metrics.GetOrCreateHistogram(
		fmt.Sprintf(`jsondb_storage_duration_seconds{backend=%q,op=%q}`, s.backend, op),
	).UpdateDuration(start)
	if err != nil {
		metrics.GetOrCreateCounter(
			fmt.Sprintf(`jsondb_storage_errors_total{backend=%q,op=%q}`, s.backend, op),
		).Inc()
	}
}
