package copytrade

import (
	"log/slog"
	"sync"
)

// ServiceStatus is the wire payload for copytrade.status.
type ServiceStatus struct {
	Paused         bool `json:"paused"`
	SignalsSeen    int  `json:"signalsSeen"`
	SignalsMapped  int  `json:"signalsMapped"`
	SignalsSkipped int  `json:"signalsSkipped"`
	ExecutionsLive int  `json:"executionsLive"`
}

// Service wraps the mapper with a pause switch. While paused, signals are
// still previewed and counted but never promoted to live executions.
type Service struct {
	mu     sync.Mutex
	mapper *Mapper
	paused bool
	status ServiceStatus
	logger *slog.Logger
}

// NewService creates an unpaused copy-trade service.
func NewService() *Service {
	return &Service{
		mapper: NewMapper(),
		logger: slog.With("component", "copytrade"),
	}
}

// Preview maps a signal without committing it to execution. Preview results
// report what would happen; counters track them as seen.
func (s *Service) Preview(signal Signal, settings Settings) MapResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.mapper.MapSignal(signal, settings)
	s.status.SignalsSeen++
	if result.Mapped() {
		s.status.SignalsMapped++
		if !s.paused {
			s.status.ExecutionsLive++
		}
	} else {
		s.status.SignalsSkipped++
	}
	return result
}

// Pause suppresses live execution of mapped signals.
func (s *Service) Pause() ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.logger.Info("Copy trading paused")
	return s.statusLocked()
}

// Resume re-enables live execution.
func (s *Service) Resume() ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.logger.Info("Copy trading resumed")
	return s.statusLocked()
}

// Status reports the current pause state and counters.
func (s *Service) Status() ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Paused reports whether live execution is currently suppressed.
func (s *Service) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Service) statusLocked() ServiceStatus {
	status := s.status
	status.Paused = s.paused
	return status
}
