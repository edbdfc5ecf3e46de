package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/mailbox"
)

// Service owns the relay's moving parts: one connection worker per
// configured instance, the caller API the HTTP layer uses, and the reaper.
type Service struct {
	cfg      *config.Config
	store    mailbox.Store
	caller   *Caller
	reaper   *Reaper
	workers  map[string]*Worker
	logger   *logging.Logger
	notifier Notifier
	metrics  Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// InstanceStatus describes one configured instance's connection state.
type InstanceStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// NewService wires a relay service from its dependencies. notifier and
// metrics may be nil; no-op implementations are substituted.
func NewService(cfg *config.Config, store mailbox.Store, dialer Dialer, logger *logging.Logger, notifier Notifier, metrics Metrics) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}

	workers := make(map[string]*Worker, len(cfg.Instances))
	for _, instance := range cfg.Instances {
		workers[instance.ID] = NewWorker(instance, store, dialer, cfg.Relay, logger, notifier, metrics)
	}

	return &Service{
		cfg:      cfg,
		store:    store,
		caller:   NewCaller(store, cfg.Relay, logger, metrics),
		reaper:   NewReaper(store, cfg.Relay, logger, metrics),
		workers:  workers,
		logger:   logger,
		notifier: notifier,
		metrics:  metrics,
	}
}

// Start launches the connection workers and the reaper. It returns
// immediately; the workers reconnect on their own schedule.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for id, worker := range s.workers {
		s.wg.Add(1)
		go func(id string, w *Worker) {
			defer s.wg.Done()
			w.Run(runCtx)
			s.logger.Debug("connection worker stopped", "instance", id)
		}(id, worker)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reaper.Run(runCtx)
	}()

	s.logger.Info("relay service started", "instances", len(s.workers))
}

// Stop cancels the workers and the reaper and waits for them to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("relay service stopped")
}

// Call relays one message to an instance and blocks until it resolves.
func (s *Service) Call(ctx context.Context, instanceID, kind string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if err := s.checkInstance(instanceID); err != nil {
		return nil, err
	}
	return s.caller.Call(ctx, instanceID, kind, payload, timeout)
}

// Subscribe opens a subscription and returns its correlation id handle.
func (s *Service) Subscribe(ctx context.Context, instanceID, kind string, payload json.RawMessage) (string, error) {
	if err := s.checkInstance(instanceID); err != nil {
		return "", err
	}
	return s.caller.Subscribe(ctx, instanceID, kind, payload)
}

// Harvest finalizes a subscription and returns its accumulated events.
func (s *Service) Harvest(ctx context.Context, correlationID string) ([]json.RawMessage, error) {
	return s.caller.Harvest(ctx, correlationID)
}

// Lookup returns the mailbox entry for a correlation id.
func (s *Service) Lookup(ctx context.Context, correlationID string) (*mailbox.Entry, error) {
	return s.caller.Lookup(ctx, correlationID)
}

// Instances reports the connection status of every configured instance,
// in configuration order.
func (s *Service) Instances() []InstanceStatus {
	statuses := make([]InstanceStatus, 0, len(s.cfg.Instances))
	for _, instance := range s.cfg.Instances {
		worker := s.workers[instance.ID]
		statuses = append(statuses, InstanceStatus{
			ID:        instance.ID,
			Name:      instance.Name,
			Connected: worker != nil && worker.Connected(),
		})
	}
	return statuses
}

func (s *Service) checkInstance(instanceID string) error {
	if _, ok := s.workers[instanceID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	return nil
}
