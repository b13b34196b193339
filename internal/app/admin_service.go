package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"renewal_notifier/internal/domain/notification"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")
var ErrRunInProgress = fmt.Errorf("a renewal run triggered by an admin is already in progress")
var ErrNoRunYet = fmt.Errorf("no renewal run has finished since startup")

// Runner executes one renewal invocation.
type Runner interface {
	Run(ctx context.Context) *BatchReport
}

// AdminService backs the operator commands. It remembers the last finished run and
// lets the admin trigger a run or inspect a subscription's ledger history.
type AdminService struct {
	runner          Runner
	ledger          notification.Ledger
	adminTelegramID int64

	running atomic.Bool
	mu      sync.RWMutex
	lastRun *BatchReport
}

func NewAdminService(runner Runner, ledger notification.Ledger, adminID int64) *AdminService {
	return &AdminService{
		runner:          runner,
		ledger:          ledger,
		adminTelegramID: adminID,
	}
}

// ObserveBatch stores every finished run, whoever triggered it.
func (s *AdminService) ObserveBatch(_ context.Context, report *BatchReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = report
}

func (s *AdminService) IsAdmin(telegramID int64) bool {
	return s.adminTelegramID != 0 && telegramID == s.adminTelegramID
}

// LastRun returns the report of the most recent finished run.
func (s *AdminService) LastRun(performingAdminID int64) (*BatchReport, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRun == nil {
		return nil, ErrNoRunYet
	}
	return s.lastRun, nil
}

// TriggerRun runs an invocation now. Only one admin-triggered run may be in flight.
func (s *AdminService) TriggerRun(ctx context.Context, performingAdminID int64) (*BatchReport, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	return s.runner.Run(ctx), nil
}

// LedgerHistory lists the recorded renewal cycles of a subscription.
func (s *AdminService) LedgerHistory(ctx context.Context, performingAdminID int64, subscriptionID string) ([]notification.Record, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscription id is required")
	}

	history, err := s.ledger.History(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger history: %w", err)
	}
	return history, nil
}
