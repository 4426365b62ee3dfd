package services

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mpreston/gatekeeper/internal/models"
	"github.com/mpreston/gatekeeper/pkg/logger"
)

// AdmissionConfig holds configuration for the admission coordinator
type AdmissionConfig struct {
	DrainPerTick int
}

// AdmissionService is the top-level decision function run once per incoming
// login attempt. Checks run cheapest-first: blacklist, then network rate
// limit, then identity verification, then the queue. Every path ends with
// the connection either queued for release or rejected and closed; nothing
// is left dangling.
//
// Admit is safe under concurrent invocation. The only potentially slow step,
// the authority lookup inside Verify, runs on the caller's own goroutine and
// never delays another attempt's fast-path checks.
type AdmissionService struct {
	config      AdmissionConfig
	rateLimiter *RateLimitService
	verifier    *VerifyService
	queue       *QueueService
	loadMonitor *LoadMonitor
	security    *logger.SecurityLogger
	logger      *slog.Logger

	attempts atomic.Uint64
	queued   atomic.Uint64
	released atomic.Uint64

	rejectedMu sync.Mutex
	rejected   map[models.RejectReason]uint64
}

// NewAdmissionService creates a new AdmissionService
func NewAdmissionService(
	config AdmissionConfig,
	rateLimiter *RateLimitService,
	verifier *VerifyService,
	queue *QueueService,
	loadMonitor *LoadMonitor,
	security *logger.SecurityLogger,
	log *slog.Logger,
) *AdmissionService {
	return &AdmissionService{
		config:      config,
		rateLimiter: rateLimiter,
		verifier:    verifier,
		queue:       queue,
		loadMonitor: loadMonitor,
		security:    security,
		logger:      log,
		rejected:    make(map[models.RejectReason]uint64),
	}
}

// Admit runs one attempt through the admission state machine. When the
// decision is a rejection the event has already been closed (with a reason
// message unless load suppression is active); when it is queued, the event
// will be released by a later drain tick.
func (s *AdmissionService) Admit(ctx context.Context, attempt models.Attempt) models.Decision {
	s.loadMonitor.RecordAttempt()
	s.attempts.Add(1)

	ip := hostOnly(attempt.Event.RemoteAddr())
	ignored := s.rateLimiter.IsIgnored(ip)

	if !ignored {
		if s.rateLimiter.IsBlacklisted(ip) {
			return s.reject(attempt, ip, models.ReasonBlacklisted, 0)
		}

		if s.rateLimiter.RecordOffense(ip) {
			// This attempt is the one that crossed the offense threshold.
			return s.reject(attempt, ip, models.ReasonBlacklisted, 0)
		}

		if s.rateLimiter.IsBlocked(ip) {
			remaining := s.rateLimiter.RemainingBlockSeconds(ip)
			return s.reject(attempt, ip, models.ReasonRateLimited, remaining)
		}
		s.rateLimiter.ArmBlock(ip)
	}

	switch verdict := s.verifier.Verify(ctx, attempt.Name, attempt.ProfileID); verdict {
	case VerdictAccept:
	case VerdictUnavailable:
		// Optimistic policy: a flaky authority must not lock players out.
		// The attempt is queued without touching either durable set.
		s.logger.Info("queueing unverified attempt, authority unavailable",
			slog.String("name", attempt.Name),
			slog.String("ip_address", ip))
	case VerdictMalformed:
		return s.reject(attempt, ip, models.ReasonMalformedName, 0)
	case VerdictBot:
		return s.reject(attempt, ip, models.ReasonBotDetected, 0)
	case VerdictMismatch:
		return s.reject(attempt, ip, models.ReasonProfileMismatch, 0)
	case VerdictBudgetExhausted:
		return s.reject(attempt, ip, models.ReasonVerificationLimit, 0)
	}

	if _, err := s.queue.Enqueue(attempt); err != nil {
		return s.reject(attempt, ip, models.ReasonQueueFull, 0)
	}

	s.queued.Add(1)
	return models.Decision{Queued: true}
}

// DrainTick releases up to the configured number of queued connections, in
// FIFO order. Called only by the periodic scheduler. Returns how many were
// released downstream.
func (s *AdmissionService) DrainTick() int {
	released := 0
	for _, pending := range s.queue.Drain(s.config.DrainPerTick) {
		if err := pending.Event.Release(pending.Name); err != nil {
			s.logger.Warn("failed to release queued connection",
				slog.Uint64("seq", pending.Seq),
				slog.String("name", pending.Name),
				slog.Any("error", err))
			continue
		}
		released++
		s.released.Add(1)
	}
	return released
}

// Stats is a point-in-time snapshot of admission activity.
type Stats struct {
	Attempts          uint64            `json:"attempts"`
	Queued            uint64            `json:"queued"`
	Released          uint64            `json:"released"`
	Rejected          map[string]uint64 `json:"rejected"`
	QueueDepth        int               `json:"queue_depth"`
	AttemptsPerSecond int64             `json:"attempts_per_second"`
	Suppressed        bool              `json:"suppressed"`
	BudgetRemaining   int               `json:"verification_budget_remaining"`
}

// Snapshot returns current counters for the status API.
func (s *AdmissionService) Snapshot() Stats {
	s.rejectedMu.Lock()
	rejected := make(map[string]uint64, len(s.rejected))
	for reason, count := range s.rejected {
		rejected[string(reason)] = count
	}
	s.rejectedMu.Unlock()

	return Stats{
		Attempts:          s.attempts.Load(),
		Queued:            s.queued.Load(),
		Released:          s.released.Load(),
		Rejected:          rejected,
		QueueDepth:        s.queue.Depth(),
		AttemptsPerSecond: s.loadMonitor.Rate(),
		Suppressed:        s.loadMonitor.Suppressed(),
		BudgetRemaining:   s.verifier.BudgetRemaining(),
	}
}

func (s *AdmissionService) reject(attempt models.Attempt, ip string, reason models.RejectReason, remaining int) models.Decision {
	s.rejectedMu.Lock()
	s.rejected[reason]++
	s.rejectedMu.Unlock()

	s.security.LogRejection(logger.SecurityEvent{
		EventType: "attempt_rejected",
		Name:      attempt.Name,
		IPAddress: ip,
		Reason:    string(reason),
	})

	message := ""
	if !s.loadMonitor.Suppressed() {
		message = models.ReasonMessage(reason, remaining)
	}
	attempt.Event.Reject(message)

	return models.Decision{Reason: reason, RemainingSeconds: remaining}
}

// hostOnly strips the port from an "ip:port" remote address. Addresses that
// do not parse are used as-is.
func hostOnly(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
