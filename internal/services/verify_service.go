package services

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mpreston/gatekeeper/internal/authority"
	"github.com/mpreston/gatekeeper/internal/models"
	"github.com/mpreston/gatekeeper/pkg/logger"
)

// Verdict is the outcome of verifying one claimed identity.
type Verdict int

const (
	// VerdictAccept: the identity checked out, or was already known good.
	VerdictAccept Verdict = iota
	// VerdictMalformed: the name fails the format check; never retried.
	VerdictMalformed
	// VerdictBot: the authority affirmed the identity does not exist, or it
	// was already known bad.
	VerdictBot
	// VerdictMismatch: confirmed profile id differs from the claimed one.
	VerdictMismatch
	// VerdictBudgetExhausted: the per-minute verification budget is spent;
	// retryable next window, recorded in neither durable set.
	VerdictBudgetExhausted
	// VerdictUnavailable: transient authority failure. Resolved
	// optimistically by the coordinator: the attempt is queued anyway.
	VerdictUnavailable
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,16}$`)

// NameSet is an append-only durable set of case-normalized names.
// Implemented by repositories.NameSetRepository.
type NameSet interface {
	Contains(name string) bool
	Add(name string) (bool, error)
	Len() int
}

// AuthorityClient resolves claimed names against the external identity
// authority. Implemented by authority.Client.
type AuthorityClient interface {
	Lookup(ctx context.Context, name string) (*authority.Profile, error)
}

// VerifyConfig holds configuration for identity verification
type VerifyConfig struct {
	BudgetPerMinute            int
	InvalidationAlertThreshold int
}

// VerifyService decides whether a claimed identity is legitimate. Known
// names short-circuit against the durable verified/invalidated sets; unknown
// names cost one external lookup, bounded by a per-minute budget that also
// caps concurrent outbound calls.
type VerifyService struct {
	verified      NameSet
	invalidated   NameSet
	authority     AuthorityClient
	config        VerifyConfig
	used          atomic.Int64 // authority calls this minute
	invalidations atomic.Int64 // invalidations since last alert
	security      *logger.SecurityLogger
	logger        *slog.Logger
}

// NewVerifyService creates a new VerifyService
func NewVerifyService(verified, invalidated NameSet, client AuthorityClient, config VerifyConfig, security *logger.SecurityLogger, log *slog.Logger) *VerifyService {
	return &VerifyService{
		verified:    verified,
		invalidated: invalidated,
		authority:   client,
		config:      config,
		security:    security,
		logger:      log,
	}
}

// Verify runs the full decision: format check, durable caches, budget, then
// the external authority. claimedID may be empty; an unparseable claimed id
// is treated as absent rather than as a mismatch.
func (s *VerifyService) Verify(ctx context.Context, name, claimedID string) Verdict {
	if !namePattern.MatchString(name) {
		return VerdictMalformed
	}

	if s.verified.Contains(name) {
		return VerdictAccept
	}
	if s.invalidated.Contains(name) {
		return VerdictBot
	}

	// Reserve one slot of the budget before going to the network; this both
	// rate-limits lookups and bounds outstanding calls.
	if s.used.Add(1) > int64(s.config.BudgetPerMinute) {
		return VerdictBudgetExhausted
	}

	profile, err := s.authority.Lookup(ctx, name)
	if err != nil {
		if errors.Is(err, models.ErrNoSuchIdentity) {
			s.invalidate(name, "no_such_identity")
			return VerdictBot
		}
		s.logger.Warn("authority lookup failed",
			slog.String("name", name),
			slog.Any("error", err))
		return VerdictUnavailable
	}

	if claimed, err := uuid.Parse(claimedID); claimedID != "" && err == nil {
		if claimed != profile.ID {
			s.invalidate(name, "profile_mismatch")
			return VerdictMismatch
		}
	}

	if added, err := s.verified.Add(name); err != nil {
		s.security.LogDegradedDurability("verified", name, err)
	} else if added {
		s.logger.Info("identity verified", slog.String("name", name))
	}
	return VerdictAccept
}

// BudgetRemaining returns how many authority calls are left this minute.
func (s *VerifyService) BudgetRemaining() int {
	remaining := int64(s.config.BudgetPerMinute) - s.used.Load()
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// ResetBudget clears the per-minute counter. Called only by the periodic
// scheduler, once per minute.
func (s *VerifyService) ResetBudget() {
	s.used.Store(0)
}

func (s *VerifyService) invalidate(name, reason string) {
	if added, err := s.invalidated.Add(name); err != nil {
		s.security.LogDegradedDurability("invalidated", name, err)
	} else if !added {
		return
	}

	s.logger.Warn("identity invalidated",
		slog.String("name", name),
		slog.String("reason", reason))

	n := s.invalidations.Add(1)
	threshold := int64(s.config.InvalidationAlertThreshold)
	if threshold > 0 && n >= threshold && s.invalidations.CompareAndSwap(n, 0) {
		s.security.LogAttackMitigated(int(n))
	}
}
