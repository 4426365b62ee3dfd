package services

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/mpreston/gatekeeper/pkg/logger"
)

// BlacklistStore is the durable IP blacklist consulted before any other
// admission check. Implemented by repositories.BlacklistRepository.
type BlacklistStore interface {
	Contains(ip string) bool
	Add(ip string) (bool, error)
	Len() int
}

// RateLimitConfig holds configuration for network rate limiting behavior
type RateLimitConfig struct {
	Enabled          bool
	BlockDuration    time.Duration
	OffenseWindow    time.Duration
	OffenseThreshold int
	IgnoredAddresses []string
}

// RateLimitService enforces "at most one admitted attempt per network prefix
// per block window". The first attempt from a prefix passes and immediately
// re-arms the block, so a second attempt within the window is rejected with
// the remaining wait time. A companion per-IP offense counter promotes
// sustained abusers into the durable blacklist.
//
// IPv4 addresses are keyed by their first three octets (/24); IPv6 addresses
// fall back to the exact address. The offense counter always keys the exact
// address.
type RateLimitService struct {
	config    RateLimitConfig
	blocks    sync.Map // prefix -> time.Time expiry
	offenses  sync.Map // ip -> *offenseCounter
	ignored   sync.Map // ip -> struct{}
	blacklist BlacklistStore
	security  *logger.SecurityLogger
	logger    *slog.Logger
}

type offenseCounter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewRateLimitService creates a new RateLimitService. Loopback addresses are
// always on the ignore list, in addition to any configured ones.
func NewRateLimitService(blacklist BlacklistStore, config RateLimitConfig, security *logger.SecurityLogger, log *slog.Logger) *RateLimitService {
	s := &RateLimitService{
		config:    config,
		blacklist: blacklist,
		security:  security,
		logger:    log,
	}
	for _, addr := range []string{"127.0.0.1", "::1"} {
		s.ignored.Store(addr, struct{}{})
	}
	for _, addr := range config.IgnoredAddresses {
		s.ignored.Store(addr, struct{}{})
	}
	return s
}

// IsIgnored reports whether ip bypasses rate limiting and offense counting.
func (s *RateLimitService) IsIgnored(ip string) bool {
	_, ok := s.ignored.Load(ip)
	return ok
}

// AddIgnored puts ip on the ignore list at runtime. Returns false if it was
// already there.
func (s *RateLimitService) AddIgnored(ip string) bool {
	_, loaded := s.ignored.LoadOrStore(ip, struct{}{})
	if !loaded {
		s.logger.Info("address added to ignore list", slog.String("ip_address", ip))
	}
	return !loaded
}

// Ignored returns a snapshot of the ignore list.
func (s *RateLimitService) Ignored() []string {
	var addrs []string
	s.ignored.Range(func(key, _ any) bool {
		addrs = append(addrs, key.(string))
		return true
	})
	return addrs
}

// IsBlacklisted reports whether ip is permanently blocked.
func (s *RateLimitService) IsBlacklisted(ip string) bool {
	return s.blacklist.Contains(ip)
}

// IsBlocked reports whether the prefix of ip is inside a block window.
// Expiry is lazy: a lookup past expiry clears the entry.
func (s *RateLimitService) IsBlocked(ip string) bool {
	if !s.config.Enabled {
		return false
	}
	key := prefixKey(ip)
	v, ok := s.blocks.Load(key)
	if !ok {
		return false
	}
	if time.Now().Before(v.(time.Time)) {
		return true
	}
	s.blocks.Delete(key)
	return false
}

// RemainingBlockSeconds returns how long the prefix of ip stays blocked,
// rounded up so a still-blocked client is never told zero.
func (s *RateLimitService) RemainingBlockSeconds(ip string) int {
	v, ok := s.blocks.Load(prefixKey(ip))
	if !ok {
		return 0
	}
	remaining := time.Until(v.(time.Time))
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

// ArmBlock starts a fresh block window for the prefix of ip, effective
// immediately. Called once a non-blocked attempt passes through.
func (s *RateLimitService) ArmBlock(ip string) {
	if !s.config.Enabled {
		return
	}
	s.blocks.Store(prefixKey(ip), time.Now().Add(s.config.BlockDuration))
}

// RecordOffense counts one attempt from ip inside the short offense window.
// When the count exceeds the threshold the address is promoted into the
// durable blacklist; the return value is true exactly once, for the
// promoting attempt.
func (s *RateLimitService) RecordOffense(ip string) bool {
	if !s.config.Enabled {
		return false
	}

	v, _ := s.offenses.LoadOrStore(ip, &offenseCounter{})
	counter := v.(*offenseCounter)

	counter.mu.Lock()
	now := time.Now()
	if counter.windowStart.IsZero() || now.Sub(counter.windowStart) > s.config.OffenseWindow {
		counter.windowStart = now
		counter.count = 0
	}
	counter.count++
	over := counter.count > s.config.OffenseThreshold
	attempts := counter.count
	counter.mu.Unlock()

	if !over {
		return false
	}

	added, err := s.blacklist.Add(ip)
	if err != nil {
		s.security.LogDegradedDurability("blacklist", ip, err)
	}
	if added {
		s.offenses.Delete(ip)
		s.security.LogBlacklisted(ip, attempts, s.config.OffenseWindow)
	}
	return added
}

// prefixKey reduces an IPv4 address to its first three octets. Anything that
// does not look like dotted IPv4 keys on the full address.
func prefixKey(ip string) string {
	if strings.Count(ip, ".") == 3 {
		if i := strings.LastIndexByte(ip, '.'); i > 0 {
			return ip[:i]
		}
	}
	return ip
}
