package randomloc

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard-service/internal/cache"
)

// keyPrefix namespaces per-session selections in storage.
const keyPrefix = "randomLocation:"

// DefaultSessionTTL bounds how long a session's city is remembered.
const DefaultSessionTTL = 24 * time.Hour

// DefaultLocations is the built-in list the random panel draws from.
var DefaultLocations = []string{
	"Tokyo, Japan",
	"New York, USA",
	"London, UK",
	"Paris, France",
	"Sydney, Australia",
	"Rio de Janeiro, Brazil",
	"Cairo, Egypt",
	"Mumbai, India",
	"Moscow, Russia",
	"Cape Town, South Africa",
	"Bangkok, Thailand",
	"Berlin, Germany",
	"Toronto, Canada",
	"Buenos Aires, Argentina",
	"Seoul, South Korea",
	"Dubai, UAE",
	"Stockholm, Sweden",
	"Mexico City, Mexico",
	"Singapore",
	"Istanbul, Turkey",
}

// Picker chooses a random city per session and keeps returning it until Reset or
// until the session's entry expires.
type Picker struct {
	storage    cache.ExpiringStorage
	locations  []string
	sessionTTL time.Duration
	intn       func(n int) int
	logger     *zap.Logger
}

// NewPicker returns a Picker over locations (DefaultLocations when empty). Each
// session's city is stored for sessionTTL (DefaultSessionTTL when <= 0).
func NewPicker(storage cache.ExpiringStorage, locations []string, sessionTTL time.Duration, logger *zap.Logger) *Picker {
	if len(locations) == 0 {
		locations = DefaultLocations
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Picker{storage: storage, locations: locations, sessionTTL: sessionTTL, intn: rand.IntN, logger: logger}
}

// SessionTTL returns how long a pick is remembered.
func (p *Picker) SessionTTL() time.Duration {
	return p.sessionTTL
}

// Locations returns the configured list.
func (p *Picker) Locations() []string {
	return p.locations
}

// Pick returns the session's city, choosing and remembering one on first use.
// Storage failures are logged; the pick is still returned but may not stick.
func (p *Picker) Pick(ctx context.Context, session string) string {
	key := keyPrefix + session
	stored, ok, err := p.storage.GetItem(ctx, key)
	if err != nil {
		p.logger.Warn("random location lookup failed", zap.String("session", session), zap.Error(err))
	}
	if ok && strings.TrimSpace(stored) != "" {
		return stored
	}

	choice := p.locations[p.intn(len(p.locations))]
	if err := p.storage.SetItemTTL(ctx, key, choice, p.sessionTTL); err != nil {
		p.logger.Warn("random location save failed", zap.String("session", session), zap.Error(err))
	}
	return choice
}

// Reset forgets the session's city so the next Pick draws again.
func (p *Picker) Reset(ctx context.Context, session string) {
	if err := p.storage.RemoveItem(ctx, keyPrefix+session); err != nil {
		p.logger.Warn("random location reset failed", zap.String("session", session), zap.Error(err))
	}
}
