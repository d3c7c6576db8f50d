package polymarket

// markets.go — discovery of the 15-minute Up/Down interval markets.
//
// Interval markets have deterministic Gamma slugs built from the series and
// the interval's end time in US Eastern, e.g.
// "bitcoin-up-or-down-august-25-3-45pm-et". The provider computes the
// current and next interval boundaries from the clock and resolves both
// pairs by exact slug, so discovery needs no scanning or pagination.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

const defaultIntervalLength = 15 * time.Minute

// gammaMarket is the raw Gamma /markets item. Gamma encodes token IDs,
// outcomes and prices as JSON strings inside JSON.
type gammaMarket struct {
	ConditionID   string `json:"conditionId"`
	Slug          string `json:"slug"`
	EndDateISO    string `json:"endDateIso"`
	ClobTokenIDs  string `json:"clobTokenIds"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
}

// MarketService implements ports.MarketProvider for one Up/Down series.
type MarketService struct {
	client   *Client
	series   string // slug prefix, e.g. "bitcoin-up-or-down"
	interval time.Duration
	eastern  *time.Location
	now      func() time.Time
}

// NewMarketService builds a provider for the given series slug.
func NewMarketService(client *Client, seriesSlug string, interval time.Duration) (*MarketService, error) {
	if interval <= 0 {
		interval = defaultIntervalLength
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("polymarket.NewMarketService: load eastern tz: %w", err)
	}
	return &MarketService{
		client:   client,
		series:   seriesSlug,
		interval: interval,
		eastern:  loc,
		now:      time.Now,
	}, nil
}

// Snapshot resolves the running interval's pair and the next interval's
// pair, with the time remaining until each boundary.
func (ms *MarketService) Snapshot(ctx context.Context) (domain.MarketSnapshot, error) {
	now := ms.now()
	currentEnd := now.Truncate(ms.interval).Add(ms.interval)
	nextEnd := currentEnd.Add(ms.interval)

	current, err := ms.fetchPair(ctx, currentEnd)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("polymarket.Snapshot: current pair: %w", err)
	}
	next, err := ms.fetchPair(ctx, nextEnd)
	if err != nil {
		// The next interval's market sometimes appears a little late.
		// A snapshot with only the current pair still lets exits run.
		slog.Warn("polymarket: next interval pair not yet listed",
			"slug", ms.slugFor(nextEnd), "err", err)
		next = domain.InstrumentPair{}
	}

	return domain.MarketSnapshot{
		Current:     current,
		Next:        next,
		TimeToStart: currentEnd.Sub(now), // next interval starts when this one ends
		TimeToEnd:   currentEnd.Sub(now),
		TakenAt:     now,
	}, nil
}

// fetchPair resolves one interval market by its deterministic slug.
func (ms *MarketService) fetchPair(ctx context.Context, intervalEnd time.Time) (domain.InstrumentPair, error) {
	slug := ms.slugFor(intervalEnd)
	url := fmt.Sprintf("%s/markets?slug=%s", ms.client.gammaBase, slug)

	var resp []gammaMarket
	if err := ms.client.get(ctx, ms.client.gammaLimiter, url, &resp); err != nil {
		return domain.InstrumentPair{}, fmt.Errorf("fetch %s: %w", slug, err)
	}
	if len(resp) == 0 {
		return domain.InstrumentPair{}, fmt.Errorf("no market listed for slug %s", slug)
	}

	pair, err := mapInstrumentPair(resp[0])
	if err != nil {
		return domain.InstrumentPair{}, fmt.Errorf("map %s: %w", slug, err)
	}
	return pair, nil
}

// slugFor builds the Gamma slug for the interval ending at t, e.g.
// "bitcoin-up-or-down-august-25-3-45pm-et". On-the-hour intervals drop the
// minute part ("...-4pm-et").
func (ms *MarketService) slugFor(t time.Time) string {
	et := t.In(ms.eastern)

	hour := et.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	ampm := "am"
	if et.Hour() >= 12 {
		ampm = "pm"
	}

	clock := fmt.Sprintf("%d%s", hour, ampm)
	if et.Minute() != 0 {
		clock = fmt.Sprintf("%d-%02d%s", hour, et.Minute(), ampm)
	}

	return fmt.Sprintf("%s-%s-%d-%s-et",
		ms.series,
		strings.ToLower(et.Month().String()),
		et.Day(),
		clock,
	)
}

// mapInstrumentPair converts a Gamma market into the Up/Down pair,
// translating prices from dollars to cents.
func mapInstrumentPair(gm gammaMarket) (domain.InstrumentPair, error) {
	var (
		tokenIDs []string
		outcomes []string
		prices   []string
	)
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokenIDs); err != nil {
		return domain.InstrumentPair{}, fmt.Errorf("parse clobTokenIds: %w", err)
	}
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
		return domain.InstrumentPair{}, fmt.Errorf("parse outcomes: %w", err)
	}
	if gm.OutcomePrices != "" {
		if err := json.Unmarshal([]byte(gm.OutcomePrices), &prices); err != nil {
			return domain.InstrumentPair{}, fmt.Errorf("parse outcomePrices: %w", err)
		}
	}
	if len(tokenIDs) != 2 || len(outcomes) != 2 {
		return domain.InstrumentPair{}, fmt.Errorf("expected 2 outcomes, got %d/%d", len(tokenIDs), len(outcomes))
	}

	pair := domain.InstrumentPair{IntervalID: gm.ConditionID}
	for i := range tokenIDs {
		price := 0.0
		if i < len(prices) {
			price = domain.ParsePrice(prices[i]) * 100
		}
		inst := domain.Instrument{TokenID: tokenIDs[i], QuotedCents: price}
		switch strings.ToLower(outcomes[i]) {
		case "up", "yes":
			inst.Side = domain.SideUp
			pair.Up = inst
		case "down", "no":
			inst.Side = domain.SideDown
			pair.Down = inst
		default:
			return domain.InstrumentPair{}, fmt.Errorf("unknown outcome %q", outcomes[i])
		}
	}
	if pair.Up.TokenID == "" || pair.Down.TokenID == "" {
		return domain.InstrumentPair{}, fmt.Errorf("market %s missing a side", gm.ConditionID)
	}
	return pair, nil
}
