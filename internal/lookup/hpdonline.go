package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"listing-enricher/internal/models"
)

// DefaultOnlineURL is the HPD Online building search.
const DefaultOnlineURL = "https://hpdonline.nyc.gov/hpdonline/"

const (
	searchInputSelector = `input[name='address'], input[type='text']`
	resultItemSelector  = `div.list-item-detail`
	resultTitleSelector = `div.list-item-detail span.list-item-title`
)

var (
	bUnitsLabel   = regexp.MustCompile(`(?i)^\s*B\s+UNITS\s*$`)
	bUnitsInline  = regexp.MustCompile(`(?i)B\s+UNITS[^\d]*(\d+)`)
	digitsOnly    = regexp.MustCompile(`^\s*(\d+)\s*$`)
	totalUnitsRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)total\s+units?\s*:?\s*(\d+)`),
		regexp.MustCompile(`(?i)(\d+)\s+total\s+units?`),
		regexp.MustCompile(`(?i)number\s+of\s+units?\s*:?\s*(\d+)`),
		regexp.MustCompile(`(?i)units?\s*:?\s*(\d+)`),
	}
	buildingIDRe    = fieldPattern(`Building\s+ID`)
	binRe           = fieldPattern(`BIN`)
	bblRe           = fieldPattern(`BBL`)
	buildingClassRe = regexp.MustCompile(`(?i)building\s+class\s*:?\s*([A-Z][0-9A-Z]?)\b`)
)

func fieldPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + name + `\s*[#:]?\s*([A-Z0-9\-]+)`)
}

// OnlineConfig configures the HPD Online browser lookup.
type OnlineConfig struct {
	BaseURL   string
	Headless  bool
	ExecPath  string
	UserAgent string
	Timeout   time.Duration
	// MinPause and MaxPause bound the random wait after each page interaction.
	MinPause time.Duration
	MaxPause time.Duration
}

// HPDOnline looks buildings up by driving the HPD Online search page in a
// headless Chrome.
type HPDOnline struct {
	cfg     OnlineConfig
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// NewHPDOnline creates a browser-backed lookup.
func NewHPDOnline(cfg OnlineConfig, breaker *CircuitBreaker, logger *slog.Logger) *HPDOnline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOnlineURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxPause < cfg.MinPause {
		cfg.MaxPause = cfg.MinPause
	}
	return &HPDOnline{
		cfg:     cfg,
		breaker: breaker,
		logger:  logger.With("component", "hpd_online"),
	}
}

// SearchQuery formats an address the way the HPD Online search box expects.
func SearchQuery(addr models.Address) string {
	borough := strings.TrimSpace(addr.Borough)
	if borough == "" {
		borough = "Brooklyn"
	}
	return fmt.Sprintf("%s, %s, NY", strings.TrimSpace(addr.Street), borough)
}

// LookupBuilding searches HPD Online, opens the first result and parses it.
func (h *HPDOnline) LookupBuilding(ctx context.Context, addr models.Address) (*models.BuildingRecord, error) {
	if h.breaker != nil && !h.breaker.CanProceed() {
		return nil, ErrCircuitOpen
	}

	query := SearchQuery(addr)
	h.logger.Debug("searching HPD Online", "query", query)

	browserCtx, cancel := h.newBrowser(ctx)
	defer cancel()

	var title string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(h.cfg.BaseURL),
		chromedp.WaitVisible(searchInputSelector, chromedp.ByQuery),
		chromedp.SendKeys(searchInputSelector, query+kb.Enter, chromedp.ByQuery),
		chromedp.Sleep(h.pause()),
	)
	if err != nil {
		h.recordFailure()
		return nil, fmt.Errorf("HPD Online search failed: %w", err)
	}

	var nodes int
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(
		fmt.Sprintf(`document.querySelectorAll(%q).length`, resultItemSelector), &nodes)); err != nil {
		h.recordFailure()
		return nil, fmt.Errorf("failed to inspect results: %w", err)
	}
	if nodes == 0 {
		h.recordSuccess()
		h.logger.Debug("no HPD Online results", "query", query)
		return nil, nil
	}

	if err := chromedp.Run(browserCtx, chromedp.Text(resultTitleSelector, &title, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		h.recordFailure()
		return nil, fmt.Errorf("failed to read first result: %w", err)
	}
	if strings.TrimSpace(title) == "" {
		h.recordSuccess()
		return nil, nil
	}

	var html string
	err = chromedp.Run(browserCtx,
		chromedp.Click(resultItemSelector, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Sleep(h.pause()),
		chromedp.OuterHTML(`html`, &html, chromedp.ByQuery),
	)
	if err != nil {
		h.recordFailure()
		return nil, fmt.Errorf("failed to open building page: %w", err)
	}
	h.recordSuccess()

	b, err := ParseBuildingPage(html, addr)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("parsed HPD Online building",
		"title", strings.TrimSpace(title),
		"building_id", b.BuildingID,
		"special_units", len(b.SpecialUnits),
	)
	return b, nil
}

func (h *HPDOnline) newBrowser(ctx context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", h.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)
	if h.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(h.cfg.ExecPath))
	}
	if h.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(h.cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	timeoutCtx, timeoutCancel := context.WithTimeout(browserCtx, h.cfg.Timeout)

	return timeoutCtx, func() {
		timeoutCancel()
		browserCancel()
		allocCancel()
	}
}

func (h *HPDOnline) pause() time.Duration {
	spread := h.cfg.MaxPause - h.cfg.MinPause
	if spread <= 0 {
		return h.cfg.MinPause
	}
	return h.cfg.MinPause + time.Duration(rand.Int63n(int64(spread)))
}

func (h *HPDOnline) recordSuccess() {
	if h.breaker != nil {
		h.breaker.RecordSuccess()
	}
}

func (h *HPDOnline) recordFailure() {
	if h.breaker != nil {
		h.breaker.RecordFailure(0)
	}
}

// ErrEmptyPage is returned when a building page has no text to parse.
var ErrEmptyPage = errors.New("empty building page")

// ParseBuildingPage extracts a building record from an HPD Online building
// page. The returned address is addr: the page does not expose a structured
// address, so callers score the match on the search they made.
func ParseBuildingPage(html string, addr models.Address) (*models.BuildingRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse building page: %w", err)
	}
	doc.Find("script, style").Remove()
	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyPage
	}

	b := &models.BuildingRecord{
		BuildingID:    submatch(buildingIDRe, text),
		BIN:           submatch(binRe, text),
		BBL:           submatch(bblRe, text),
		BuildingClass: submatch(buildingClassRe, text),
		Address:       addr,
	}

	for _, re := range totalUnitsRes {
		if n, err := strconv.Atoi(submatch(re, text)); err == nil && n > 0 {
			b.TotalUnits = n
			break
		}
	}
	b.ResidentialUnits = b.TotalUnits

	count := basementUnitCount(doc, text)
	for i := 1; i <= count; i++ {
		b.SpecialUnits = append(b.SpecialUnits, models.SpecialUnit{
			Label:   fmt.Sprintf("B%d", i),
			Kind:    models.SpecialUnitKindBasement,
			Special: true,
		})
	}
	return b, nil
}

// basementUnitCount reads the "B UNITS" figure: first from the element next
// to the label, then from the page text.
func basementUnitCount(doc *goquery.Document, text string) int {
	count := -1
	doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 || !bUnitsLabel.MatchString(s.Text()) {
			return true
		}
		s.Parent().Children().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
			if m := digitsOnly.FindStringSubmatch(sib.Text()); m != nil {
				count, _ = strconv.Atoi(m[1])
				return false
			}
			return true
		})
		return count < 0
	})
	if count >= 0 {
		return count
	}
	if n, err := strconv.Atoi(submatch(bUnitsInline, text)); err == nil {
		return n
	}
	return 0
}

func submatch(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
