package kufar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/metrics"
)

const (
	// DefaultBaseURL задаёт адрес раздела недвижимости площадки.
	DefaultBaseURL = "https://re.kufar.by"
	// DefaultTimeout ограничивает время одного запроса страницы.
	DefaultTimeout = 15 * time.Second

	maxPageBytes = 8 << 20
)

// FetcherConfig задаёт параметры загрузки страниц.
type FetcherConfig struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxInFlight int
}

// Fetcher загружает страницы выдачи аренды квартир.
type Fetcher struct {
	client    *http.Client
	baseURL   *url.URL
	userAgent string
	inFlight  *semaphore.Weighted
}

var _ domain.PageFetcher = (*Fetcher)(nil)

// NewFetcher создаёт фетчер. MaxInFlight ограничивает одновременные запросы во всех циклах.
func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   base,
		userAgent: cfg.UserAgent,
		inFlight:  semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}, nil
}

// BuildURL собирает адрес выдачи: город, опционально комнаты и диапазон цен в USD.
func BuildURL(base *url.URL, city domain.City, filter domain.PageFilter) string {
	var b strings.Builder
	b.WriteString(base.String())
	b.WriteString("/l/")
	b.WriteString(url.PathEscape(string(city)))
	b.WriteString("/snyat/kvartiru-dolgosrochno")
	if rooms, ok := filter.RoomCount(); ok {
		b.WriteString("/" + strconv.Itoa(rooms) + "k")
	}
	b.WriteString("?cur=USD")
	if lo, hi, ok := filter.PriceRange(); ok {
		b.WriteString(fmt.Sprintf("&prc=r:%d,%d", lo, hi))
	}
	return b.String()
}

// Fetch выполняет один GET с таймаутом и возвращает разметку страницы.
func (f *Fetcher) Fetch(ctx context.Context, city domain.City, filter domain.PageFilter) ([]byte, error) {
	if err := f.inFlight.Acquire(ctx, 1); err != nil {
		return nil, &domain.FetchError{City: city, Reason: "cancelled while waiting for slot", Err: err}
	}
	defer f.inFlight.Release(1)

	endpoint := BuildURL(f.baseURL, city, filter)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.FetchError{City: city, Reason: "build request", Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")

	start := time.Now()
	resp, err := f.client.Do(req)
	metrics.ObserveNetworkRequest("kufar", "fetch_listing", string(city), start, err)
	if err != nil {
		reason := "request failed"
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			reason = "timeout"
		}
		return nil, &domain.FetchError{City: city, Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &domain.FetchError{City: city, StatusCode: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &domain.FetchError{City: city, Reason: "read body", Err: err}
	}
	return body, nil
}
