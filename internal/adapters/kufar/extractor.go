package kufar

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/metrics"
)

const (
	selectorBlock       = "section > a"
	selectorPrice       = ".styles_price__usd__HpXMa"
	selectorParameters  = ".styles_parameters__7zKlL"
	selectorAddress     = ".styles_address__l6Qe_"
	selectorImage       = "img[src^='http']"
	selectorDescription = ".styles_body__5BrnC"
)

var roomsPattern = regexp.MustCompile(`\d+`)

// Extractor разбирает страницу выдачи в объявления.
type Extractor struct {
	base *url.URL
	log  zerolog.Logger
}

var _ domain.AdExtractor = (*Extractor)(nil)

// NewExtractor создаёт экстрактор. Относительные ссылки разрешаются от baseURL.
func NewExtractor(baseURL string, log zerolog.Logger) (*Extractor, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Extractor{base: base, log: log}, nil
}

// Extract обходит все блоки страницы и возвращает кандидатов, у которых есть ссылка, цена и адрес.
// Остальные блоки пропускаются с записью причины в лог.
func (e *Extractor) Extract(markup []byte, city domain.City) ([]domain.Ad, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	blocks := doc.Find(selectorBlock)

	ads := make([]domain.Ad, 0, blocks.Length())
	blocks.Each(func(i int, s *goquery.Selection) {
		ad, err := e.extractBlock(s, city)
		if err != nil {
			e.log.Debug().Err(err).Str("city", string(city)).Int("block", i).Msg("kufar: candidate dropped")
			field := "unknown"
			var extErr *domain.ExtractionError
			if errors.As(err, &extErr) {
				field = extErr.Field
			}
			metrics.CandidatesDropped.WithLabelValues(field).Inc()
			return
		}
		ads = append(ads, ad)
	})
	return ads, nil
}

func (e *Extractor) extractBlock(s *goquery.Selection, city domain.City) (domain.Ad, error) {
	link, err := e.link(s)
	if err != nil {
		return domain.Ad{}, err
	}
	price, err := extractPrice(s)
	if err != nil {
		return domain.Ad{}, err
	}
	address, err := extractAddress(s)
	if err != nil {
		return domain.Ad{}, err
	}

	return domain.Ad{
		Link:        link,
		Source:      domain.SourceKufar,
		City:        city,
		Price:       price,
		Rooms:       extractRooms(s),
		Address:     address,
		Image:       extractImage(s),
		Description: extractDescription(s),
	}, nil
}

// link отбрасывает query-параметры и приводит относительную ссылку к абсолютной.
func (e *Extractor) link(s *goquery.Selection) (string, error) {
	href, ok := s.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return "", &domain.ExtractionError{Field: "link", Reason: "missing href"}
	}
	href, _, _ = strings.Cut(href, "?")
	ref, err := url.Parse(href)
	if err != nil {
		return "", &domain.ExtractionError{Field: "link", Reason: err.Error()}
	}
	return e.base.ResolveReference(ref).String(), nil
}

func extractPrice(s *goquery.Selection) (int, error) {
	node := s.Find(selectorPrice)
	if node.Length() == 0 {
		return 0, &domain.ExtractionError{Field: "price", Reason: "missing"}
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, node.First().Text())
	if digits == "" {
		return 0, &domain.ExtractionError{Field: "price", Reason: "no digits"}
	}
	price, err := strconv.Atoi(digits)
	if err != nil || price <= 0 {
		return 0, &domain.ExtractionError{Field: "price", Reason: "not a positive number"}
	}
	return price, nil
}

func extractAddress(s *goquery.Selection) (string, error) {
	address := strings.TrimSpace(s.Find(selectorAddress).First().Text())
	if address == "" || address == domain.AddressUnspecified {
		return "", &domain.ExtractionError{Field: "address", Reason: "missing"}
	}
	return address, nil
}

func extractRooms(s *goquery.Selection) *int {
	match := roomsPattern.FindString(s.Find(selectorParameters).First().Text())
	if match == "" {
		return nil
	}
	rooms, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &rooms
}

func extractImage(s *goquery.Selection) *string {
	src, ok := s.Find(selectorImage).First().Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return nil
	}
	src = strings.TrimSpace(src)
	return &src
}

func extractDescription(s *goquery.Selection) string {
	text := strings.Join(strings.Fields(s.Find(selectorDescription).First().Text()), " ")
	if text == "" {
		return domain.DescriptionMissing
	}
	return text
}
