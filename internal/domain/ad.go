package domain

import (
	"strings"
	"time"
)

const (
	// SourceKufar помечает объявления, собранные с re.kufar.by.
	SourceKufar = "Kufar"
	// SourceUser помечает объявления пользователей, прошедшие модерацию.
	SourceUser = "User"

	// AddressUnspecified используется только при разборе страницы и никогда не сохраняется.
	AddressUnspecified = "Не указано"
	// DescriptionMissing подставляется, если у объявления нет описания.
	DescriptionMissing = "Без описания"
)

// Ad описывает объявление об аренде.
type Ad struct {
	Link        string    `json:"link"`
	Source      string    `json:"source"`
	City        City      `json:"city"`
	Price       int       `json:"price"`
	Rooms       *int      `json:"rooms"`
	Address     string    `json:"address"`
	Image       *string   `json:"image"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Persistable сообщает, можно ли сохранить объявление в каталог.
func (a Ad) Persistable() bool {
	if strings.TrimSpace(a.Link) == "" || a.Price <= 0 {
		return false
	}
	address := strings.TrimSpace(a.Address)
	return address != "" && address != AddressUnspecified
}

// NewAdRecord описывает объявление, впервые найденное в запуске сбора по запросу конкретного пользователя.
type NewAdRecord struct {
	Ad
	RequesterID string `json:"user_id"`
}

// AdPartition делит объявления цикла на новые и уже известные каталогу.
type AdPartition struct {
	New   []Ad
	Known []Ad
}

// Partition раскладывает объявления по множеству существующих ссылок.
// Повторы одной ссылки внутри пачки попадают в New только один раз.
func Partition(ads []Ad, existing map[string]struct{}) AdPartition {
	var p AdPartition
	seen := make(map[string]struct{}, len(ads))
	for _, ad := range ads {
		if _, ok := existing[ad.Link]; ok {
			p.Known = append(p.Known, ad)
			continue
		}
		if _, ok := seen[ad.Link]; ok {
			continue
		}
		seen[ad.Link] = struct{}{}
		p.New = append(p.New, ad)
	}
	return p
}

// Links возвращает ссылки объявлений в исходном порядке без повторов.
func Links(ads []Ad) []string {
	seen := make(map[string]struct{}, len(ads))
	links := make([]string, 0, len(ads))
	for _, ad := range ads {
		if _, ok := seen[ad.Link]; ok {
			continue
		}
		seen[ad.Link] = struct{}{}
		links = append(links, ad.Link)
	}
	return links
}

// AdQuery задаёт фильтр и страницу чтения каталога.
type AdQuery struct {
	City     *City
	MinPrice *int
	MaxPrice *int
	Rooms    *int
	Source   string
	Offset   int
	Limit    int
}

// AdPage описывает страницу каталога.
type AdPage struct {
	Ads     []Ad `json:"ads"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// NewAdPage собирает страницу и вычисляет признак продолжения.
func NewAdPage(ads []Ad, total, offset, limit int) AdPage {
	if ads == nil {
		ads = []Ad{}
	}
	return AdPage{Ads: ads, Total: total, HasMore: total > offset+limit}
}
