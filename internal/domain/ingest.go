package domain

import (
	"strconv"
	"strings"
	"time"
)

const (
	// RequesterAnonymous помечает циклы, запущенные планировщиком.
	RequesterAnonymous = "anonymous"
	// requesterLegacyDefault: прежнее значение анонимного пользователя во фронтенде.
	requesterLegacyDefault = "default"
)

// NormalizeRequester подставляет анонимного пользователя для пустого идентификатора.
func NormalizeRequester(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || id == requesterLegacyDefault {
		return RequesterAnonymous
	}
	return id
}

// ParseChatID возвращает идентификатор чата, если requesterID состоит только из цифр.
func ParseChatID(requesterID string) (int64, bool) {
	if requesterID == "" {
		return 0, false
	}
	for _, r := range requesterID {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(requesterID, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// PageFilter задаёт параметры поисковой выдачи площадки.
type PageFilter struct {
	Rooms    *int
	MinPrice *int
	MaxPrice *int
}

// PriceRange возвращает диапазон цен, только если заданы обе границы.
func (f PageFilter) PriceRange() (int, int, bool) {
	if f.MinPrice == nil || f.MaxPrice == nil {
		return 0, 0, false
	}
	return *f.MinPrice, *f.MaxPrice, true
}

// RoomCount возвращает число комнат, если оно задано и положительно.
func (f PageFilter) RoomCount() (int, bool) {
	if f.Rooms == nil || *f.Rooms <= 0 {
		return 0, false
	}
	return *f.Rooms, true
}

// IngestFilter описывает контекст одного цикла сбора.
type IngestFilter struct {
	RequesterID string
	City        *City
	MinPrice    *int
	MaxPrice    *int
	Rooms       *int
}

// Scope возвращает города, которые обходит цикл.
func (f IngestFilter) Scope() []City {
	if f.City != nil {
		return []City{*f.City}
	}
	return Cities()
}

// Page возвращает фильтр выдачи для фетчера.
func (f IngestFilter) Page() PageFilter {
	return PageFilter{Rooms: f.Rooms, MinPrice: f.MinPrice, MaxPrice: f.MaxPrice}
}

// CityResult содержит итог обработки одного города в цикле.
type CityResult struct {
	City      City
	Extracted int
	New       int
	Inserted  int
	Err       error
}

// CycleReport содержит итог цикла сбора.
type CycleReport struct {
	RequesterID string
	StartedAt   time.Time
	Duration    time.Duration
	Cities      []CityResult
}

// NewTotal возвращает количество новых объявлений по всем городам.
func (r CycleReport) NewTotal() int {
	total := 0
	for _, c := range r.Cities {
		total += c.New
	}
	return total
}

// Failed возвращает города, завершившиеся ошибкой.
func (r CycleReport) Failed() []CityResult {
	var failed []CityResult
	for _, c := range r.Cities {
		if c.Err != nil {
			failed = append(failed, c)
		}
	}
	return failed
}
