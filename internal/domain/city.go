package domain

import "strings"

// City содержит код поддерживаемого города в URL площадки.
type City string

const (
	CityMinsk   City = "minsk"
	CityBrest   City = "brest"
	CityGrodno  City = "grodno"
	CityGomel   City = "gomel"
	CityVitebsk City = "vitebsk"
	CityMogilev City = "mogilev"
)

var cityOrder = []City{CityMinsk, CityBrest, CityGrodno, CityGomel, CityVitebsk, CityMogilev}

var cityTitles = map[City]string{
	CityMinsk:   "Минск",
	CityBrest:   "Брест",
	CityGrodno:  "Гродно",
	CityGomel:   "Гомель",
	CityVitebsk: "Витебск",
	CityMogilev: "Могилев",
}

// Cities возвращает все поддерживаемые города в фиксированном порядке.
func Cities() []City {
	out := make([]City, len(cityOrder))
	copy(out, cityOrder)
	return out
}

// ParseCity приводит ввод к коду города.
func ParseCity(raw string) (City, bool) {
	c := City(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := cityTitles[c]
	return c, ok
}

// Title возвращает человекочитаемое название города.
func (c City) Title() string {
	if title, ok := cityTitles[c]; ok {
		return title
	}
	return "Неизвестный"
}

// Valid сообщает, входит ли город в поддерживаемый набор.
func (c City) Valid() bool {
	_, ok := cityTitles[c]
	return ok
}
