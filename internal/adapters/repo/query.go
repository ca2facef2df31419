package repo

import (
	"strconv"
	"strings"

	"github.com/gettixvp/newtg/internal/domain"
)

// whereClause накапливает условия и позиционные аргументы.
// Один и тот же набор используется для выборки страницы и подсчёта total.
type whereClause struct {
	conds []string
	args  []any
}

// add добавляет условие, заменяя ? на очередной $N.
func (w *whereClause) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(w.args)), 1))
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// next возвращает номер следующего позиционного аргумента.
func (w *whereClause) next() int {
	return len(w.args) + 1
}

func adFilter(q domain.AdQuery) *whereClause {
	w := &whereClause{}
	if q.City != nil {
		w.add("city = ?", string(*q.City))
	}
	if q.MinPrice != nil {
		w.add("price >= ?", *q.MinPrice)
	}
	if q.MaxPrice != nil {
		w.add("price <= ?", *q.MaxPrice)
	}
	if q.Rooms != nil {
		w.add("rooms = ?", *q.Rooms)
	}
	if q.Source != "" {
		w.add("source = ?", q.Source)
	}
	return w
}

func pageClause(w *whereClause, offset, limit int) (string, []any) {
	n := w.next()
	args := append(append([]any{}, w.args...), limit, offset)
	return " LIMIT $" + strconv.Itoa(n) + " OFFSET $" + strconv.Itoa(n+1), args
}
