package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// WebAppAuthMiddleware проверяет подпись init_data Telegram WebApp по токену бота.
// При required=false запросы без init_data пропускаются, но неверная подпись всё равно отклоняется.
func WebAppAuthMiddleware(botToken string, required bool) func(http.Handler) http.Handler {
	secret := webAppSecret(botToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			initData := r.URL.Query().Get("init_data")
			if initData == "" {
				initData = r.Header.Get("X-Telegram-Init-Data")
			}
			if initData == "" {
				if required {
					WriteError(w, http.StatusUnauthorized, errors.New("init_data отсутствует"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if !ValidateInitData(initData, secret) {
				WriteError(w, http.StatusUnauthorized, errors.New("подпись недействительна"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func webAppSecret(botToken string) []byte {
	h := hmac.New(sha256.New, []byte("WebAppData"))
	h.Write([]byte(botToken))
	return h.Sum(nil)
}

// ValidateInitData сверяет hash с подписью отсортированных пар key=value.
func ValidateInitData(initData string, secret []byte) bool {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(values.Get("hash"))
	if err != nil || len(expected) == 0 {
		return false
	}
	return hmac.Equal(signInitData(values, secret), expected)
}

func signInitData(values url.Values, secret []byte) []byte {
	pairs := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		pairs = append(pairs, k+"="+values.Get(k))
	}
	sort.Strings(pairs)
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(strings.Join(pairs, "\n")))
	return h.Sum(nil)
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

// WriteJSON отправляет тело ответа в JSON.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
