package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/gettixvp/newtg/internal/domain"
	httpinfra "github.com/gettixvp/newtg/internal/infra/http"
	"github.com/gettixvp/newtg/internal/usecase/ingest"
)

const (
	maxPageLimit   = 50
	maxUploadBytes = 40 << 20
)

// Submitter принимает пользовательские объявления.
type Submitter interface {
	Submit(ctx context.Context, in domain.SubmissionInput) (domain.Submission, error)
}

// FetchRequester запускает внеплановый сбор.
type FetchRequester interface {
	Request(ctx context.Context, filter domain.IngestFilter) error
}

// Handler обслуживает REST API мини-приложения.
type Handler struct {
	catalog      domain.CatalogReader
	submissions  Submitter
	fetch        FetchRequester
	defaultLimit int
	log          zerolog.Logger
}

// NewHandler создаёт обработчик. defaultLimit задаёт размер страницы по умолчанию.
func NewHandler(catalog domain.CatalogReader, submissions Submitter, fetch FetchRequester, defaultLimit int, log zerolog.Logger) *Handler {
	if defaultLimit <= 0 || defaultLimit > maxPageLimit {
		defaultLimit = 7
	}
	return &Handler{catalog: catalog, submissions: submissions, fetch: fetch, defaultLimit: defaultLimit, log: log}
}

// Mount регистрирует маршруты. auth применяется к изменяющим запросам.
func (h *Handler) Mount(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Get("/api/ads", h.listAds)
	r.Get("/api/new_ads", h.listNewAds)
	r.Group(func(protected chi.Router) {
		if auth != nil {
			protected.Use(auth)
		}
		protected.Post("/api/fetch", h.triggerFetch)
		protected.Post("/api/submit_user_ad", h.submitUserAd)
	})
}

func (h *Handler) listAds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		query domain.AdQuery
		err   error
	)
	if raw := strings.TrimSpace(q.Get("city")); raw != "" {
		city, ok := domain.ParseCity(raw)
		if !ok {
			httpinfra.WriteError(w, http.StatusBadRequest, errors.New("unknown city"))
			return
		}
		query.City = &city
	}
	if query.MinPrice, err = optionalInt(q.Get("min_price"), "min_price"); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if query.MaxPrice, err = optionalInt(q.Get("max_price"), "max_price"); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if query.Rooms, err = optionalInt(q.Get("rooms"), "rooms"); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}
	query.Source = strings.TrimSpace(q.Get("source"))
	if query.Offset, query.Limit, err = h.page(q.Get("offset"), q.Get("limit")); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}

	page, err := h.catalog.ListAds(r.Context(), query)
	if err != nil {
		h.internalError(w, r, err, "api: ошибка чтения каталога")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, page)
}

type newAdsPage struct {
	Ads     []domain.NewAdRecord `json:"ads"`
	HasMore bool                 `json:"has_more"`
	Total   int                  `json:"total"`
}

func (h *Handler) listNewAds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, limit, err := h.page(q.Get("offset"), q.Get("limit"))
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}
	records, total, err := h.catalog.ListNewAds(r.Context(), q.Get("user_id"), offset, limit)
	if err != nil {
		h.internalError(w, r, err, "api: ошибка чтения новых объявлений")
		return
	}
	if records == nil {
		records = []domain.NewAdRecord{}
	}
	httpinfra.WriteJSON(w, http.StatusOK, newAdsPage{Ads: records, Total: total, HasMore: total > offset+limit})
}

type fetchRequest struct {
	UserID   string `json:"user_id"`
	City     string `json:"city"`
	MinPrice *int   `json:"min_price"`
	MaxPrice *int   `json:"max_price"`
	Rooms    *int   `json:"rooms"`
}

func (h *Handler) triggerFetch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFetchRequest(r)
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}
	filter := domain.IngestFilter{
		RequesterID: req.UserID,
		MinPrice:    req.MinPrice,
		MaxPrice:    req.MaxPrice,
		Rooms:       req.Rooms,
	}
	if raw := strings.TrimSpace(req.City); raw != "" {
		city, ok := domain.ParseCity(raw)
		if !ok {
			httpinfra.WriteError(w, http.StatusBadRequest, errors.New("unknown city"))
			return
		}
		filter.City = &city
	}

	err = h.fetch.Request(r.Context(), filter)
	switch {
	case errors.Is(err, ingest.ErrCooldown):
		httpinfra.WriteError(w, http.StatusTooManyRequests, err)
	case err != nil:
		h.internalError(w, r, err, "api: не удалось запустить сбор")
	default:
		httpinfra.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func decodeFetchRequest(r *http.Request) (fetchRequest, error) {
	var req fetchRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			return req, errors.New("invalid request body")
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return req, errors.New("invalid form")
	}
	req.UserID = r.FormValue("user_id")
	req.City = r.FormValue("city")
	var err error
	if req.MinPrice, err = optionalInt(r.FormValue("min_price"), "min_price"); err != nil {
		return req, err
	}
	if req.MaxPrice, err = optionalInt(r.FormValue("max_price"), "max_price"); err != nil {
		return req, err
	}
	if req.Rooms, err = optionalInt(r.FormValue("rooms"), "rooms"); err != nil {
		return req, err
	}
	return req, nil
}

type submitResponse struct {
	Status  string `json:"status"`
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

func (h *Handler) submitUserAd(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid multipart form"))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	in := domain.SubmissionInput{
		RequesterID: r.FormValue("user_id"),
		City:        r.FormValue("city"),
		Price:       r.FormValue("price"),
		Address:     r.FormValue("address"),
		Rooms:       r.FormValue("rooms"),
		Description: r.FormValue("description"),
		Phone:       r.FormValue("phone"),
	}
	files, err := openImages(r.MultipartForm)
	defer closeAll(files)
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid image upload"))
		return
	}
	for i, f := range files {
		in.Images = append(in.Images, domain.ImageUpload{Filename: r.MultipartForm.File["images"][i].Filename, Body: f})
	}

	sub, err := h.submissions.Submit(r.Context(), in)
	if err != nil {
		if domain.IsValidation(err) {
			httpinfra.WriteError(w, http.StatusBadRequest, err)
			return
		}
		h.internalError(w, r, err, "api: не удалось принять объявление")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, submitResponse{
		Status:  string(sub.Status),
		ID:      sub.ID,
		Message: "Объявление отправлено на модерацию",
	})
}

// openImages открывает не больше MaxSubmissionImages первых файлов поля images.
func openImages(form *multipart.Form) ([]multipart.File, error) {
	if form == nil {
		return nil, nil
	}
	headers := form.File["images"]
	if len(headers) > domain.MaxSubmissionImages {
		headers = headers[:domain.MaxSubmissionImages]
	}
	files := make([]multipart.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

func closeAll(files []multipart.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func (h *Handler) page(rawOffset, rawLimit string) (int, int, error) {
	offset, limit := 0, h.defaultLimit
	if v, err := optionalInt(rawOffset, "offset"); err != nil {
		return 0, 0, err
	} else if v != nil {
		if *v < 0 {
			return 0, 0, errors.New("offset must not be negative")
		}
		offset = *v
	}
	if v, err := optionalInt(rawLimit, "limit"); err != nil {
		return 0, 0, err
	} else if v != nil && *v > 0 {
		limit = *v
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return offset, limit, nil
}

func optionalInt(raw, field string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.New(field + " must be an integer")
	}
	return &n, nil
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	h.log.Error().Err(err).Str("request_id", httpinfra.RequestID(r)).Str("path", r.URL.Path).Msg(msg)
	httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("Internal server error"))
}
