package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/usecase/ingest"
)

type fakeCatalog struct {
	lastQuery domain.AdQuery
	lastUser  string
	ads       []domain.Ad
	total     int
}

func (c *fakeCatalog) ListAds(_ context.Context, q domain.AdQuery) (domain.AdPage, error) {
	c.lastQuery = q
	return domain.NewAdPage(c.ads, c.total, q.Offset, q.Limit), nil
}

func (c *fakeCatalog) ListNewAds(_ context.Context, requesterID string, offset, limit int) ([]domain.NewAdRecord, int, error) {
	c.lastUser = requesterID
	return nil, 0, nil
}

type fakeSubmitter struct {
	in  domain.SubmissionInput
	img []string
	err error
}

func (s *fakeSubmitter) Submit(_ context.Context, in domain.SubmissionInput) (domain.Submission, error) {
	s.in = in
	for _, up := range in.Images {
		data, _ := io.ReadAll(up.Body)
		s.img = append(s.img, up.Filename+":"+string(data))
	}
	if s.err != nil {
		return domain.Submission{}, s.err
	}
	return domain.Submission{ID: 17, Status: domain.SubmissionPending}, nil
}

type fakeFetch struct {
	filter domain.IngestFilter
	err    error
}

func (f *fakeFetch) Request(_ context.Context, filter domain.IngestFilter) error {
	f.filter = filter
	return f.err
}

func newRouter(c *fakeCatalog, s *fakeSubmitter, f *fakeFetch) http.Handler {
	r := chi.NewRouter()
	NewHandler(c, s, f, 7, zerolog.Nop()).Mount(r, nil)
	return r
}

func TestListAdsParsesFilters(t *testing.T) {
	c := &fakeCatalog{ads: []domain.Ad{{Link: "l1"}}, total: 20}
	srv := newRouter(c, &fakeSubmitter{}, &fakeFetch{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ads?city=Minsk&min_price=100&rooms=2&offset=7", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	q := c.lastQuery
	if q.City == nil || *q.City != domain.CityMinsk || q.MinPrice == nil || *q.MinPrice != 100 || q.MaxPrice != nil || q.Rooms == nil || *q.Rooms != 2 {
		t.Fatalf("unexpected query %+v", q)
	}
	if q.Offset != 7 || q.Limit != 7 {
		t.Fatalf("expected default limit 7 and offset 7, got %d/%d", q.Offset, q.Limit)
	}

	var page domain.AdPage
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 20 || !page.HasMore || len(page.Ads) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestListAdsRejectsBadInput(t *testing.T) {
	srv := newRouter(&fakeCatalog{}, &fakeSubmitter{}, &fakeFetch{})
	for _, target := range []string{"/api/ads?city=paris", "/api/ads?min_price=cheap", "/api/ads?offset=-1"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestListAdsClampsLimit(t *testing.T) {
	c := &fakeCatalog{}
	srv := newRouter(c, &fakeSubmitter{}, &fakeFetch{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ads?limit=1000", nil))
	if c.lastQuery.Limit != maxPageLimit {
		t.Fatalf("expected limit %d, got %d", maxPageLimit, c.lastQuery.Limit)
	}
}

func TestListNewAdsEmptyArray(t *testing.T) {
	c := &fakeCatalog{}
	srv := newRouter(c, &fakeSubmitter{}, &fakeFetch{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/new_ads?user_id=42", nil))
	if c.lastUser != "42" || !strings.Contains(rec.Body.String(), `"ads":[]`) {
		t.Fatalf("unexpected response %s", rec.Body.String())
	}
}

func TestTriggerFetch(t *testing.T) {
	f := &fakeFetch{}
	srv := newRouter(&fakeCatalog{}, &fakeSubmitter{}, f)

	body := strings.NewReader(`{"user_id":"123456","city":"gomel","min_price":100,"max_price":300}`)
	req := httptest.NewRequest(http.MethodPost, "/api/fetch", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if f.filter.RequesterID != "123456" || f.filter.City == nil || *f.filter.City != domain.CityGomel || *f.filter.MaxPrice != 300 {
		t.Fatalf("unexpected filter %+v", f.filter)
	}

	f.err = ingest.ErrCooldown
	req = httptest.NewRequest(http.MethodPost, "/api/fetch", strings.NewReader("user_id=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/fetch", strings.NewReader("city=london"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown city, got %d", rec.Code)
	}
}

func multipartRequest(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write([]byte(content))
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/submit_user_ad", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestSubmitUserAd(t *testing.T) {
	s := &fakeSubmitter{}
	srv := newRouter(&fakeCatalog{}, s, &fakeFetch{})

	req := multipartRequest(t, map[string]string{
		"user_id": "42", "city": "minsk", "price": "500", "address": "ул. Ленина, 1", "phone": "+375",
	}, map[string]string{"a.jpg": "img"})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.ID != 17 || resp.Status != "pending" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if s.in.Price != "500" || s.in.Phone != "+375" || len(s.img) != 1 || s.img[0] != "a.jpg:img" {
		t.Fatalf("unexpected input %+v images=%v", s.in, s.img)
	}
}

func TestSubmitUserAdValidation(t *testing.T) {
	s := &fakeSubmitter{err: &domain.ValidationError{Field: "price", Reason: "required"}}
	srv := newRouter(&fakeCatalog{}, s, &fakeFetch{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, map[string]string{"city": "minsk"}, nil))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "price") {
		t.Fatalf("expected 400 naming the field, got %d %s", rec.Code, rec.Body.String())
	}
}
