package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preik/internal/auth"
	"preik/internal/credits"
	"preik/internal/discovery"
	"preik/internal/ingest"
	"preik/internal/models"
	"preik/internal/rag"
	"preik/internal/ratelimit"
	"preik/internal/scraper"
)

const (
	storeA = "11111111-1111-4111-8111-111111111111"
	storeB = "22222222-2222-4222-8222-222222222222"

	adminKey = "admin-key"
	superKey = "super-key"
)

type fakeAnswerer struct {
	err error
	got rag.Request
}

func (f *fakeAnswerer) Answer(_ context.Context, req rag.Request) (*rag.Answer, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &rag.Answer{Content: "We open at 9.", Sources: []rag.Source{{Source: "hours.md", PageNumber: 1}}}, nil
}

type fakeIngester struct {
	mu       sync.Mutex
	files    map[string]string
	texts    map[string]string
	urls     []string
	err      error
	batchErr error
}

func (f *fakeIngester) IngestFile(_ context.Context, _ string, path string) (*ingest.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[filepath.Base(path)] = string(data)
	return &ingest.Result{Source: filepath.Base(path), Chunks: 1}, f.err
}

func (f *fakeIngester) IngestText(_ context.Context, _ string, source, text string) (*ingest.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts[source] = text
	return &ingest.Result{Source: source, Chunks: 1}, nil
}

func (f *fakeIngester) IngestURL(_ context.Context, _ string, rawURL string) (*ingest.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.urls = append(f.urls, rawURL)
	return &ingest.Result{Source: rawURL, Chunks: 2}, nil
}

func (f *fakeIngester) IngestURLs(_ context.Context, _ string, urls []string) (*ingest.Report, error) {
	report := &ingest.Report{}
	for _, u := range urls {
		report.Results = append(report.Results, ingest.Result{Source: u, Chunks: 1})
	}
	return report, f.batchErr
}

type fakeDocs struct {
	deleted []string
}

func (f *fakeDocs) DeleteSource(_ context.Context, _ string, source string) (int, error) {
	f.deleted = append(f.deleted, source)
	return 3, nil
}

func (f *fakeDocs) CountChunks(context.Context, string) (int, error) {
	return 7, nil
}

func (f *fakeDocs) ListSources(context.Context, string) (map[string]int, error) {
	return map[string]int{"faq": 4, "manual.pdf": 3}, nil
}

type fakeDiscoverer struct {
	base string
	opts discovery.Options
}

func (f *fakeDiscoverer) Discover(_ context.Context, base string, opts discovery.Options) ([]string, error) {
	f.base, f.opts = base, opts
	return []string{base, base + "about"}, nil
}

type stores map[string]*models.Store

func (s stores) GetStore(_ context.Context, id string) (*models.Store, error) {
	if st, ok := s[id]; ok {
		return st, nil
	}
	return nil, credits.ErrStoreNotFound
}

type keyStore map[string]*auth.Principal

func (k keyStore) FindByKeyHash(_ context.Context, hash string) (*auth.Principal, error) {
	if p, ok := k[hash]; ok {
		return p, nil
	}
	return nil, auth.ErrUnauthenticated
}

type publicResolver struct{}

func (publicResolver) LookupNetIP(context.Context, string, string) ([]netip.Addr, error) {
	return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
}

type testServer struct {
	handler   http.Handler
	chat      *fakeAnswerer
	ingester  *fakeIngester
	docs      *fakeDocs
	discovery *fakeDiscoverer
	ledger    *credits.MemoryLedger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, configure func(*Deps)) *testServer {
	t.Helper()
	now := time.Now()
	ledger := credits.NewMemoryLedger(
		credits.Account{StoreID: storeA, Limit: 500, Used: 120, Anchor: now, CycleStart: now},
		credits.Account{StoreID: storeB, Limit: 2000, Anchor: now, CycleStart: now},
	)
	ts := &testServer{
		chat:      &fakeAnswerer{},
		ingester:  &fakeIngester{files: map[string]string{}, texts: map[string]string{}},
		docs:      &fakeDocs{},
		discovery: &fakeDiscoverer{},
		ledger:    ledger,
	}
	deps := Deps{
		Chat:      ts.chat,
		Credits:   credits.NewMeter(ledger),
		Ingest:    ts.ingester,
		Documents: ts.docs,
		Discovery: ts.discovery,
		Stores: stores{
			storeA: {ID: storeA, Name: "Sko AS", AllowedOrigins: []string{"sko.no", "*.sko.no"}},
			storeB: {ID: storeB, Name: "Other"},
		},
		Keys: keyStore{
			auth.HashKey(adminKey): {UserID: "u1", Email: "admin@sko.no", Role: models.RoleAdmin, StoreID: storeA},
			auth.HashKey(superKey): {UserID: "u2", Email: "ops@preik.no", Role: models.RoleSuperAdmin},
		},
		Limiter:        ratelimit.New(60, 3, time.Minute),
		Resolver:       publicResolver{},
		MaxUploadBytes: 1 << 20,
	}
	if configure != nil {
		configure(&deps)
	}
	ts.handler = NewRouter(deps)
	return ts
}

func (ts *testServer) do(method, target, key string, body any, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) (Response, map[string]any) {
	t.Helper()
	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw), rec.Body.String())
	data := map[string]any{}
	if len(raw.Data) > 0 && raw.Data[0] == '{' {
		require.NoError(t, json.Unmarshal(raw.Data, &data))
	}
	return Response{Success: raw.Success, Error: raw.Error}, data
}

func TestPingAndHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/ping", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ".", rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	resp, data := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "healthy", data["status"])

	rec = ts.do(http.MethodGet, "/api/nope", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWidgetChat(t *testing.T) {
	ts := newTestServer(t)
	origin := map[string]string{"Origin": "https://www.sko.no"}

	rec := ts.do(http.MethodPost, "/api/widget/chat", "", ChatRequest{StoreID: storeA, Message: "When do you open?"}, origin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp, data := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "We open at 9.", data["content"])
	assert.Equal(t, "https://www.sko.no", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, storeA, ts.chat.got.StoreID)
	assert.Equal(t, "When do you open?", ts.chat.got.Message)
}

func TestWidgetChatRejections(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		origin string
		err    error
		status int
	}{
		{name: "bad json", body: "{", origin: "https://sko.no", status: http.StatusBadRequest},
		{name: "unknown field", body: `{"store_id":"x","prompt":"hi"}`, origin: "https://sko.no", status: http.StatusBadRequest},
		{name: "missing store", body: ChatRequest{Message: "hi"}, origin: "https://sko.no", status: http.StatusBadRequest},
		{name: "invalid store id", body: ChatRequest{StoreID: "abc", Message: "hi"}, origin: "https://sko.no", status: http.StatusBadRequest},
		{name: "unknown store", body: ChatRequest{StoreID: "33333333-3333-4333-8333-333333333333", Message: "hi"}, origin: "https://sko.no", status: http.StatusNotFound},
		{name: "foreign origin", body: ChatRequest{StoreID: storeA, Message: "hi"}, origin: "https://evil.com", status: http.StatusForbidden},
		{name: "no origin", body: ChatRequest{StoreID: storeA, Message: "hi"}, status: http.StatusForbidden},
		{name: "store without origins", body: ChatRequest{StoreID: storeB, Message: "hi"}, origin: "https://sko.no", status: http.StatusForbidden},
		{name: "out of credits", body: ChatRequest{StoreID: storeA, Message: "hi"}, origin: "https://sko.no", err: fmt.Errorf("store x: %w", credits.ErrInsufficientCredits), status: http.StatusPaymentRequired},
		{name: "empty message", body: ChatRequest{StoreID: storeA, Message: " "}, origin: "https://sko.no", err: rag.ErrEmptyMessage, status: http.StatusBadRequest},
		{name: "llm failure", body: ChatRequest{StoreID: storeA, Message: "hi"}, origin: "https://sko.no", err: fmt.Errorf("upstream: connection refused"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.chat.err = tt.err
			header := map[string]string{}
			if tt.origin != "" {
				header["Origin"] = tt.origin
			}
			rec := ts.do(http.MethodPost, "/api/widget/chat", "", tt.body, header)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp, _ := decode(t, rec)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			assert.NotContains(t, resp.Error, "connection refused")
		})
	}
}

func TestWidgetChatRateLimit(t *testing.T) {
	ts := newTestServer(t)
	origin := map[string]string{"Origin": "https://sko.no"}
	body := ChatRequest{StoreID: storeA, Message: "hi"}

	for i := 0; i < 3; i++ {
		rec := ts.do(http.MethodPost, "/api/widget/chat", "", body, origin)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := ts.do(http.MethodPost, "/api/widget/chat", "", body, origin)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestWidgetChatRateLimitIgnoresForwardingHeaders(t *testing.T) {
	ts := newTestServer(t)
	body := ChatRequest{StoreID: storeA, Message: "hi"}

	limited := 0
	for i := 0; i < 10; i++ {
		rec := ts.do(http.MethodPost, "/api/widget/chat", "", body, map[string]string{
			"Origin":          "https://sko.no",
			"X-Real-IP":       fmt.Sprintf("203.0.113.%d", i+1),
			"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i+1),
		})
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 7, limited)
}

func TestWidgetChatRateLimitTrustedProxy(t *testing.T) {
	ts := newTestServerWith(t, func(d *Deps) { d.TrustProxyHeaders = true })
	body := ChatRequest{StoreID: storeA, Message: "hi"}

	for i := 0; i < 5; i++ {
		rec := ts.do(http.MethodPost, "/api/widget/chat", "", body, map[string]string{
			"Origin":    "https://sko.no",
			"X-Real-IP": fmt.Sprintf("203.0.113.%d", i+1),
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestWidgetPreflight(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodOptions, "/api/widget/chat", "", nil, map[string]string{"Origin": "https://sko.no"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://sko.no", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCredits(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/credits", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/api/credits", adminKey, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decode(t, rec)
	assert.EqualValues(t, 120, data["used"])
	assert.EqualValues(t, 380, data["remaining"])

	rec = ts.do(http.MethodGet, "/api/credits?store_id="+storeB, adminKey, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/api/credits", superKey, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/credits?store_id="+storeB, superKey, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data = decode(t, rec)
	assert.EqualValues(t, 2000, data["limit"])
}

func TestAdminCredits(t *testing.T) {
	ts := newTestServer(t)
	reset := "/api/admin/stores/" + storeA + "/credits/reset"
	limit := "/api/admin/stores/" + storeA + "/credits/limit"

	rec := ts.do(http.MethodPost, reset, adminKey, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, reset, superKey, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decode(t, rec)
	assert.EqualValues(t, 0, data["used"])

	rec = ts.do(http.MethodPost, "/api/admin/stores/not-a-uuid/credits/reset", superKey, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/admin/stores/33333333-3333-4333-8333-333333333333/credits/reset", superKey, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPut, limit, superKey, map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPut, limit, superKey, map[string]any{"limit": -5}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPut, limit, superKey, map[string]any{"limit": 2000}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acc, err := ts.ledger.Get(context.Background(), storeA)
	require.NoError(t, err)
	assert.EqualValues(t, 2000, acc.Limit)
}

func multipartBody(t *testing.T, fields map[string]string, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile(uploadField, fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t)

	upload := func(key, name, content string, fields map[string]string) *httptest.ResponseRecorder {
		body, contentType := multipartBody(t, fields, name, content)
		req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+key)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := upload(adminKey, "../../etc/opening-hours.txt", "Open 9-17", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	_, data := decode(t, rec)
	assert.Equal(t, "opening-hours.txt", data["source"])
	assert.Equal(t, "Open 9-17", ts.ingester.files["opening-hours.txt"])

	rec = upload(adminKey, "virus.exe", "MZ", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(adminKey, "a.txt", "x", map[string]string{"store_id": storeB})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = upload(adminKey, "big.txt", strings.Repeat("x", 2<<20), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestTextAndDelete(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/documents/text", adminKey, TextRequest{Source: "faq", Text: "We ship to Norway."}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "We ship to Norway.", ts.ingester.texts["faq"])

	ts.ingester.err = ingest.ErrEmptyContent
	rec = ts.do(http.MethodPost, "/api/documents/text", adminKey, TextRequest{Source: "faq"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodDelete, "/api/documents", adminKey, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodDelete, "/api/documents?source=faq", adminKey, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decode(t, rec)
	assert.EqualValues(t, 3, data["deleted"])
	assert.Equal(t, []string{"faq"}, ts.docs.deleted)

	rec = ts.do(http.MethodGet, "/api/documents", adminKey, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data = decode(t, rec)
	assert.EqualValues(t, 7, data["chunks"])
	assert.Equal(t, map[string]any{"faq": float64(4), "manual.pdf": float64(3)}, data["sources"])
}

func TestScrape(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/scrape", adminKey, ScrapeRequest{URL: "https://sko.no/about"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"https://sko.no/about"}, ts.ingester.urls)

	rec = ts.do(http.MethodPost, "/api/scrape", adminKey, ScrapeRequest{URLs: []string{"https://sko.no/", "https://sko.no/faq"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// scraping is limited to a burst of three per user
	ts = newTestServer(t)
	rec = ts.do(http.MethodPost, "/api/scrape", adminKey, ScrapeRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/scrape", adminKey, ScrapeRequest{URL: "a", URLs: []string{"b"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts = newTestServer(t)
	ts.ingester.batchErr = scraper.ErrQuota
	rec = ts.do(http.MethodPost, "/api/scrape", adminKey, ScrapeRequest{URLs: []string{"https://sko.no/"}}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp, data := decode(t, rec)
	assert.False(t, resp.Success)
	assert.NotNil(t, data["results"])
}

func TestScrapeIsRateLimitedPerUser(t *testing.T) {
	ts := newTestServer(t)
	body := ScrapeRequest{URL: "https://sko.no/"}
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/scrape", adminKey, body, nil).Code)
	}
	rec := ts.do(http.MethodPost, "/api/scrape", adminKey, body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/scrape", superKey, ScrapeRequest{StoreID: storeA, URL: "https://sko.no/"}, nil).Code)
}

func TestDiscover(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/scrape/discover", adminKey, DiscoverRequest{URL: "sko.no", Limit: 20}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, data := decode(t, rec)
	assert.Equal(t, "https://sko.no/", data["url"])
	assert.Len(t, data["urls"], 2)
	assert.Equal(t, 20, ts.discovery.opts.Limit)

	for _, target := range []string{"http://127.0.0.1/", "http://169.254.169.254/", "ftp://sko.no/", "http://user:pw@sko.no/"} {
		ts = newTestServer(t)
		rec = ts.do(http.MethodPost, "/api/scrape/discover", adminKey, DiscoverRequest{URL: target}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}
