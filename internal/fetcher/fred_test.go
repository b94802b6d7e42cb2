package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFREDFetchAPISuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/fred/series/observations") {
			t.Fatalf("路径不正确: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("series_id") != "MORTGAGE30US" {
			t.Fatalf("series_id 不正确: %s", q.Get("series_id"))
		}
		if q.Get("api_key") != "test-key" {
			t.Fatalf("api_key 不正确: %s", q.Get("api_key"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"observations": []map[string]string{
				{"date": "2026-08-27", "value": "6.58"},
			},
		})
	}))
	defer srv.Close()

	f := NewFRED(FREDOptions{APIKey: "test-key", BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	rate, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if rate.String() != "6.58" {
		t.Fatalf("期望 6.58, 实际 %s", rate.String())
	}
}

func TestFREDFetchAPIMissingValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"observations": []map[string]string{
				{"date": "2026-08-27", "value": "."},
			},
		})
	}))
	defer srv.Close()

	f := NewFRED(FREDOptions{APIKey: "test-key", BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("缺失观测值应报错")
	}
}

func TestFREDFetchAPIHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFRED(FREDOptions{APIKey: "bad-key", BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("HTTP 403 应报错")
	}
}

func TestFREDFetchPublicCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "fredgraph.csv") {
			t.Fatalf("路径不正确: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("DATE,MORTGAGE30US\n2026-08-13,6.62\n2026-08-20,6.60\n2026-08-27,.\n"))
	}))
	defer srv.Close()

	f := NewFRED(FREDOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	// 最后一行缺失, 应回退到前一行
	rate, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("CSV 回退不应报错: %v", err)
	}
	if rate.String() != "6.6" {
		t.Fatalf("期望 6.6, 实际 %s", rate.String())
	}
}

func TestFREDFetchHistoryAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("sort_order") != "asc" {
			t.Fatalf("历史查询应按升序: %s", q.Get("sort_order"))
		}
		if q.Get("observation_start") != "2026-07-01" {
			t.Fatalf("observation_start 不正确: %s", q.Get("observation_start"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"observations": []map[string]string{
				{"date": "2026-07-02", "value": "6.70"},
				{"date": "2026-07-09", "value": "."},
				{"date": "2026-07-16", "value": "6.65"},
			},
		})
	}))
	defer srv.Close()

	f := NewFRED(FREDOptions{APIKey: "test-key", BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	observations, err := f.FetchHistory(context.Background(), from, to)
	if err != nil {
		t.Fatalf("历史查询不应报错: %v", err)
	}
	if len(observations) != 2 {
		t.Fatalf("缺失值应被跳过, 期望 2 条, 实际 %d", len(observations))
	}
	if observations[0].Rate.String() != "6.7" || observations[1].Rate.String() != "6.65" {
		t.Fatalf("观测值不正确: %+v", observations)
	}
	if !observations[0].Date.Before(observations[1].Date) {
		t.Fatalf("观测值应按日期升序: %+v", observations)
	}
}

func TestFREDFetchHistoryPublicCSVWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("DATE,MORTGAGE30US\n2026-06-25,6.80\n2026-07-02,6.70\n2026-07-09,.\n2026-07-16,6.65\n2026-08-06,6.60\n"))
	}))
	defer srv.Close()

	f := NewFRED(FREDOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	observations, err := f.FetchHistory(context.Background(), from, to)
	if err != nil {
		t.Fatalf("历史查询不应报错: %v", err)
	}
	if len(observations) != 2 {
		t.Fatalf("窗口外与缺失值应被过滤, 期望 2 条, 实际 %d", len(observations))
	}
	if observations[0].Date.Format("2006-01-02") != "2026-07-02" {
		t.Fatalf("第一条观测日期不正确: %s", observations[0].Date)
	}
	if observations[1].Date.Format("2006-01-02") != "2026-07-16" {
		t.Fatalf("第二条观测日期不正确: %s", observations[1].Date)
	}
}

func TestFREDFetchRetriesServerErrors(t *testing.T) {
	restore := retryBaseDelay
	retryBaseDelay = time.Millisecond
	defer func() { retryBaseDelay = restore }()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("DATE,MORTGAGE30US\n2026-08-27,6.60\n"))
	}))
	defer srv.Close()

	f := NewFRED(FREDOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	rate, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("第三次重试成功后不应报错: %v", err)
	}
	if rate.String() != "6.6" {
		t.Fatalf("期望 6.6, 实际 %s", rate.String())
	}
	if attempts != 3 {
		t.Fatalf("期望 3 次尝试, 实际 %d", attempts)
	}
}

func TestFREDFetchGivesUpAfterMaxAttempts(t *testing.T) {
	restore := retryBaseDelay
	retryBaseDelay = time.Millisecond
	defer func() { retryBaseDelay = restore }()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFRED(FREDOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("持续 5xx 应报错")
	}
	if attempts != maxFetchAttempts {
		t.Fatalf("期望 %d 次尝试, 实际 %d", maxFetchAttempts, attempts)
	}
}

func TestFREDFetchPublicCSVEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("DATE,MORTGAGE30US\n"))
	}))
	defer srv.Close()

	f := NewFRED(FREDOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("无数据行应报错")
	}
}
