package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testNotification(kind string) Notification {
	return Notification{
		Kind:       kind,
		Rate:       decimal.RequireFromString("5.85"),
		TargetRate: decimal.RequireFromString("6.0"),
		State:      "Oregon",
		Confidence: "high",
		Sources:    []string{"fred", "bankrate"},
		Trend:      "falling",
		SentAt:     time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testNotification(KindThresholdAlert)); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "5.850") {
		t.Fatalf("消息应包含当前利率: %s", received["text"])
	}
	if !strings.Contains(received["text"], "Potential Savings") {
		t.Fatalf("告警消息应包含节省信息: %s", received["text"])
	}
}

func TestTelegramNotifierDailyReportOmitsSavings(t *testing.T) {
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := make(map[string]string)
		_ = json.NewDecoder(r.Body).Decode(&payload)
		text = payload["text"]
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testNotification(KindDailyReport)); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}
	if !strings.Contains(text, "Daily Refinance Rate Report") {
		t.Fatalf("日报标题不正确: %s", text)
	}
	if strings.Contains(text, "Potential Savings") {
		t.Fatalf("日报不应包含节省信息: %s", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testNotification(KindThresholdAlert)); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testNotification(KindThresholdAlert)); err == nil {
		t.Fatal("HTTP 502 应报错")
	}
}

func TestNotificationSavings(t *testing.T) {
	note := testNotification(KindThresholdAlert)
	if note.Savings().StringFixed(2) != "0.15" {
		t.Fatalf("节省计算错误: %s", note.Savings().String())
	}
}
