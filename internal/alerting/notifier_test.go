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

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

func sampleAlert() domain.Alert {
	return domain.Alert{
		ID:            "01HZX",
		MonitorID:     "m1",
		Kind:          domain.AlertKindChange,
		GeneratedAt:   time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		PriorityScore: 8.4,
		Urgency:       domain.UrgencyCritical,
		Title:         "Acme Corp: revenue point anomaly (+1 more)",
		Changes: []domain.Change{{
			Type: domain.ChangeMetric, Category: domain.CategoryFinancial, Subject: "revenue",
			Title: "revenue increased", PercentChange: 60,
		}},
		Findings: []domain.AnomalyFinding{{
			Metric: "revenue", Kind: domain.FindingPoint, Severity: 10, Observed: 1_600_000,
			Bounds: &domain.ForecastBounds{Forecast: 1_000_000, Lower: 960_000, Upper: 1_040_000},
		}},
		ShouldNotify: true,
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
	if err := notifier.Notify(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "[CRITICAL]") || !strings.Contains(text, "Priority: 8.4/10") {
		t.Fatalf("unexpected text: %q", text)
	}
	if !strings.Contains(text, "observed 1600000.00 expected 960000.00..1040000.00") {
		t.Fatalf("bounds missing from text: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleAlert()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleAlert()); err == nil {
		t.Fatal("非 2xx 响应码应报错")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
