package datapush

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"TripExplorer/src/config"
)

func TestPushMarkdown(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	p := &Pusher{Webhook: srv.URL, Keyword: "GoBike", Client: srv.Client(), Retries: 1}
	if err := p.PushMarkdown("weekly", "- Customer 33.33%"); err != nil {
		t.Fatalf("PushMarkdown: %v", err)
	}
	if got["msgtype"] != "markdown" {
		t.Errorf("msgtype = %v", got["msgtype"])
	}
	md := got["markdown"].(map[string]interface{})
	if !strings.HasPrefix(md["title"].(string), "GoBike") {
		t.Errorf("keyword not added to title: %v", md["title"])
	}
}

func TestPushRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Write([]byte(`{"errcode":310000,"errmsg":"keywords not in content"}`))
			return
		}
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	p := &Pusher{Webhook: srv.URL, Client: srv.Client(), Retries: 3, Interval: time.Millisecond}
	if err := p.PushMarkdown("t", "x"); err != nil {
		t.Fatalf("PushMarkdown after retries: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d", calls)
	}

	p.Retries = 2
	atomic.StoreInt32(&calls, -10)
	err := p.PushMarkdown("t", "x")
	if err == nil || !strings.Contains(err.Error(), "310000") {
		t.Errorf("expected errcode in error, got %v", err)
	}
}

func TestSignedURL(t *testing.T) {
	p := &Pusher{
		Webhook: "https://oapi.dingtalk.com/robot/send?access_token=abc",
		Secret:  "SEC123",
		now:     func() time.Time { return time.UnixMilli(1554106500000) },
	}
	u, err := p.signedURL()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(u, "access_token=abc") || !strings.Contains(u, "timestamp=1554106500000") || !strings.Contains(u, "sign=") {
		t.Errorf("signed url = %s", u)
	}

	p.Secret = ""
	if u, _ := p.signedURL(); u != p.Webhook {
		t.Errorf("unsigned url = %s", u)
	}
}

func TestNewPusher(t *testing.T) {
	cfg := &config.Config{}
	if NewPusher(cfg) != nil {
		t.Error("expected nil pusher without webhook")
	}
	cfg.Push.Webhook = "http://localhost/robot"
	p := NewPusher(cfg)
	if p == nil || p.Retries != RETRY_TIMES {
		t.Errorf("pusher = %+v", p)
	}
}
