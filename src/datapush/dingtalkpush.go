package datapush

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"TripExplorer/src/config"
	"TripExplorer/src/processor"
)

// 常量定义
const (
	RETRY_TIMES    = 5
	RETRY_INTERVAL = 2 * time.Second
)

// 钉钉 API 响应结构体
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Pusher 钉钉群机器人
type Pusher struct {
	Webhook  string
	Secret   string // 加签密钥，为空时不签名
	Keyword  string // 安全关键词，消息中不包含时自动加在标题前
	Client   *http.Client
	Retries  int
	Interval time.Duration
	now      func() time.Time
}

// NewPusher 由配置创建，未配置webhook时返回nil
func NewPusher(cfg *config.Config) *Pusher {
	if cfg.Push.Webhook == "" {
		return nil
	}
	return &Pusher{
		Webhook:  cfg.Push.Webhook,
		Secret:   cfg.Push.Secret,
		Keyword:  cfg.Push.Keyword,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Retries:  RETRY_TIMES,
		Interval: RETRY_INTERVAL,
	}
}

// PushMarkdown 发送markdown消息，失败时按Retries重试
func (p *Pusher) PushMarkdown(title, text string) error {
	if p.Keyword != "" && !strings.Contains(title+text, p.Keyword) {
		title = p.Keyword + " " + title
		text = "#### " + title + "\n\n" + text
	}
	payload := map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": title,
			"text":  text,
		},
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %v", err)
	}

	retries := p.Retries
	if retries <= 0 {
		retries = 1
	}
	return retry(func() error { return p.send(payloadBytes) }, retries, p.Interval)
}

// PushAnalysis 推送分析结论
func (p *Pusher) PushAnalysis(a *processor.Analysis, files ...string) error {
	var b strings.Builder
	b.WriteString("#### 骑行数据分析完成\n\n")
	for _, line := range a.Summary() {
		b.WriteString("- " + line + "\n")
	}
	if len(files) > 0 {
		b.WriteString("\n报告: " + strings.Join(files, ", ") + "\n")
	}
	return p.PushMarkdown("骑行数据分析", b.String())
}

func (p *Pusher) send(payload []byte) error {
	endpoint, err := p.signedURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建请求失败: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("发送消息失败: HTTP %d", resp.StatusCode)
	}

	var result DingTalkResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("解析响应失败: %v", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("发送消息失败: %d %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// signedURL 加签: timestamp + "\n" + secret 做HmacSHA256
func (p *Pusher) signedURL() (string, error) {
	if p.Secret == "" {
		return p.Webhook, nil
	}
	u, err := url.Parse(p.Webhook)
	if err != nil {
		return "", fmt.Errorf("webhook地址无效: %v", err)
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	ts := strconv.FormatInt(now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(p.Secret))
	mac.Write([]byte(ts + "\n" + p.Secret))

	q := u.Query()
	q.Set("timestamp", ts)
	q.Set("sign", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// 重试函数
func retry(fn func() error, times int, interval time.Duration) error {
	var err error
	for i := 0; i < times; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < times-1 {
			time.Sleep(interval)
		}
	}
	return fmt.Errorf("重试 %d 次后失败: %v", times, err)
}
