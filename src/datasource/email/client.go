// client.go
package email

import (
	// 标准库导入
	"bytes"
	"fmt"
	"io"
	"log"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	// 第三方库导入
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset" // 正文的GBK等字符集
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	// 项目内部导入
	"TripExplorer/src/storage"
)

/******************** 常量定义 ********************/
const (
	MaxFetchMessages   = 50             // 单次最多获取的邮件数，行程导出附件较大
	FetchBufferSize    = 10             // 邮件获取通道缓冲区大小
	RecentMailDuration = 24 * time.Hour // 只看最近一天的未读邮件
)

/******************** 接口定义 ********************/

// MailService 收取行程导出邮件
type MailService interface {
	Connect() error
	Disconnect()
	FetchUnreadEmails() ([]*Email, error)
	MarkSeen(uid uint32) error
}

/******************** 数据结构 ********************/

// Email 邮件基础数据结构
type Email struct {
	UID         uint32        // IMAP UID
	Date        time.Time     // 发送时间
	From        string        // 发件人(已解码)
	Subject     string        // 主题(已解码)
	Attachments []*Attachment // 附件
}

// Attachment 邮件附件
type Attachment struct {
	Filename string
	Content  []byte
}

// TripAttachment 第一个行程数据附件(.csv/.xlsx)，没有时返回nil
func (e *Email) TripAttachment() *Attachment {
	for _, a := range e.Attachments {
		switch strings.ToLower(filepath.Ext(a.Filename)) {
		case ".csv", ".xlsx":
			return a
		}
	}
	return nil
}

/******************** 邮件客户端实现 ********************/

// EmailClient IMAP客户端
type EmailClient struct {
	server    string
	username  string
	password  string
	mailbox   string
	client    *client.Client
	mu        sync.Mutex
	connected bool
}

// NewEmailClient server形如 "imap.qq.com:993"
func NewEmailClient(server, username, password string) *EmailClient {
	return &EmailClient{
		server:   server,
		username: username,
		password: password,
		mailbox:  "INBOX",
	}
}

// Connect 建立TLS连接并登录，已有连接仍可用时直接返回
func (s *EmailClient) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		if _, err := s.client.Capability(); err == nil {
			return nil
		}
		// 连接已失效则重置
		s.client.Logout()
		s.client = nil
		s.connected = false
	}

	c, err := client.DialTLS(s.server, nil)
	if err != nil {
		return fmt.Errorf("连接服务器失败: %w", err)
	}
	if err := c.Login(s.username, s.password); err != nil {
		c.Logout()
		return fmt.Errorf("登录失败: %w", err)
	}

	s.client = c
	s.connected = true
	return nil
}

// Disconnect 断开连接
func (s *EmailClient) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Logout()
		s.client = nil
	}
	s.connected = false
}

// FetchUnreadEmails 按UID获取最近24小时内的未读邮件，只读打开邮箱不改变已读状态
func (s *EmailClient) FetchUnreadEmails() ([]*Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, fmt.Errorf("未连接到邮件服务器")
	}
	if _, err := s.client.Select(s.mailbox, true); err != nil {
		return nil, fmt.Errorf("选择邮箱失败: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = time.Now().Add(-RecentMailDuration)

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("搜索邮件失败: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	// UID递增，保留最新的
	if len(uids) > MaxFetchMessages {
		uids = uids[len(uids)-MaxFetchMessages:]
	}
	return s.fetchMessages(uids)
}

// MarkSeen 处理完成后把邮件标为已读
func (s *EmailClient) MarkSeen(uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return fmt.Errorf("未连接到邮件服务器")
	}
	if _, err := s.client.Select(s.mailbox, false); err != nil {
		return fmt.Errorf("选择邮箱失败: %w", err)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.client.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("标记已读失败(UID:%d): %w", uid, err)
	}
	return nil
}

func (s *EmailClient) fetchMessages(uids []uint32) ([]*Email, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchInternalDate,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, FetchBufferSize)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, messages)
	}()

	var emails []*Email
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			log.Printf("邮件正文为空(UID:%d)", msg.Uid)
			continue
		}
		email, err := readMail(msg.Uid, r)
		if err != nil {
			log.Printf("解析邮件失败(UID:%d): %v", msg.Uid, err)
			continue
		}
		if email.Date.IsZero() {
			email.Date = msg.InternalDate
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("获取邮件内容失败: %w", err)
	}
	return emails, nil
}

/******************** 邮件解析相关 ********************/

// readMail 解析RFC822原文，收集带文件名的部分作为附件
func readMail(uid uint32, r io.Reader) (*Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("创建邮件阅读器失败: %w", err)
	}
	defer mr.Close()

	header := mr.Header
	date, _ := header.Date() // 日期解析失败时用服务器时间

	email := &Email{
		UID:     uid,
		Date:    date,
		From:    decodeHeader(header.Get("From")),
		Subject: decodeHeader(header.Get("Subject")),
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return email, fmt.Errorf("读取邮件内容失败: %w", err)
		}

		var filename string
		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			filename, _ = h.Filename()
		case *mail.InlineHeader:
			// 部分导出工具把csv作为inline发送
			if _, params, err := h.ContentDisposition(); err == nil {
				filename = params["filename"]
			}
		}
		if filename == "" {
			continue
		}

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, p.Body); err != nil {
			log.Printf("读取附件内容失败: %v", err)
			continue
		}
		email.Attachments = append(email.Attachments, &Attachment{
			Filename: decodeHeader(filename),
			Content:  buf.Bytes(),
		})
	}
	return email, nil
}

/******************** 工具函数 ********************/

// decodeHeader 解码 =?charset?encoding?text?= 形式的邮件头，失败时原样返回
func decodeHeader(header string) string {
	decoder := mime.WordDecoder{
		CharsetReader: charsetReader,
	}
	decoded, err := decoder.DecodeHeader(header)
	if err != nil {
		return header
	}
	return decoded
}

// charsetReader GBK/GB2312 转 UTF-8
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "gbk", "gb2312", "gb18030":
		return transform.NewReader(input, simplifiedchinese.GBK.NewDecoder()), nil
	default:
		return input, nil
	}
}

/******************** 业务逻辑函数 ********************/

// CheckAndProcessEmails 收取未读邮件，返回主题包含keyword且带行程附件的最新一封，没有时返回nil
func CheckAndProcessEmails(mailService MailService, keyword string, logger *storage.Logger) (*Email, error) {
	startTime := time.Now()
	logger.Info("开始检查邮箱...")

	if err := mailService.Connect(); err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	defer mailService.Disconnect()

	emails, err := mailService.FetchUnreadEmails()
	if err != nil {
		return nil, fmt.Errorf("获取邮件失败: %w", err)
	}
	if len(emails) == 0 {
		logger.Info("没有新邮件")
		return nil, nil
	}

	target := filterLatestTargetEmail(emails, keyword)
	if target == nil {
		logger.Info(fmt.Sprintf("%d 封新邮件中没有行程数据邮件", len(emails)))
		return nil, nil
	}

	if err := mailService.MarkSeen(target.UID); err != nil {
		logger.Warning(err.Error())
	}
	logger.Info(fmt.Sprintf("找到行程数据邮件: %s (%s)，耗时: %v",
		target.Subject, target.Date.Format("2006-01-02 15:04:05"), time.Since(startTime)))
	return target, nil
}

// filterLatestTargetEmail 主题包含keyword且有行程附件的邮件中日期最新的一封
func filterLatestTargetEmail(emails []*Email, keyword string) *Email {
	var targets []*Email
	for _, email := range emails {
		if strings.Contains(email.Subject, keyword) && email.TripAttachment() != nil {
			targets = append(targets, email)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Date.After(targets[j].Date)
	})
	return targets[0]
}
