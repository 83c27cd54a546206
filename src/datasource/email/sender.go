package email

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strings"

	"TripExplorer/src/config"

	"github.com/jordan-wright/email"
)

// NewReportMail 组装报告邮件，附件不存在时返回错误
func NewReportMail(c *config.Config, body string, files ...string) (*email.Email, error) {
	if len(c.SendEmail.To) == 0 {
		return nil, fmt.Errorf("未配置收件人")
	}

	e := email.NewEmail()
	e.From = fmt.Sprintf("TripExplorer <%s>", c.SendEmail.Username)
	e.To = c.SendEmail.To
	e.Subject = c.SendEmail.Subject
	if e.Subject == "" {
		e.Subject = "Trip exploration report"
	}
	e.Text = []byte(body)

	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("附件文件不存在: %s", path)
		}
		if _, err := e.AttachFile(path); err != nil {
			return nil, fmt.Errorf("附件添加失败: %v", err)
		}
	}
	return e, nil
}

// SendReport 通过SMTP(显式TLS)发送报告
func SendReport(c *config.Config, body string, files ...string) error {
	e, err := NewReportMail(c, body, files...)
	if err != nil {
		return err
	}

	// 确保服务器地址包含端口
	smtpAddr := c.SendEmail.Server
	if !strings.Contains(smtpAddr, ":") {
		smtpAddr += ":465" // 默认 SSL 端口
	}
	host, _, err := net.SplitHostPort(smtpAddr)
	if err != nil {
		return fmt.Errorf("SMTP地址无效: %v", err)
	}

	err = e.SendWithTLS(
		smtpAddr,
		smtp.PlainAuth("", c.SendEmail.Username, c.SendEmail.Password, host),
		&tls.Config{ServerName: host},
	)
	if err != nil {
		return fmt.Errorf("邮件发送失败: %v (Server: %s)", err, smtpAddr)
	}
	return nil
}
