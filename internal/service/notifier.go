package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/wakestake/internal/logger"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// ErrNotifierNotConfigured 未配置 SMTP。
var ErrNotifierNotConfigured = errors.New("notifier not configured")

// Notifier 发送违约通知。
type Notifier interface {
	SendViolationNotice(ctx context.Context, address, localDate string, amountUSD int) error
}

// LogNotifier 只写日志，用于未配置 SMTP 的环境。
type LogNotifier struct {
	Log *logger.Logger
}

func (n LogNotifier) SendViolationNotice(_ context.Context, address, localDate string, amountUSD int) error {
	if n.Log != nil {
		n.Log.Info("violation notice (smtp disabled)", "to", address, "local_date", localDate, "amount_usd", amountUSD)
	}
	return nil
}

// SMTPConfig 描述 SMTP 连接参数。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier 以 multipart/alternative 邮件发送通知，HTML 部分由 Markdown 渲染。
type SMTPNotifier struct {
	cfg      SMTPConfig
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
	send     sendMailFunc
	now      func() time.Time
}

// NewSMTPNotifier 构造 SMTPNotifier，From 为空时使用默认发件人。
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if strings.TrimSpace(cfg.From) == "" {
		cfg.From = "WakeStake <no-reply@wakestake.app>"
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPNotifier{
		cfg: cfg,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Linkify),
			goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
		),
		policy: bluemonday.UGCPolicy(),
		send:   smtp.SendMail,
		now:    time.Now,
	}
}

// SendViolationNotice 发送“错过唤醒时间”的邮件。
func (n *SMTPNotifier) SendViolationNotice(ctx context.Context, address, localDate string, amountUSD int) error {
	if strings.TrimSpace(n.cfg.Host) == "" {
		return ErrNotifierNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := n.buildViolationMessage(address, localDate, amountUSD)
	if err != nil {
		return err
	}

	from, err := mail.ParseAddress(n.cfg.From)
	if err != nil {
		return fmt.Errorf("parse from address: %w", err)
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.send(addr, auth, from.Address, []string{address}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// chargeLine 金额未知（押金查询失败）时不写具体数字。
func chargeLine(amountUSD int, bold bool) string {
	if amountUSD <= 0 {
		return "Your stake will be added to your monthly invoice."
	}
	if bold {
		return fmt.Sprintf("**$%d** will be added to your monthly invoice.", amountUSD)
	}
	return fmt.Sprintf("$%d will be added to your monthly invoice.", amountUSD)
}

func violationText(amountUSD int) string {
	return "WakeStake: You did not check out by your deadline. " + chargeLine(amountUSD, false)
}

func violationMarkdown(localDate string, amountUSD int) string {
	return fmt.Sprintf("## You missed your wake time on %s\n\n"+
		"You did not check out by your deadline.\n"+
		"%s\n\n"+
		"Tomorrow is a new streak.", localDate, chargeLine(amountUSD, true))
}

func (n *SMTPNotifier) buildViolationMessage(address, localDate string, amountUSD int) ([]byte, error) {
	var rendered bytes.Buffer
	if err := n.markdown.Convert([]byte(violationMarkdown(localDate, amountUSD)), &rendered); err != nil {
		return nil, fmt.Errorf("render notice: %w", err)
	}
	htmlBody := n.policy.SanitizeBytes(rendered.Bytes())

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	textPart, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := textPart.Write([]byte(violationText(amountUSD))); err != nil {
		return nil, err
	}

	htmlPart, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := htmlPart.Write(htmlBody); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", address)
	fmt.Fprintf(&msg, "Subject: You missed your wake time on %s\r\n", localDate)
	fmt.Fprintf(&msg, "Date: %s\r\n", n.now().UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", writer.Boundary())
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}
