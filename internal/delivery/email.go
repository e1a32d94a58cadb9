package delivery

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESService is the part of the SES client the email transport uses.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// WrapHTML places a rendered body inside a minimal HTML document. Bodies that
// already are documents are returned unchanged.
func WrapHTML(subject, body string) string {
	trimmed := strings.ToLower(strings.TrimSpace(body))
	if strings.HasPrefix(trimmed, "<!doctype") || strings.HasPrefix(trimmed, "<html") {
		return body
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"UTF-8\">\n")
	b.WriteString("<title>" + html.EscapeString(subject) + "</title>\n")
	b.WriteString("</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("\n</body>\n</html>")
	return b.String()
}

type SESSender struct {
	client SESService
	from   string
}

func NewSESSender(client SESService, fromEmail, fromName string) *SESSender {
	from := fromEmail
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromEmail)
	}
	return &SESSender{client: client, from: from}
}

func (s *SESSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	out, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				Html: &types.Content{Data: aws.String(WrapHTML(msg.Subject, msg.Body)), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(s.from),
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Provider: "ses", MessageID: aws.ToString(out.MessageId)}, nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	From     string
}

// SMTPSender delivers email over SMTP, upgrading with STARTTLS when UseTLS is set.
type SMTPSender struct {
	config SMTPConfig
	now    func() time.Time
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{config: cfg, now: time.Now}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, fmt.Errorf("context cancelled before sending email: %w", err)
	}

	messageID := s.generateMessageID(msg.To)
	raw := s.buildMessage(msg, messageID)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	err := s.deliver(ctx, addr, auth, msg.To, raw)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Provider: "smtp", MessageID: messageID}, nil
}

func (s *SMTPSender) buildMessage(msg Message, messageID string) []byte {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", s.config.From))
	b.WriteString(fmt.Sprintf("To: %s\r\n", headerValue(msg.To)))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", headerValue(msg.Subject))))
	b.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", s.now().Format(time.RFC1123Z)))

	switch msg.Priority {
	case "critical", "high":
		b.WriteString("X-Priority: 1\r\n")
		b.WriteString("Importance: high\r\n")
	case "low":
		b.WriteString("X-Priority: 5\r\n")
		b.WriteString("Importance: low\r\n")
	}

	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(WrapHTML(msg.Subject, msg.Body))
	return []byte(b.String())
}

// deliver runs one SMTP session. STARTTLS is required when UseTLS is set and
// used opportunistically otherwise.
func (s *SMTPSender) deliver(ctx context.Context, addr string, auth smtp.Auth, to string, raw []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	// net/smtp has no context support; bound the session by closing the conn.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to greet SMTP server: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok || s.config.UseTLS {
		if err = client.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err = client.Mail(s.config.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err = client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient %s: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err = w.Write(raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}

// headerValue folds CR and LF so rendered text cannot start a new header.
func headerValue(v string) string {
	return strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(v)
}

func (s *SMTPSender) generateMessageID(to string) string {
	return fmt.Sprintf("<%d.%s@%s>", s.now().UnixNano(), sanitizeLocalPart(to), s.config.Host)
}

func sanitizeLocalPart(email string) string {
	local := strings.SplitN(email, "@", 2)[0]
	local = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, local)
	if len(local) > 10 {
		local = local[:10]
	}
	if local == "" {
		return "user"
	}
	return local
}
