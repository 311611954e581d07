package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/mattjoyce/courier/internal/channel"
)

// smtpClient is the subset of *smtp.Client the email transport drives.
type smtpClient interface {
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

type dialFunc func(ctx context.Context, addr, host string, timeout time.Duration) (smtpClient, error)

// Email sends one SMTP transaction per message with every recipient on the
// envelope. STARTTLS is used whenever the server offers it.
type Email struct {
	timeout time.Duration
	dial    dialFunc
	logger  *slog.Logger
	now     func() time.Time
}

func NewEmail(timeout time.Duration, logger *slog.Logger) *Email {
	return &Email{timeout: timeout, dial: dialSMTP, logger: logger, now: time.Now}
}

func dialSMTP(ctx context.Context, addr, host string, timeout time.Duration) (smtpClient, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// session dials and authenticates. The caller owns the returned client.
func (e *Email) session(ctx context.Context, s channel.EmailSettings) (smtpClient, error) {
	c, err := e.dial(ctx, s.Addr(), s.Host, e.timeout)
	if err != nil {
		return nil, fmt.Errorf("dial smtp %s: %w", s.Addr(), err)
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.Host}); err != nil {
			c.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.User != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			c.Close()
			return nil, fmt.Errorf("smtp auth: server %s does not offer AUTH", s.Addr())
		}
		if err := c.Auth(smtp.PlainAuth("", s.User, s.Pass, s.Host)); err != nil {
			c.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return c, nil
}

func (e *Email) Send(ctx context.Context, msg Message) error {
	s, err := msg.Channel.Email()
	if err != nil {
		return err
	}
	c, err := e.session(ctx, s)
	if err != nil {
		return err
	}
	defer c.Close()

	from := s.Sender()
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range msg.Recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(e.compose(from, msg)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end DATA: %w", err)
	}
	if err := c.Quit(); err != nil {
		e.logger.Debug("smtp quit failed after delivery", "channel_id", msg.Channel.ID, "error", err)
	}
	return nil
}

func (e *Email) Probe(ctx context.Context, ch channel.Channel) error {
	s, err := ch.Email()
	if err != nil {
		return err
	}
	c, err := e.session(ctx, s)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Quit()
}

func (e *Email) compose(from string, msg Message) []byte {
	var b bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }

	header("From", from)
	header("To", strings.Join(msg.Recipients, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", e.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Content, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
