package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"estate_notifier/config"
)

// smtpTimeout bounds an exchange whose context carries no deadline.
const smtpTimeout = time.Minute

// EmailChannel delivers plain-text digests over SMTP, upgrading to TLS when
// the server offers STARTTLS and authenticating with PLAIN when configured.
type EmailChannel struct {
	addr   string
	host   string
	from   string
	auth   smtp.Auth
	dialer net.Dialer
	tls    *tls.Config
}

func NewEmailChannel(cfg config.SMTPConfig) *EmailChannel {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailChannel{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host: cfg.Host,
		from: cfg.From,
		auth: auth,
		tls:  &tls.Config{ServerName: cfg.Host},
	}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Style() Style { return StylePlain }

// Send dials with the context and ties the connection deadline to it, so a
// cancelled send aborts the SMTP exchange instead of finishing later.
func (c *EmailChannel) Send(ctx context.Context, to string, msg Message) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrEmptyRecipient
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(smtpTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := c.deliver(conn, to, c.compose(to, msg, time.Now())); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("smtp send via %s: %w", c.host, err)
	}
	return nil
}

func (c *EmailChannel) deliver(conn net.Conn, to string, body []byte) error {
	client, err := smtp.NewClient(conn, c.host)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(c.tls); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if c.auth != nil {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.New("server does not support AUTH")
		}
		if err := client.Auth(c.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(c.from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (c *EmailChannel) compose(to string, msg Message, now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", c.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Text, "\n", "\r\n"))
	return b.Bytes()
}
