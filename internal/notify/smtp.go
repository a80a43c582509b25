package notify

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPort is the SMTP submission port.
	DefaultPort = 587

	// DefaultTailLines is the number of log lines mailed.
	DefaultTailLines = 200
)

// ErrIncomplete is returned when the notifier lacks a host, sender or recipient.
var ErrIncomplete = errors.New("smtp notifier needs host, from and to")

// SMTPConfig configures an SMTPNotifier.
type SMTPConfig struct {
	Host      string
	Port      int
	From      string
	To        []string
	Username  string
	Password  string
	TailLines int
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails the tail of a log file.
type SMTPNotifier struct {
	cfg     SMTPConfig
	logPath string
	send    sendFunc
	now     func() time.Time
}

// NewSMTPNotifier creates a notifier mailing the end of logPath.
func NewSMTPNotifier(cfg SMTPConfig, logPath string) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, ErrIncomplete
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = DefaultTailLines
	}
	return &SMTPNotifier{cfg: cfg, logPath: logPath, send: smtp.SendMail, now: time.Now}, nil
}

// Notify sends the message. It matches FatalFunc.
func (n *SMTPNotifier) Notify(ctx context.Context, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tail, err := Tail(n.logPath, n.cfg.TailLines)
	if err != nil {
		tail = fmt.Sprintf("(log unavailable: %v)", err)
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.send(addr, auth, n.cfg.From, n.cfg.To, n.message(cause, tail)); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

func (n *SMTPNotifier) message(cause error, tail string) []byte {
	host, _ := os.Hostname()

	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: narchiver stopped abnormally on %s\r\n", host)
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Reason: %s\r\n\r\n", reason)
	fmt.Fprintf(&b, "Last %d log lines:\r\n\r\n", n.cfg.TailLines)
	for _, line := range strings.Split(tail, "\n") {
		b.WriteString(strings.TrimRight(line, "\r"))
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

// Tail returns the last n lines of the file at path.
func Tail(path string, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	f, err := os.Open(path) //nolint:gosec // log path comes from our own configuration
	if err != nil {
		return "", err
	}
	defer f.Close()

	ring := make([]string, n)
	total := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring[total%n] = scanner.Text()
		total++
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	if total <= n {
		return strings.Join(ring[:total], "\n"), nil
	}
	start := total % n
	return strings.Join(append(ring[start:], ring[:start]...), "\n"), nil
}
