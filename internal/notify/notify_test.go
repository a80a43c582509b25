package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestHook(t *testing.T) {
	t.Parallel()

	t.Run("callbacks run once in order", func(t *testing.T) {
		t.Parallel()

		hook := NewHook(slog.New(slog.NewTextHandler(io.Discard, nil)))
		var calls []string
		hook.OnFatal(func(_ context.Context, cause error) error {
			calls = append(calls, "first:"+cause.Error())
			return errors.New("mail server down")
		})
		hook.OnFatal(func(_ context.Context, cause error) error {
			calls = append(calls, "second:"+cause.Error())
			return nil
		})

		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				hook.Fire(context.Background(), errors.New("login exhausted"))
			}()
		}
		wg.Wait()

		want := []string{"first:login exhausted", "second:login exhausted"}
		if strings.Join(calls, ",") != strings.Join(want, ",") {
			t.Errorf("got %v, want %v", calls, want)
		}
	})

	t.Run("fire without callbacks", func(t *testing.T) {
		t.Parallel()

		NewHook(nil).Fire(context.Background(), nil)
	})
}

func writeLog(t *testing.T, lines int) string {
	t.Helper()

	var b strings.Builder
	for i := 1; i <= lines; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	path := filepath.Join(t.TempDir(), "narchiver.log")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTail(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		lines int
		n     int
		want  string
	}{
		{"fewer lines than requested", 2, 5, "line 1\nline 2"},
		{"exactly n", 3, 3, "line 1\nline 2\nline 3"},
		{"wraps", 7, 3, "line 5\nline 6\nline 7"},
		{"zero", 3, 0, ""},
		{"empty file", 0, 3, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := Tail(writeLog(t, tc.lines), tc.n)
			if err != nil {
				t.Fatalf("Tail: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		if _, err := Tail(filepath.Join(t.TempDir(), "missing.log"), 3); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestSMTPNotifier(t *testing.T) {
	t.Parallel()

	t.Run("incomplete config", func(t *testing.T) {
		t.Parallel()

		if _, err := NewSMTPNotifier(SMTPConfig{Host: "mail.example"}, ""); !errors.Is(err, ErrIncomplete) {
			t.Errorf("expected ErrIncomplete, got %v", err)
		}
	})

	t.Run("mails the log tail", func(t *testing.T) {
		t.Parallel()

		n, err := NewSMTPNotifier(SMTPConfig{
			Host:      "mail.example",
			From:      "crawler@example.com",
			To:        []string{"ops@example.com", "dev@example.com"},
			Username:  "crawler",
			Password:  "pw",
			TailLines: 2,
		}, writeLog(t, 10))
		if err != nil {
			t.Fatalf("NewSMTPNotifier: %v", err)
		}
		n.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

		var (
			gotAddr string
			gotTo   []string
			gotMsg  string
			gotAuth smtp.Auth
		)
		n.send = func(addr string, a smtp.Auth, _ string, to []string, msg []byte) error {
			gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
			return nil
		}

		if err := n.Notify(context.Background(), errors.New("site forum: login attempts exhausted")); err != nil {
			t.Fatalf("Notify: %v", err)
		}
		if gotAddr != "mail.example:587" || gotAuth == nil || len(gotTo) != 2 {
			t.Errorf("unexpected envelope %s %v %v", gotAddr, gotAuth, gotTo)
		}
		for _, want := range []string{
			"To: ops@example.com, dev@example.com\r\n",
			"Reason: site forum: login attempts exhausted\r\n",
			"line 9\r\nline 10\r\n",
			"Date: Fri, 01 Mar 2024 12:00:00 +0000\r\n",
		} {
			if !strings.Contains(gotMsg, want) {
				t.Errorf("message lacks %q:\n%s", want, gotMsg)
			}
		}
		if strings.Contains(gotMsg, "line 8\r\n") {
			t.Errorf("message contains more than the tail:\n%s", gotMsg)
		}
	})

	t.Run("send errors are returned", func(t *testing.T) {
		t.Parallel()

		n, err := NewSMTPNotifier(SMTPConfig{Host: "mail.example", From: "a@example.com", To: []string{"b@example.com"}}, filepath.Join(t.TempDir(), "missing.log"))
		if err != nil {
			t.Fatalf("NewSMTPNotifier: %v", err)
		}
		n.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }

		if err := n.Notify(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("expected send error, got %v", err)
		}
	})
}
