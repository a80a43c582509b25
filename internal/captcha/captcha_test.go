package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nao1215/narchiver/internal/exchange"
)

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		img.Set(x, height/2, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestPrepareImage(t *testing.T) {
	t.Parallel()

	t.Run("small png passes through", func(t *testing.T) {
		t.Parallel()

		data := testPNG(t, 120, 40)
		got, err := PrepareImage(Image{Data: data, MediaType: "image/png"}, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(got.Data, data) || got.MediaType != "image/png" {
			t.Error("expected the image to be unchanged")
		}
	})

	t.Run("sniffs a missing media type", func(t *testing.T) {
		t.Parallel()

		got, err := PrepareImage(Image{Data: testPNG(t, 10, 10), MediaType: "application/octet-stream"}, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.MediaType != "image/png" {
			t.Errorf("expected image/png, got %s", got.MediaType)
		}
	})

	t.Run("scales wide images down", func(t *testing.T) {
		t.Parallel()

		got, err := PrepareImage(Image{Data: testPNG(t, 400, 100), MediaType: "image/png"}, 200)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		cfg, err := png.DecodeConfig(bytes.NewReader(got.Data))
		if err != nil {
			t.Fatalf("result is not a PNG: %v", err)
		}
		if cfg.Width != 200 || cfg.Height != 50 {
			t.Errorf("expected 200x50, got %dx%d", cfg.Width, cfg.Height)
		}
	})

	t.Run("rejects empty and undecodable images", func(t *testing.T) {
		t.Parallel()

		if _, err := PrepareImage(Image{}, 0); !errors.Is(err, ErrEmptyImage) {
			t.Errorf("expected ErrEmptyImage, got %v", err)
		}
		if _, err := PrepareImage(Image{Data: []byte("not an image"), MediaType: "image/bmp"}, 0); err == nil {
			t.Error("expected a decode error")
		}
	})
}

func TestNormalizeAnswer(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw  string
		want string
	}{
		{"AB12", "AB12"},
		{"  xk9p \n", "xk9p"},
		{`"Q7 W2"`, "Q7W2"},
		{"`h3ll0`\nThe answer is above.", "h3ll0"},
	}
	for _, tc := range testCases {
		got, err := normalizeAnswer(tc.raw)
		if err != nil || got != tc.want {
			t.Errorf("normalizeAnswer(%q) = %q, %v; want %q", tc.raw, got, err, tc.want)
		}
	}
	if _, err := normalizeAnswer(" \n "); !errors.Is(err, ErrEmptyAnswer) {
		t.Errorf("expected ErrEmptyAnswer, got %v", err)
	}
}

func TestClaudeSolver(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			http.Error(w, `{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`, http.StatusUnauthorized)
			return
		}
		var body struct {
			Messages []struct {
				Content []struct {
					Type   string `json:"type"`
					Source struct {
						MediaType string `json:"media_type"`
					} `json:"source"`
				} `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 1 || len(body.Messages[0].Content) != 2 ||
			body.Messages[0].Content[0].Type != "image" ||
			body.Messages[0].Content[0].Source.MediaType != "image/png" {
			http.Error(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad body"}}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514",`+
			`"content":[{"type":"text","text":" 7GH2K "}],"stop_reason":"end_turn",`+
			`"usage":{"input_tokens":10,"output_tokens":3}}`)
	}))
	defer server.Close()

	solver, err := NewClaudeSolver(Config{APIKey: "test-key", Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewClaudeSolver: %v", err)
	}
	got, err := solver.Solve(context.Background(), Image{Data: testPNG(t, 50, 20), MediaType: "image/png"})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if got != "7GH2K" {
		t.Errorf("expected 7GH2K, got %q", got)
	}
}

func TestOpenAISolver(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") || r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, `{"error":{"message":"unexpected request"}}`, http.StatusBadRequest)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(raw), "data:image/png;base64,") {
			http.Error(w, `{"error":{"message":"image missing"}}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o",`+
			`"choices":[{"index":0,"message":{"role":"assistant","content":"m4x9"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	solver, err := NewOpenAISolver(Config{APIKey: "test-key", Endpoint: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAISolver: %v", err)
	}
	got, err := solver.Solve(context.Background(), Image{Data: testPNG(t, 50, 20), MediaType: "image/png"})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if got != "m4x9" {
		t.Errorf("expected m4x9, got %q", got)
	}
}

func TestHTTPSolver(t *testing.T) {
	t.Parallel()

	newServer := func(reply string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			if _, err := base64.StdEncoding.DecodeString(r.PostForm.Get("image")); err != nil || r.PostForm.Get("type") != "image/png" {
				http.Error(w, "bad form", http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, reply)
		}))
	}

	testCases := []struct {
		name  string
		reply string
		want  string
	}{
		{"plain text", "ab12\n", "ab12"},
		{"json text field", `{"text":"zq81"}`, "zq81"},
		{"json answer field", `{"ok":true,"answer":"P0P0"}`, "P0P0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := newServer(tc.reply)
			defer server.Close()

			solver, err := NewHTTPSolver(Config{Endpoint: server.URL + "/solve"}, nil)
			if err != nil {
				t.Fatalf("NewHTTPSolver: %v", err)
			}
			got, err := solver.Solve(context.Background(), Image{Data: testPNG(t, 30, 10), MediaType: "image/png"})
			if err != nil {
				t.Fatalf("Solve: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}

	t.Run("json without an answer", func(t *testing.T) {
		t.Parallel()

		server := newServer(`{"error":"unreadable"}`)
		defer server.Close()

		client, err := exchange.NewClient()
		if err != nil {
			t.Fatalf("exchange.NewClient: %v", err)
		}
		solver, err := NewHTTPSolver(Config{Endpoint: server.URL}, client)
		if err != nil {
			t.Fatalf("NewHTTPSolver: %v", err)
		}
		if _, err := solver.Solve(context.Background(), Image{Data: testPNG(t, 30, 10)}); !errors.Is(err, ErrEmptyAnswer) {
			t.Errorf("expected ErrEmptyAnswer, got %v", err)
		}
	})

	t.Run("error status", func(t *testing.T) {
		t.Parallel()

		server := newServer("")
		defer server.Close()

		solver, err := NewHTTPSolver(Config{Endpoint: server.URL}, nil)
		if err != nil {
			t.Fatalf("NewHTTPSolver: %v", err)
		}
		// the server only accepts image/png
		img := Image{Data: testPNG(t, 30, 10), MediaType: "image/jpeg"}
		if _, err := solver.Solve(context.Background(), img); err == nil {
			t.Error("expected an error for a 400 reply")
		}
	})
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Kind: "tesseract"}, nil); !errors.Is(err, ErrUnknownSolver) {
		t.Errorf("expected ErrUnknownSolver, got %v", err)
	}
	if _, err := New(Config{Kind: KindHTTP}, nil); !errors.Is(err, ErrMissingEndpoint) {
		t.Errorf("expected ErrMissingEndpoint, got %v", err)
	}

	for _, kind := range []string{KindClaude, KindOpenAI} {
		s, err := New(Config{Kind: kind, APIKey: "k"}, nil)
		if err != nil || s == nil {
			t.Errorf("New(%s): %v", kind, err)
		}
	}

	s, err := New(Config{Kind: KindHTTP, Endpoint: "http://ocr.local/solve"}, nil)
	if err != nil {
		t.Fatalf("New(http): %v", err)
	}
	if _, ok := s.(*HTTPSolver); !ok {
		t.Errorf("expected *HTTPSolver, got %T", s)
	}
}

func TestHostedSolversRequireKeys(t *testing.T) {
	for _, name := range []string{"NARCHIVER_ANTHROPIC_KEY", "ANTHROPIC_API_KEY", "NARCHIVER_OPENAI_KEY", "OPENAI_API_KEY"} {
		t.Setenv(name, "")
	}

	if _, err := NewClaudeSolver(Config{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey for Claude, got %v", err)
	}
	if _, err := NewOpenAISolver(Config{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey for OpenAI, got %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	if _, err := NewClaudeSolver(Config{}); err != nil {
		t.Errorf("expected the environment key to be used, got %v", err)
	}
}
