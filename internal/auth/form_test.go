package auth

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func mustDoc(t *testing.T, body string) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		t.Fatalf("goquery: %v", err)
	}
	return doc
}

func TestFindLoginForm(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("http://forum.example/login")

	const page = `
<form id="search" method="get" action="/search"><input type="hidden" name="f" value="search"></form>
<form method="post" action="/newsletter"><input type="hidden" name="f" value="news"></form>
<div id="box"><form method="post" action="/session"><input type="hidden" name="f" value="box"></form></div>
<form id="main" method="post" action="./do_login?x=1"><input type="hidden" name="f" value="main"></form>`

	testCases := []struct {
		name       string
		element    string
		submitPath string
		want       string
	}{
		{"element is a form", "main", "", "main"},
		{"element contains a form", "box", "", "box"},
		{"unknown element falls back to submit path", "nope", "/session", "box"},
		{"submit path by substring", "", "do_login", "main"},
		{"submit path exact", "", "/do_login?x=1", "main"},
		{"first POST form", "", "", "news"},
		{"element form is used regardless of method", "search", "", "search"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			form, err := findLoginForm(mustDoc(t, page), base, tc.element, tc.submitPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(form.hidden) != 1 || form.hidden[0].Value != tc.want {
				t.Errorf("expected form %q, got %+v", tc.want, form.hidden)
			}
		})
	}

	t.Run("no form", func(t *testing.T) {
		t.Parallel()

		_, err := findLoginForm(mustDoc(t, `<form method="get"></form>`), base, "", "/session")
		if !errors.Is(err, ErrLoginFormNotFound) {
			t.Errorf("expected ErrLoginFormNotFound, got %v", err)
		}
	})
}

func TestParseForm(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("http://forum.example/ucp/login")
	doc := mustDoc(t, `<form method="post" action="../session">
		<input type="hidden" name="a" value="1">
		<input type="HIDDEN" name="b">
		<input type="hidden" value="unnamed">
		<input type="text" name="user">
		<button type="button" name="other">x</button>
		<button name="go" value="yes">Go</button>
	</form>`)

	lf := parseForm(doc.Find("form"), base)
	if lf.action != "http://forum.example/session" {
		t.Errorf("unexpected action %q", lf.action)
	}
	if len(lf.hidden) != 2 || lf.hidden[0].Name != "a" || lf.hidden[1].Name != "b" || lf.hidden[1].Value != "" {
		t.Errorf("unexpected hidden fields %+v", lf.hidden)
	}
	if lf.submit == nil || lf.submit.Name != "go" || lf.submit.Value != "yes" {
		t.Errorf("unexpected submit %+v", lf.submit)
	}
}

func TestCaptchaImageSrc(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		page    string
		markers []string
		want    string
		ok      bool
	}{
		{
			name:    "marker in form",
			page:    `<form><img src="/logo.png"><img src="/img/c.php" alt="Captcha"></form>`,
			markers: []string{"captcha"},
			want:    "/img/c.php",
			ok:      true,
		},
		{
			name: "first image in form without markers",
			page: `<form><img src="/first.png"><img src="/second.png"></form>`,
			want: "/first.png",
			ok:   true,
		},
		{
			name:    "marked image outside the form",
			page:    `<img src="/banner.png"><form></form><img id="captcha" src="/cap.jpg">`,
			markers: []string{"captcha"},
			want:    "/cap.jpg",
			ok:      true,
		},
		{
			name:    "no image",
			page:    `<img src="/banner.png"><form></form>`,
			markers: []string{"captcha"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			doc := mustDoc(t, tc.page)
			got, ok := captchaImageSrc(doc, doc.Find("form"), tc.markers)
			if got != tc.want || ok != tc.ok {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestDecodeDataURI(t *testing.T) {
	t.Parallel()

	data, mediaType, inline, err := decodeDataURI("data:image/gif;base64,R0lGODlh")
	if err != nil || !inline || mediaType != "image/gif" || string(data) != "GIF89a" {
		t.Errorf("unexpected result %q %q %v %v", data, mediaType, inline, err)
	}

	if _, _, inline, _ := decodeDataURI("/captcha.png"); inline {
		t.Error("a path must not be treated as inline")
	}
	if _, _, inline, err := decodeDataURI("data:image/png;base64"); !inline || err == nil {
		t.Error("expected an error for a data URI without payload")
	}
	if _, _, _, err := decodeDataURI("data:image/png;base64,***"); err == nil {
		t.Error("expected a base64 error")
	}
}
