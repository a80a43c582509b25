package auth

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nao1215/narchiver/internal/model"
)

// loginForm is the parsed login form.
type loginForm struct {
	// action is the absolute submit URL from the form, or "" if none.
	action string

	// hidden holds every named hidden input in document order.
	hidden []model.Header

	// submit is the form's named submit control, if any.
	submit *model.Header

	// sel is the form element, used for CAPTCHA image lookup.
	sel *goquery.Selection
}

// findLoginForm locates the login form in doc.
//
// Lookup order:
//  1. The element with the configured id (itself if a form, else its first form)
//  2. A form whose action resolves to the configured submit path
//  3. The first form whose method is POST
func findLoginForm(doc *goquery.Document, base *url.URL, elementID, submitPath string) (*loginForm, error) {
	if elementID != "" {
		el := doc.Find(fmt.Sprintf(`[id=%q]`, elementID)).First()
		if el.Length() > 0 {
			form := el
			if goquery.NodeName(el) != "form" {
				form = el.Find("form").First()
			}
			if form.Length() > 0 {
				return parseForm(form, base), nil
			}
		}
	}

	if submitPath != "" {
		var match *goquery.Selection
		doc.Find("form[action]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			action, _ := s.Attr("action")
			if actionMatches(base, action, submitPath) {
				match = s
				return false
			}
			return true
		})
		if match != nil {
			return parseForm(match, base), nil
		}
	}

	var post *goquery.Selection
	doc.Find("form").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.EqualFold(strings.TrimSpace(s.AttrOr("method", "")), "post") {
			post = s
			return false
		}
		return true
	})
	if post != nil {
		return parseForm(post, base), nil
	}
	return nil, ErrLoginFormNotFound
}

// actionMatches reports whether a form action points at submitPath.
func actionMatches(base *url.URL, action, submitPath string) bool {
	resolved, err := resolve(base, action)
	if err != nil {
		return false
	}
	if want, err := resolve(base, submitPath); err == nil && want.String() == resolved.String() {
		return true
	}
	return strings.Contains(resolved.RequestURI(), submitPath)
}

// parseForm extracts the fields of a form.
func parseForm(form *goquery.Selection, base *url.URL) *loginForm {
	lf := &loginForm{sel: form}

	if action := strings.TrimSpace(form.AttrOr("action", "")); action != "" {
		if u, err := resolve(base, action); err == nil {
			lf.action = u.String()
		}
	}

	form.Find("input").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		switch strings.ToLower(s.AttrOr("type", "text")) {
		case "hidden":
			lf.hidden = append(lf.hidden, model.Header{Name: name, Value: s.AttrOr("value", "")})
		case "submit":
			if lf.submit == nil {
				lf.submit = &model.Header{Name: name, Value: s.AttrOr("value", "")}
			}
		}
	})

	if lf.submit == nil {
		form.Find("button[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if t := strings.ToLower(s.AttrOr("type", "submit")); t != "submit" {
				return true
			}
			lf.submit = &model.Header{Name: s.AttrOr("name", ""), Value: s.AttrOr("value", "")}
			return false
		})
	}
	return lf
}

// captchaImageSrc returns the src of the CAPTCHA image in the form, or in
// the whole document when the form has none. Images whose src, id, alt or
// class contains a marker are preferred.
func captchaImageSrc(doc *goquery.Document, form *goquery.Selection, markers []string) (string, bool) {
	if src, ok := pickImage(form.Find("img[src]"), markers, true); ok {
		return src, true
	}
	return pickImage(doc.Find("img[src]"), markers, false)
}

// pickImage chooses a marked image from imgs, falling back to the first
// one when anyImage is set.
func pickImage(imgs *goquery.Selection, markers []string, anyImage bool) (string, bool) {
	if imgs.Length() == 0 {
		return "", false
	}

	var src string
	imgs.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		hay := strings.ToLower(strings.Join([]string{
			s.AttrOr("src", ""), s.AttrOr("id", ""), s.AttrOr("alt", ""), s.AttrOr("class", ""),
		}, " "))
		for _, m := range markers {
			if m != "" && strings.Contains(hay, strings.ToLower(m)) {
				src = s.AttrOr("src", "")
				return false
			}
		}
		return true
	})
	if src != "" {
		return src, true
	}
	if anyImage {
		return imgs.First().AttrOr("src", ""), true
	}
	return "", false
}

// decodeDataURI decodes a base64 data: URI. ok is false for other URIs.
func decodeDataURI(src string) (data []byte, mediaType string, ok bool, err error) {
	if !strings.HasPrefix(src, "data:") {
		return nil, "", false, nil
	}
	meta, payload, found := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !found {
		return nil, "", true, fmt.Errorf("invalid data URI")
	}
	mediaType, _, _ = strings.Cut(meta, ";")
	if !strings.HasSuffix(meta, ";base64") {
		unescaped, err := url.PathUnescape(payload)
		return []byte(unescaped), mediaType, true, err
	}
	data, err = base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	return data, mediaType, true, err
}

// resolve resolves ref against base.
func resolve(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(u), nil
}
