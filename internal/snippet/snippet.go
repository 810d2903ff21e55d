// Package snippet turns a submitted payload into the markup injected into a
// page. Bare tracking identifiers are expanded through a template; anything
// else is taken to be markup already and is passed through untouched.
package snippet

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/JakeFAU/pixelpage/internal/artifact"
)

// DefaultIDPattern matches a TikTok pixel code. No run of the default
// template's text matches it, so an expanded id appears exactly once.
const DefaultIDPattern = `^[A-Z0-9]{20}$`

// DefaultTemplate is the TikTok pixel loader. It references the identifier once.
const DefaultTemplate = `<script>
!function (w, d, t) {
  w.TiktokAnalyticsObject=t;var ttq=w[t]=w[t]||[];ttq.methods=["page","track","identify","instances","debug","on","off","once","ready","alias","group","enableCookie","disableCookie"],ttq.setAndDefer=function(t,e){t[e]=function(){t.push([e].concat(Array.prototype.slice.call(arguments,0)))}};for(var i=0;i<ttq.methods.length;i++)ttq.setAndDefer(ttq,ttq.methods[i]);ttq.instance=function(t){for(var e=ttq._i[t]||[],n=0;n<ttq.methods.length;n++)ttq.setAndDefer(e,ttq.methods[n]);return e},ttq.load=function(e,n){var i="https://analytics.tiktok.com/i18n/pixel/events.js";ttq._i=ttq._i||{},ttq._i[e]=[],ttq._i[e]._u=i,ttq._t=ttq._t||{},ttq._t[e]=+new Date,ttq._o=ttq._o||{},ttq._o[e]=n||{};var o=document.createElement("script");o.type="text/javascript",o.async=!0,o.src=i+"?sdkid="+e+"&lib="+t;var a=document.getElementsByTagName("script")[0];a.parentNode.insertBefore(o,a)};
  ttq.load('{{.PixelID}}');
  ttq.page();
}(window, document, 'ttq');
</script>`

// Config controls identifier detection and expansion.
type Config struct {
	IDPattern string
	Template  string
}

type templateData struct {
	PixelID string
}

// Renderer implements artifact.SnippetRenderer.
type Renderer struct {
	idPattern *regexp.Regexp
	tmpl      *template.Template
}

// New compiles the pattern and template, falling back to the defaults for
// empty fields.
func New(cfg Config) (*Renderer, error) {
	pattern := cfg.IDPattern
	if pattern == "" {
		pattern = DefaultIDPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile id pattern: %w", err)
	}
	text := cfg.Template
	if text == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("snippet").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse snippet template: %w", err)
	}
	return &Renderer{idPattern: re, tmpl: tmpl}, nil
}

// Render returns the markup for payload. An empty payload is rejected with
// artifact.ErrInvalidPayload.
func (r *Renderer) Render(payload string) (string, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return "", artifact.ErrInvalidPayload
	}
	if !r.idPattern.MatchString(trimmed) {
		return payload, nil
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, templateData{PixelID: trimmed}); err != nil {
		return "", fmt.Errorf("render snippet: %w", err)
	}
	return buf.String(), nil
}
