// internal/app/renderer.go
package app

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"renewal_notifier/internal/domain/subscription"
)

var ErrMissingRecipient = fmt.Errorf("subscription has no customer email")

// RenderedMessage is a reminder ready for delivery.
type RenderedMessage struct {
	Recipient string
	Subject   string
	Text      string
	HTML      string
	Locale    Locale
}

type RendererConfig struct {
	DefaultLocale   Locale
	Location        *time.Location
	SubjectOverride string
	BrandName       string
	ContactEmail    string
}

// Renderer turns a snapshot into a reminder. The output depends only on the snapshot
// and the configuration.
type Renderer struct {
	cfg  RendererConfig
	text map[Locale]*texttemplate.Template
	html map[Locale]*htmltemplate.Template
}

var subjects = map[Locale]string{
	LocaleSwedish: "Snart dags för nästa leverans",
	LocaleEnglish: "Your next delivery is coming up",
}

var dateLayouts = map[Locale]string{
	LocaleSwedish: "2006-01-02",
	LocaleEnglish: "January 2, 2006",
}

func NewRenderer(cfg RendererConfig) *Renderer {
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = LocaleSwedish
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	r := &Renderer{
		cfg:  cfg,
		text: make(map[Locale]*texttemplate.Template, len(supportedLocales)),
		html: make(map[Locale]*htmltemplate.Template, len(supportedLocales)),
	}
	for _, loc := range supportedLocales {
		r.text[loc] = texttemplate.Must(texttemplate.New("text_" + string(loc)).Parse(textTemplates[loc]))
		r.html[loc] = htmltemplate.Must(htmltemplate.New("html_" + string(loc)).Parse(htmlLayout))
	}
	return r
}

type messageData struct {
	Greeting     string
	ProductName  string
	Price        string
	Interval     string
	RenewalDate  string
	PortalLink   string
	BrandName    string
	ContactEmail string
	Lang         string
	Copy         htmlCopy
}

func (r *Renderer) Render(snap subscription.Snapshot) (*RenderedMessage, error) {
	recipient := strings.TrimSpace(snap.CustomerEmail)
	if recipient == "" {
		return nil, ErrMissingRecipient
	}

	locale := ResolveLocale(snap.CustomerLocale, r.cfg.DefaultLocale)
	data := messageData{
		Greeting:     greetingName(snap.CustomerName, recipient),
		ProductName:  snap.ProductName,
		Price:        FormatPrice(snap.PriceAmountMinor, snap.Currency),
		Interval:     IntervalPhrase(snap.IntervalUnit, snap.IntervalCount, locale),
		RenewalDate:  snap.RenewalTime().In(r.cfg.Location).Format(dateLayouts[locale]),
		PortalLink:   snap.PortalLink,
		BrandName:    r.cfg.BrandName,
		ContactEmail: r.cfg.ContactEmail,
		Lang:         string(locale),
		Copy:         htmlCopies[locale],
	}

	var text bytes.Buffer
	if err := r.text[locale].Execute(&text, data); err != nil {
		return nil, fmt.Errorf("render text body: %w", err)
	}
	var html bytes.Buffer
	if err := r.html[locale].Execute(&html, data); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}

	subject := r.cfg.SubjectOverride
	if subject == "" {
		subject = subjects[locale]
	}

	return &RenderedMessage{
		Recipient: recipient,
		Subject:   subject,
		Text:      text.String(),
		HTML:      html.String(),
		Locale:    locale,
	}, nil
}

func greetingName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

type currencyFormat struct {
	prefix      string
	suffix      string
	zeroDecimal bool
	decimalSep  string
	trimWhole   bool
}

var currencyFormats = map[string]currencyFormat{
	"sek": {suffix: " kr", decimalSep: ",", trimWhole: true},
	"nok": {suffix: " kr", decimalSep: ",", trimWhole: true},
	"dkk": {suffix: " kr", decimalSep: ",", trimWhole: true},
	"eur": {suffix: " €", decimalSep: ","},
	"usd": {prefix: "$", decimalSep: "."},
	"gbp": {prefix: "£", decimalSep: "."},
	"jpy": {suffix: " JPY", zeroDecimal: true},
	"krw": {suffix: " KRW", zeroDecimal: true},
	"isk": {suffix: " ISK", zeroDecimal: true},
	"vnd": {suffix: " VND", zeroDecimal: true},
	"clp": {suffix: " CLP", zeroDecimal: true},
}

// FormatPrice renders a minor-unit amount: 24900 sek is "249 kr", 24950 sek is "249,50 kr",
// 1999 usd is "$19.99" and 1200 jpy is "1200 JPY".
func FormatPrice(amountMinor int64, currency string) string {
	code := strings.ToLower(strings.TrimSpace(currency))
	format, ok := currencyFormats[code]
	if !ok {
		format = currencyFormat{suffix: " " + strings.ToUpper(code), decimalSep: "."}
	}

	sign := ""
	if amountMinor < 0 {
		sign = "-"
		amountMinor = -amountMinor
	}

	var number string
	switch {
	case format.zeroDecimal:
		number = fmt.Sprintf("%d", amountMinor)
	case format.trimWhole && amountMinor%100 == 0:
		number = fmt.Sprintf("%d", amountMinor/100)
	default:
		number = fmt.Sprintf("%d%s%02d", amountMinor/100, format.decimalSep, amountMinor%100)
	}
	return sign + format.prefix + number + format.suffix
}

var textTemplates = map[Locale]string{
	LocaleSwedish: `Hej {{.Greeting}},

Det börjar bli dags för nästa leverans av din prenumeration:

{{.ProductName}} – {{.Price}}

Leveransen sker {{.Interval}}. Din nästa förnyelse sker automatiskt den {{.RenewalDate}}.
{{- if .PortalLink}}

Vill du ändra eller pausa? Gå till kundportalen: {{.PortalLink}}
{{- end}}
{{- if .ContactEmail}}

Frågor? Kontakta oss på {{.ContactEmail}}
{{- end}}

Varma hälsningar,
{{if .BrandName}}{{.BrandName}}{{else}}Kundtjänst{{end}}
`,
	LocaleEnglish: `Hi {{.Greeting}},

Your next delivery is coming up soon:

{{.ProductName}} – {{.Price}}

Your subscription renews {{.Interval}}. The next renewal happens automatically on {{.RenewalDate}}.
{{- if .PortalLink}}

Want to change or pause it? Visit the customer portal: {{.PortalLink}}
{{- end}}
{{- if .ContactEmail}}

Questions? Reach us at {{.ContactEmail}}
{{- end}}

Warm regards,
{{if .BrandName}}{{.BrandName}}{{else}}Customer service{{end}}
`,
}

type htmlCopy struct {
	Hello     string
	Intro     string
	Cadence   string
	Renews    string
	Portal    string
	Questions string
	Regards   string
	Fallback  string
}

var htmlCopies = map[Locale]htmlCopy{
	LocaleSwedish: {
		Hello:     "Hej",
		Intro:     "Det börjar bli dags för nästa leverans av din prenumeration:",
		Cadence:   "Leveransen sker",
		Renews:    "Din nästa förnyelse sker automatiskt den",
		Portal:    "Kundportal",
		Questions: "Frågor? Kontakta oss på",
		Regards:   "Varma hälsningar,",
		Fallback:  "Kundtjänst",
	},
	LocaleEnglish: {
		Hello:     "Hi",
		Intro:     "Your next delivery is coming up soon:",
		Cadence:   "Your subscription renews",
		Renews:    "The next renewal happens automatically on",
		Portal:    "Customer portal",
		Questions: "Questions? Reach us at",
		Regards:   "Warm regards,",
		Fallback:  "Customer service",
	},
}

// Dark background, inline styles only.
const htmlLayout = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<body style="margin:0;padding:0;background:#0f0f0f;font-family:Arial,sans-serif;color:#ffffff;">
  <table width="100%" cellpadding="0" cellspacing="0">
    <tr>
      <td align="center" style="padding:32px;">
        <table width="100%" style="max-width:600px;background:#151515;border-radius:12px;padding:32px;">
          <tr>
            <td style="font-size:16px;line-height:1.6;">
              <p>{{.Copy.Hello}} {{.Greeting}},</p>
              <p>{{.Copy.Intro}}</p>
              <p style="font-size:17px;font-weight:600;margin:16px 0;">{{.ProductName}} – {{.Price}}</p>
              <p>{{.Copy.Cadence}} {{.Interval}}. {{.Copy.Renews}} <strong>{{.RenewalDate}}</strong>.</p>
              {{- if .PortalLink}}
              <p style="margin-top:24px;">
                <a href="{{.PortalLink}}" style="display:inline-block;background:#ffffff;color:#000000;padding:14px 22px;border-radius:999px;font-weight:600;text-decoration:none;">{{.Copy.Portal}}</a>
              </p>
              {{- end}}
              {{- if .ContactEmail}}
              <p>{{.Copy.Questions}} <a href="mailto:{{.ContactEmail}}" style="color:#ffffff;">{{.ContactEmail}}</a></p>
              {{- end}}
              <p style="margin-top:24px;">{{.Copy.Regards}}<br/>{{if .BrandName}}{{.BrandName}}{{else}}{{.Copy.Fallback}}{{end}}</p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>
`
