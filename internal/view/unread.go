// Package view renders the unread summary for the browser (an htmx fragment)
// and for the terminal.
package view

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nfrund/fellowship/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	g "maragu.dev/gomponents"
	hx "maragu.dev/gomponents-htmx"
	. "maragu.dev/gomponents/html"
)

// SnippetLength is the number of characters of a message body shown in a preview.
const SnippetLength = 60

var titleCase = cases.Title(language.English)

// DropdownOptions controls the HTML fragment.
type DropdownOptions struct {
	// MarkReadURL receives the hx-post when a preview is opened.
	MarkReadURL string
	// ChannelURL is formatted with the channel id to build each preview's link.
	ChannelURL string
	Now        time.Time
}

// UnreadDropdown renders the badge and the preview list. An empty summary
// renders the badge hidden and a placeholder row.
func UnreadDropdown(s domain.UnreadSummary, opts DropdownOptions) g.Node {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	badge := s.Badge()
	badgeClass := "unread-badge"
	if badge == "" {
		badgeClass += " hidden"
	}

	return Div(ID("unread-dropdown"), Class("unread-dropdown"),
		hx.SwapOOB("true"),
		Span(Class(badgeClass), g.Text(badge)),
		g.If(len(s.Previews) == 0,
			P(Class("unread-empty"), g.Text("No unread messages")),
		),
		g.If(len(s.Previews) > 0,
			Ul(Class("unread-list"),
				g.Map(s.Previews, func(p domain.UnreadPreview) g.Node {
					return previewItem(p, opts, now)
				}),
			),
		),
	)
}

func previewItem(p domain.UnreadPreview, opts DropdownOptions, now time.Time) g.Node {
	href := "#"
	if opts.ChannelURL != "" {
		href = fmt.Sprintf(opts.ChannelURL, url.PathEscape(p.ChannelID))
	}
	return Li(Class("unread-item"), g.Attr("data-channel-id", p.ChannelID),
		A(Href(href),
			g.If(opts.MarkReadURL != "", g.Group{
				hx.Post(opts.MarkReadURL),
				hx.Vals(fmt.Sprintf(`{"channel_id":%q}`, p.ChannelID)),
				hx.Swap("none"),
			}),
			Div(Class("unread-head"),
				Strong(g.Text(p.SenderName)),
				Span(Class("unread-channel"), g.Text(ChannelLabel(p))),
				g.If(p.ChannelUnread > 1, Span(Class("unread-count"), g.Textf("%d", p.ChannelUnread))),
			),
			P(Class("unread-snippet"), g.Text(Snippet(p.Snippet))),
			g.El("time", g.Attr("datetime", p.CreatedAt.UTC().Format(time.RFC3339)), g.Text(Ago(p.CreatedAt, now))),
		),
	)
}

// UnreadText renders the summary as plain lines for the terminal.
func UnreadText(s domain.UnreadSummary, now time.Time) string {
	var b strings.Builder
	if s.Total == 0 {
		b.WriteString("No unread messages\n")
		return b.String()
	}
	fmt.Fprintf(&b, "%s unread\n", s.Badge())
	for _, p := range s.Previews {
		fmt.Fprintf(&b, "  [%s] %s: %s (%s)\n", ChannelLabel(p), p.SenderName, Snippet(p.Snippet), Ago(p.CreatedAt, now))
	}
	return b.String()
}

// ChannelLabel names the conversation a preview belongs to.
func ChannelLabel(p domain.UnreadPreview) string {
	if p.ChannelType == domain.CategoryDirect {
		return "Direct message"
	}
	if p.ChannelName != "" {
		return p.ChannelName
	}
	return titleCase.String(string(p.ChannelType))
}

// Snippet shortens body to SnippetLength characters on a rune boundary.
func Snippet(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(body) <= SnippetLength {
		return body
	}
	runes := []rune(body)
	return strings.TrimSpace(string(runes[:SnippetLength])) + "…"
}

// Ago formats the time since t the way the dropdown shows it.
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	default:
		return t.Format("Jan 2")
	}
}
