package telegram

import (
	"html"
	"regexp"
	"strings"
)

var (
	reBold    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reItalic  = regexp.MustCompile(`\*([^*\s](?:[^*]*[^*\s])?)\*`)
	reLink    = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	reHeading = regexp.MustCompile(`^#{1,6}\s+(.*)$`)
	reBullet  = regexp.MustCompile(`^(\s*)[-*+]\s+`)
)

// MarkdownToTelegramHTML converts the Markdown subset models typically emit
// (bold, italic, inline code, fenced code, links, headings, bullets) to
// Telegram's HTML parse mode.
func MarkdownToTelegramHTML(md string) string {
	lines := strings.Split(md, "\n")
	out := make([]string, 0, len(lines))
	inFence := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inFence {
				out = append(out, "</pre>")
			} else {
				out = append(out, "<pre>")
			}
			inFence = !inFence
			continue
		}
		if inFence {
			out = append(out, html.EscapeString(line))
			continue
		}
		out = append(out, blockLine(line))
	}
	if inFence {
		out = append(out, "</pre>")
	}
	return strings.Join(out, "\n")
}

func blockLine(line string) string {
	if m := reHeading.FindStringSubmatch(line); m != nil {
		return "<b>" + inline(m[1]) + "</b>"
	}
	if m := reBullet.FindStringSubmatch(line); m != nil {
		return m[1] + "• " + inline(line[len(m[0]):])
	}
	return inline(line)
}

// inline formats one line. Backtick pairs delimit code spans; an unmatched
// trailing backtick is kept literally.
func inline(line string) string {
	parts := strings.Split(line, "`")
	var b strings.Builder
	for i, p := range parts {
		switch {
		case i%2 == 1 && i < len(parts)-1:
			b.WriteString("<code>" + html.EscapeString(p) + "</code>")
		case i%2 == 1:
			b.WriteString("`" + emphasis(p))
		default:
			b.WriteString(emphasis(p))
		}
	}
	return b.String()
}

func emphasis(s string) string {
	s = html.EscapeString(s)
	s = reBold.ReplaceAllString(s, "<b>$1</b>")
	s = reItalic.ReplaceAllString(s, "<i>$1</i>")
	return reLink.ReplaceAllString(s, `<a href="$2">$1</a>`)
}

// StripMarkdown removes Markdown markers, for the plain-text fallback.
func StripMarkdown(md string) string {
	lines := strings.Split(md, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		if m := reHeading.FindStringSubmatch(line); m != nil {
			line = m[1]
		}
		if m := reBullet.FindStringSubmatch(line); m != nil {
			line = m[1] + "• " + line[len(m[0]):]
		}
		line = strings.ReplaceAll(line, "`", "")
		line = reBold.ReplaceAllString(line, "$1")
		line = reItalic.ReplaceAllString(line, "$1")
		line = reLink.ReplaceAllString(line, "$1 ($2)")
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
