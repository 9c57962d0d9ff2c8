package notifications

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// StripHTML renders markup as readable plain text. Block elements become line breaks,
// link targets are kept after their text, and script/style content is dropped.
func StripHTML(markup string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(markup))

	var (
		out      strings.Builder
		skip     int
		linkHref []string
	)

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return tidyText(out.String())
		case html.TextToken:
			if skip > 0 {
				continue
			}
			out.WriteString(collapseSpaces(string(tokenizer.Text())))
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			switch token.DataAtom {
			case atom.Script, atom.Style, atom.Head, atom.Title:
				if token.Type == html.StartTagToken {
					skip++
				}
			case atom.Br:
				out.WriteString("\n")
			case atom.A:
				linkHref = append(linkHref, attr(token, "href"))
			default:
				if isBlock(token.DataAtom) {
					out.WriteString("\n")
				}
			}
		case html.EndTagToken:
			token := tokenizer.Token()
			switch token.DataAtom {
			case atom.Script, atom.Style, atom.Head, atom.Title:
				if skip > 0 {
					skip--
				}
			case atom.A:
				if n := len(linkHref); n > 0 {
					href := linkHref[n-1]
					linkHref = linkHref[:n-1]
					if href != "" && !strings.Contains(out.String(), href) {
						out.WriteString(" (" + href + ")")
					}
				}
			default:
				if isBlock(token.DataAtom) {
					out.WriteString("\n")
				}
			}
		}
	}
}

func attr(token html.Token, name string) string {
	for _, a := range token.Attr {
		if a.Key == name {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Header, atom.Footer,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Ul, atom.Ol, atom.Li, atom.Table, atom.Tr, atom.Blockquote, atom.Hr:
		return true
	}
	return false
}

// collapseSpaces folds whitespace runs while keeping a separator at either edge.
func collapseSpaces(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" {
			return " "
		}
		return ""
	}

	var b strings.Builder
	if isSpace(s[0]) {
		b.WriteByte(' ')
	}
	b.WriteString(strings.Join(fields, " "))
	if isSpace(s[len(s)-1]) {
		b.WriteByte(' ')
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func tidyText(s string) string {
	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(kept) > 0 {
				kept = append(kept, "")
			}
			blank = true
			continue
		}
		blank = false
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
