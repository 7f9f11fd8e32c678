package chat

import (
	"strings"

	"golang.org/x/net/html"
)

// PlainText сворачивает HTML-фрагмент в текст: теги выбрасываются,
// <br> и закрывающие блочные теги превращаются в перевод строки,
// сущности раскодируются.
func PlainText(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if string(name) == "br" {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "div", "li", "pre", "tr":
				b.WriteByte('\n')
			}
		}
	}
}
