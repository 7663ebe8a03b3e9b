package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphRe  = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	codeBlockRe  = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	headingRe    = regexp.MustCompile(`(?s)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	tagRe        = regexp.MustCompile(`</?([a-zA-Z0-9]+)(?:\s[^>]*)?>`)
	extraNewline = regexp.MustCompile(`\n{3,}`)
)

// Tags Telegram accepts in HTML parse mode
var supportedTags = map[string]bool{
	"b": true, "i": true, "u": true, "s": true,
	"code": true, "pre": true, "a": true,
}

// ToTelegramHTML converts model output written in markdown to the HTML subset
// Telegram accepts.
func ToTelegramHTML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))
	return cleanHTMLForTelegram(html)
}

func cleanHTMLForTelegram(html string) string {
	html = paragraphRe.ReplaceAllString(html, "$1\n")
	html = headingRe.ReplaceAllString(html, "<b>$1</b>\n")
	html = codeBlockRe.ReplaceAllString(html, "<pre>$1</pre>")

	replacer := strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<del>", "<s>", "</del>", "</s>",
		"<ul>", "", "</ul>", "",
		"<ol>", "", "</ol>", "",
		"<li>", "• ", "</li>", "\n",
		"<br>", "\n", "<br/>", "\n", "<br />", "\n",
	)
	html = replacer.Replace(html)

	html = tagRe.ReplaceAllStringFunc(html, func(match string) string {
		name := tagRe.FindStringSubmatch(match)[1]
		if supportedTags[strings.ToLower(name)] {
			return match
		}
		return ""
	})

	html = extraNewline.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
