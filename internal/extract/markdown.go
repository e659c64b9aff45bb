package extract

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// HTMLToMarkdown converts page HTML to markdown, resolving relative links
// against pageURL. If conversion fails the plain document text is returned.
func HTMLToMarkdown(html, pageURL string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	md, err := mdConverter.ConvertString(html, converter.WithDomain(pageURL))
	if err == nil {
		return strings.TrimSpace(md)
	}
	doc, docErr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if docErr != nil {
		return ""
	}
	return CleanText(doc.Text())
}
