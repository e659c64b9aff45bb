package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
)

// domScript runs inside the rendered page and collects the hints that
// client-side rendered directories only expose after hydration.
const domScript = `(() => {
  const text = (el) => (el && el.textContent ? el.textContent.trim() : "");
  const meta = (sel) => { const m = document.querySelector(sel); return m ? (m.getAttribute("content") || "") : ""; };
  const out = {
    name: text(document.querySelector("h1")),
    description: meta('meta[name="description"]') || meta('meta[property="og:description"]'),
    tags: Array.from(document.querySelectorAll('[data-tag], a[href*="/tags/"], a[href*="?tag="]')).map(text).filter(Boolean),
    repositoryUrl: "",
    verified: !!document.querySelector('[data-verified="true"], [aria-label="Verified"]'),
    tools: [],
    clients: Array.from(document.querySelectorAll("[data-client]")).map((el) => el.getAttribute("data-client") || text(el)).filter(Boolean),
  };
  const gh = Array.from(document.querySelectorAll('a[href*="github.com/"]')).map((a) => a.href).find((h) => /github\.com\/[^/]+\/[^/?#]+/.test(h));
  if (gh) out.repositoryUrl = gh;
  document.querySelectorAll("[data-tool-name]").forEach((el) => {
    const d = el.querySelector("[data-tool-description], p");
    out.tools.push({ name: el.getAttribute("data-tool-name"), description: text(d) });
  });
  return out;
})()`

type domPayload struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Tags          []string `json:"tags"`
	RepositoryURL string   `json:"repositoryUrl"`
	Verified      bool     `json:"verified"`
	Tools         []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"tools"`
	Clients []string `json:"clients"`
}

var (
	toolNameShape = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*(?:[_-][A-Za-z0-9]+)+$|^[a-z]+[A-Z][A-Za-z0-9]*$`)
	repoHref      = regexp.MustCompile(`github\.com/[^/\s]+/[^/\s?#]+`)
	countPattern  = regexp.MustCompile(`([\d.,]+)\s*([kKmM]?)`)
)

// DOMExtractor renders the section page in a browser and reads fields from
// the evaluated script result and the rendered DOM.
type DOMExtractor struct {
	loader crawler.PageLoader
	logger *zap.Logger
}

// NewDOMExtractor builds a DOM-pattern strategy on top of loader.
func NewDOMExtractor(loader crawler.PageLoader, logger *zap.Logger) *DOMExtractor {
	return &DOMExtractor{loader: loader, logger: logging.OrNop(logger).Named("extract.dom")}
}

// Name identifies the strategy in logs and metrics.
func (e *DOMExtractor) Name() string { return "dom" }

// Extract loads the page and parses it.
func (e *DOMExtractor) Extract(ctx context.Context, in crawler.ExtractInput) crawler.Result {
	raw, err := e.loader.Load(ctx, in.URL, domScript)
	if err != nil {
		return crawler.Failed(fmt.Errorf("load %s: %w", in.URL, err))
	}
	fields, err := ParseSection(in.Section, raw)
	if err != nil {
		return crawler.Failed(err)
	}
	if fields.IsEmpty() {
		e.logger.Info("no fields found in page", zap.String("section", string(in.Section)), zap.String("url", in.URL))
	}
	return crawler.OK(fields)
}

// ParseSection extracts fields from a rendered section. Values from the
// evaluated script win; the HTML fills whatever is still missing.
func ParseSection(section crawler.Section, raw crawler.RawSection) (crawler.Fields, error) {
	var fields crawler.Fields
	if len(raw.Evaluated) > 0 && string(raw.Evaluated) != "null" {
		var p domPayload
		if err := json.Unmarshal(raw.Evaluated, &p); err != nil {
			return crawler.Fields{}, fmt.Errorf("decode evaluated payload: %w", err)
		}
		fields.Merge(payloadFields(section, p))
	}

	if strings.TrimSpace(raw.HTML) != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw.HTML))
		if err != nil {
			return crawler.Fields{}, fmt.Errorf("parse html: %w", err)
		}
		switch section {
		case crawler.SectionOverview:
			fields.Merge(overviewFromDoc(doc))
		case crawler.SectionTools:
			fields.Merge(crawler.Fields{Tools: toolsFromDoc(doc)})
		case crawler.SectionAPI:
			fields.Merge(apiFromDoc(doc))
		}
		fields.Text = HTMLToMarkdown(mainHTML(doc), raw.URL)
	}
	if fields.Text == "" {
		fields.Text = strings.TrimSpace(raw.Text)
	}
	fields.Tags = NormalizeTags(fields.Tags)
	fields.Tools = FilterToolNames(fields.Tools)
	return fields, nil
}

func payloadFields(section crawler.Section, p domPayload) crawler.Fields {
	var f crawler.Fields
	switch section {
	case crawler.SectionOverview:
		f.Name = CleanText(p.Name)
		f.Description = CleanText(p.Description)
		f.Tags = p.Tags
		f.RepositoryURL = p.RepositoryURL
		if p.Verified {
			v := true
			f.Verified = &v
		}
	case crawler.SectionTools:
		for _, t := range p.Tools {
			f.Tools = append(f.Tools, crawler.Tool{Name: t.Name, Description: t.Description})
		}
	case crawler.SectionAPI:
		for _, c := range p.Clients {
			f.Clients = append(f.Clients, crawler.CompatibleClient{Name: CleanText(c)})
		}
	}
	return f
}

func overviewFromDoc(doc *goquery.Document) crawler.Fields {
	f := crawler.Fields{
		Name: firstNonEmpty(
			CleanText(doc.Find("h1").First().Text()),
			attr(doc, `meta[property="og:title"]`, "content"),
		),
		Description: firstNonEmpty(
			attr(doc, `meta[name="description"]`, "content"),
			attr(doc, `meta[property="og:description"]`, "content"),
			CleanText(doc.Find("main p").First().Text()),
		),
		Homepage: attr(doc, `a[rel="homepage"], a[data-homepage]`, "href"),
	}
	doc.Find(`[data-tag], a[href*="/tags/"], a[href*="?tag="], .tag`).Each(func(_ int, s *goquery.Selection) {
		f.Tags = append(f.Tags, CleanText(s.Text()))
	})
	doc.Find(`a[href*="github.com/"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if repoHref.MatchString(href) {
			f.RepositoryURL = href
			return false
		}
		return true
	})
	if doc.Find(`[data-verified="true"], [aria-label="Verified"]`).Length() > 0 {
		v := true
		f.Verified = &v
	}
	if stars := doc.Find(`[data-stars], [aria-label*="stars"]`).First(); stars.Length() > 0 {
		raw, ok := stars.Attr("data-stars")
		if !ok {
			raw = stars.Text()
		}
		if n := ParseCount(raw); n > 0 {
			f.Stats = &crawler.RepoStats{Stars: n}
		}
	}
	return f
}

func toolsFromDoc(doc *goquery.Document) []crawler.Tool {
	var tools []crawler.Tool
	doc.Find("[data-tool-name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("data-tool-name")
		desc := s.Find("[data-tool-description], p").First().Text()
		tools = append(tools, crawler.Tool{Name: name, Description: desc})
	})
	doc.Find("h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		name := strings.Trim(CleanText(s.Text()), "`")
		if !toolNameShape.MatchString(name) {
			return
		}
		desc := s.NextFiltered("p").Text()
		if desc == "" {
			desc = s.Parent().Find("p").First().Text()
		}
		tools = append(tools, crawler.Tool{Name: name, Description: desc, Parameters: paramsAfter(s)})
	})
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		header := strings.ToLower(table.Find("th").First().Text())
		if !strings.Contains(header, "name") && !strings.Contains(header, "tool") {
			return
		}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() == 0 {
				return
			}
			tools = append(tools, crawler.Tool{
				Name:        strings.Trim(CleanText(cells.Eq(0).Text()), "`"),
				Description: cells.Eq(1).Text(),
			})
		})
	})
	return tools
}

// paramsAfter reads a parameter list rendered as "name (type): description"
// items directly following a tool heading.
func paramsAfter(heading *goquery.Selection) []crawler.Parameter {
	var params []crawler.Parameter
	heading.NextUntil("h2, h3, h4").Filter("ul").First().Find("li").Each(func(_ int, li *goquery.Selection) {
		name := strings.Trim(CleanText(li.Find("code").First().Text()), "`")
		if name == "" {
			return
		}
		text := CleanText(li.Text())
		p := crawler.Parameter{Name: name, Required: strings.Contains(strings.ToLower(text), "required")}
		if open := strings.Index(text, "("); open >= 0 {
			if end := strings.Index(text[open:], ")"); end > 0 {
				p.Type = strings.TrimSpace(strings.TrimSuffix(text[open+1:open+end], ", required"))
			}
		}
		if colon := strings.Index(text, ":"); colon >= 0 {
			p.Description = strings.TrimSpace(text[colon+1:])
		}
		params = append(params, p)
	})
	return params
}

func apiFromDoc(doc *goquery.Document) crawler.Fields {
	var f crawler.Fields
	doc.Find("[data-client]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("data-client")
		if name == "" {
			name = s.Text()
		}
		href, _ := s.Attr("href")
		f.Clients = append(f.Clients, crawler.CompatibleClient{Name: CleanText(name), URL: href})
	})
	doc.Find("h2, h3").Each(func(_ int, s *goquery.Selection) {
		if !strings.Contains(strings.ToLower(s.Text()), "client") {
			return
		}
		s.NextUntil("h2, h3").Find("li").Each(func(_ int, li *goquery.Selection) {
			href, _ := li.Find("a").Attr("href")
			f.Clients = append(f.Clients, crawler.CompatibleClient{Name: CleanText(li.Text()), URL: href})
		})
	})
	install := crawler.EmptyInstall()
	doc.Find("pre code, pre").Each(func(_ int, s *goquery.Selection) {
		block := strings.TrimSpace(s.Text())
		if block == "" {
			return
		}
		platform := ClassifyCommand(block)
		if platform == crawler.PlatformManual {
			return
		}
		install.Set(platform, firstCommand(block))
	})
	if !install.IsEmpty() {
		f.Install = &install
	}
	return f
}

func mainHTML(doc *goquery.Document) string {
	for _, sel := range []string{"main", "article", "body"} {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			if html, err := goquery.OuterHtml(s); err == nil {
				return html
			}
		}
	}
	html, _ := doc.Html()
	return html
}

func attr(doc *goquery.Document, selector, name string) string {
	v, _ := doc.Find(selector).First().Attr(name)
	return strings.TrimSpace(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ParseCount reads counters like "1,234", "3.2k" or "1M".
func ParseCount(raw string) int {
	m := countPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "k":
		n *= 1_000
	case "m":
		n *= 1_000_000
	}
	return int(math.Round(n))
}
