package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// minReadableLength is the shortest readability text accepted before falling back to a plain text walk.
const minReadableLength = 50

// Extraction is the parsed form of a fetched HTML page.
type Extraction struct {
	Title   string
	Content string
	Links   []*url.URL
}

// Extractor turns HTML into Markdown content, a title and outgoing links.
// It is safe for concurrent use.
type Extractor struct {
	md *converter.Converter
}

// NewExtractor builds an Extractor with a shared Markdown converter.
func NewExtractor() *Extractor {
	return &Extractor{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal)),
			),
		),
	}
}

// Extract parses body fetched from pageURL. Links are only collected when withLinks is set.
func (e *Extractor) Extract(body []byte, pageURL *url.URL, withLinks bool) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Extraction{}, fmt.Errorf("parse html: %w", err)
	}
	out := Extraction{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	if withLinks {
		out.Links = extractLinks(doc, pageURL)
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && len(strings.TrimSpace(article.TextContent)) >= minReadableLength {
		if article.Title != "" {
			out.Title = strings.TrimSpace(article.Title)
		}
		md, mdErr := e.md.ConvertString(article.Content, converter.WithDomain(pageURL.Scheme+"://"+pageURL.Host))
		if mdErr == nil && strings.TrimSpace(md) != "" {
			out.Content = strings.TrimSpace(md)
			return out, nil
		}
		out.Content = strings.TrimSpace(article.TextContent)
		return out, nil
	}

	out.Content = plainText(body)
	return out, nil
}

func extractLinks(doc *goquery.Document, pageURL *url.URL) []*url.URL {
	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved := ResolveLink(pageURL, href); resolved != nil {
			base = resolved
		}
	}
	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if link := ResolveLink(base, href); link != nil {
			links = append(links, link)
		}
	})
	return links
}

// plainText walks the node tree and joins visible text nodes line by line.
func plainText(body []byte) string {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head", "template", "svg":
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String()
}
