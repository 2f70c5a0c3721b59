package reader

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"rsc.io/pdf"
)

var ErrUnsupportedContentType = errors.New("unsupported content type")

const (
	maxTitleRunes = 240
	maxPDFRunes   = 220_000
)

// extractContent turns a response body into a title and plain text, capped at maxRunes.
func extractContent(contentType string, body []byte, maxRunes int) (title, text string, err error) {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, parseErr := mime.ParseMediaType(mediaType); parseErr == nil {
		mediaType = parsed
	}

	switch mediaType {
	case "text/html", "application/xhtml+xml":
		title, text, err = extractHTML(body)
	case "text/plain", "text/markdown", "text/csv":
		text = string(body)
	case "application/json":
		text, err = extractJSON(body)
	case "application/pdf":
		text, err = extractPDF(body)
	default:
		if !strings.HasPrefix(mediaType, "text/") {
			return "", "", ErrUnsupportedContentType
		}
		text = string(body)
	}
	if err != nil {
		return "", "", err
	}
	return trimToRunes(strings.TrimSpace(title), maxTitleRunes), trimToRunes(normalizeText(text), maxRunes), nil
}

func extractJSON(data []byte) (string, error) {
	if !json.Valid(data) {
		return string(data), nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return "", err
	}
	return pretty.String(), nil
}

func extractPDF(data []byte) (string, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var out strings.Builder
	runes := 0
	for pageNum := 1; pageNum <= doc.NumPage(); pageNum++ {
		page := doc.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		for _, item := range page.Content().Text {
			fragment := strings.TrimSpace(item.S)
			if fragment == "" {
				continue
			}
			if out.Len() > 0 {
				out.WriteByte('\n')
				runes++
			}
			out.WriteString(fragment)
			runes += utf8.RuneCountInString(fragment)
			if runes >= maxPDFRunes {
				return trimToRunes(out.String(), maxPDFRunes), nil
			}
		}
	}
	return out.String(), nil
}

// extractHTML prefers the text of <article> or <main> when the page has one,
// so navigation and footers stay out of the analysis prompt.
func extractHTML(data []byte) (title, text string, err error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}

	title = findElementText(doc, "title")
	root := doc
	if main := findElement(doc, "article"); main != nil {
		root = main
	} else if main := findElement(doc, "main"); main != nil {
		root = main
	}

	var out strings.Builder
	walkText(root, false, &out)
	text = out.String()
	if strings.TrimSpace(text) == "" {
		text = findMetaDescription(doc)
	}
	return title, text, nil
}

func findElement(node *html.Node, tag string) *html.Node {
	if node == nil {
		return nil
	}
	if node.Type == html.ElementNode && strings.EqualFold(node.Data, tag) {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func findElementText(node *html.Node, tag string) string {
	element := findElement(node, tag)
	if element == nil {
		return ""
	}
	var out strings.Builder
	walkText(element, false, &out)
	return strings.Join(strings.Fields(out.String()), " ")
}

func findMetaDescription(node *html.Node) string {
	if node == nil {
		return ""
	}
	if node.Type == html.ElementNode && strings.EqualFold(node.Data, "meta") {
		var name, content string
		for _, attr := range node.Attr {
			switch strings.ToLower(attr.Key) {
			case "name", "property":
				name = strings.ToLower(attr.Val)
			case "content":
				content = attr.Val
			}
		}
		if name == "description" || name == "og:description" {
			return content
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if value := findMetaDescription(child); value != "" {
			return value
		}
	}
	return ""
}

func walkText(node *html.Node, skip bool, out *strings.Builder) {
	if node == nil {
		return
	}
	if node.Type == html.ElementNode {
		switch strings.ToLower(node.Data) {
		case "head", "script", "style", "noscript", "svg", "iframe", "nav", "footer", "form":
			skip = true
		case "p", "div", "section", "article", "li", "h1", "h2", "h3", "h4", "h5", "h6", "br", "tr", "blockquote", "pre":
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
		}
	}
	if node.Type == html.TextNode && !skip {
		if trimmed := strings.TrimSpace(node.Data); trimmed != "" {
			out.WriteString(trimmed)
			out.WriteByte(' ')
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walkText(child, skip, out)
	}
}

func normalizeText(raw string) string {
	normalized := strings.ToValidUTF8(strings.ReplaceAll(raw, "\r\n", "\n"), "")
	lines := strings.Split(normalized, "\n")
	compact := make([]string, 0, len(lines))
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			compact = append(compact, strings.Join(fields, " "))
		}
	}
	return strings.Join(compact, "\n")
}

func trimToRunes(raw string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	return string([]rune(raw)[:limit])
}
