package section

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// InnerHTML returns the rendered children of the first element in body
// whose tag is tag and whose id attribute is id. An empty tag matches any
// element. The second result is false when no element matches.
//
// The document's charset is detected from its BOM or meta tags; the result
// is UTF-8.
func InnerHTML(body []byte, tag, id string) (string, bool, error) {
	r, err := charset.NewReader(bytes.NewReader(body), "text/html")
	if err != nil {
		return "", false, fmt.Errorf("failed to detect charset: %w", err)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return "", false, fmt.Errorf("failed to parse HTML: %w", err)
	}

	n := findElement(doc, strings.ToLower(tag), id)
	if n == nil {
		return "", false, nil
	}

	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", false, fmt.Errorf("failed to render HTML: %w", err)
		}
	}
	return buf.String(), true, nil
}

// findElement returns the first matching element in document order.
func findElement(n *html.Node, tag, id string) *html.Node {
	if n.Type == html.ElementNode && (tag == "" || n.Data == tag) && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag, id); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}
