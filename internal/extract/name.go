// Package extract pulls identity fields out of the lookup service's markup.
package extract

import (
	"strings"

	"golang.org/x/net/html"
)

const nameLabel = "name"

// Name scans table cells in document order for a cell whose text is exactly
// "name" and returns the text of the cell next to it in the same row. The
// first label with a non-empty neighbour wins. Empty or unparsable markup
// yields ok=false.
func Name(markup string) (name string, ok bool) {
	if strings.TrimSpace(markup) == "" {
		return "", false
	}
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", false
	}

	for _, cell := range collectCells(doc, nil) {
		if cellText(cell) != nameLabel {
			continue
		}
		next := nextCell(cell)
		if next == nil {
			continue
		}
		if v := cellText(next); v != "" {
			return v, true
		}
	}
	return "", false
}

// nextCell returns the <td> following n within its row, or nil.
func nextCell(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type != html.ElementNode {
			continue
		}
		if s.Data == "td" {
			return s
		}
		return nil
	}
	return nil
}

// collectCells returns every <td> element in pre-order.
func collectCells(n *html.Node, cells []*html.Node) []*html.Node {
	if n.Type == html.ElementNode && n.Data == "td" {
		cells = append(cells, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		cells = collectCells(c, cells)
	}
	return cells
}

func cellText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
