package normalize

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	classCategory       = "splGroup"
	classMeal           = "splMeal"
	className           = "bold"
	classPrice          = "text-right"
	classCodes          = "kennz"
	classTooltip        = "tooltip_content"
	classSustainability = "shocl_content"
	classCooled         = "glyphicons-temperature-low"
)

type rawCode struct {
	Code        string
	Description string
}

type rawMeal struct {
	Name           Field
	Prices         Field
	Codes          []rawCode
	IconSources    []string
	Cooled         bool
	Sustainability []string
}

type rawCategory struct {
	Name  Field
	Meals []rawMeal
}

// extract walks one day's fragment in document order. Meals are attached
// to the most recent category; meals before the first category are dropped.
func extract(body []byte) ([]rawCategory, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing day fragment: %w", err)
	}

	var categories []rawCategory
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Div {
			switch {
			case hasClass(n, classCategory):
				categories = append(categories, rawCategory{Name: textField(textOf(n))})
				return
			case hasClass(n, classMeal):
				if len(categories) > 0 {
					last := &categories[len(categories)-1]
					last.Meals = append(last.Meals, extractMeal(n))
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return categories, nil
}

func extractMeal(n *html.Node) rawMeal {
	var m rawMeal

	if name := find(n, func(c *html.Node) bool { return c.DataAtom == atom.Span && hasClass(c, className) }); name != nil {
		m.Name = textField(textOf(name))
	}
	if price := find(n, func(c *html.Node) bool { return c.DataAtom == atom.Div && hasClass(c, classPrice) }); price != nil {
		m.Prices = textField(textOf(price))
	}

	if codes := find(n, func(c *html.Node) bool { return c.DataAtom == atom.Div && hasClass(c, classCodes) }); codes != nil {
		table := find(codes, func(c *html.Node) bool { return c.DataAtom == atom.Table && hasClass(c, classTooltip) })
		if table != nil {
			for _, row := range findAll(table, func(c *html.Node) bool { return c.DataAtom == atom.Tr }) {
				cells := findAll(row, func(c *html.Node) bool { return c.DataAtom == atom.Td })
				if len(cells) < 2 {
					continue
				}
				code := textOf(cells[0])
				if code == "" {
					continue
				}
				m.Codes = append(m.Codes, rawCode{Code: code, Description: textOf(cells[1])})
			}
		}
	}

	seen := make(map[string]bool)
	for _, el := range findAll(n, func(c *html.Node) bool {
		return c.DataAtom == atom.Img || c.DataAtom == atom.I || (c.DataAtom == atom.Div && hasClass(c, classSustainability))
	}) {
		switch el.DataAtom {
		case atom.Img:
			if src := attr(el, "src"); src != "" {
				m.IconSources = append(m.IconSources, src)
			}
		case atom.I:
			if hasClass(el, classCooled) {
				m.Cooled = true
			}
		default:
			if text := textOf(el); text != "" && !seen[text] {
				seen[text] = true
				m.Sustainability = append(m.Sustainability, text)
			}
		}
	}

	return m
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// find returns the first descendant of n matching pred.
func find(n *html.Node, pred func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && pred(c) {
			return c
		}
		if found := find(c, pred); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant of n matching pred, in document order.
func findAll(n *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && pred(c) {
			out = append(out, c)
		}
		out = append(out, findAll(c, pred)...)
	}
	return out
}

// textOf returns the text content of n with whitespace collapsed.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
