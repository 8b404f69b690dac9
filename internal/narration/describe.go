package narration

import (
	"errors"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNoElement is returned by DescribeHTML when the fragment has no element.
var ErrNoElement = errors.New("narration: fragment has no element")

// DescribeElement builds the spoken description of n in DefaultLanguage.
func DescribeElement(n *html.Node) string {
	return Describe(n, DefaultLanguage)
}

// Describe builds the spoken description of n: its aria-label, else its alt text, else its
// text content, followed by its role when it has one.
func Describe(n *html.Node, lang string) string {
	if n == nil {
		return ""
	}
	var parts []string
	switch {
	case attr(n, "aria-label") != "":
		parts = append(parts, attr(n, "aria-label"))
	case attr(n, "alt") != "":
		parts = append(parts, attr(n, "alt"))
	default:
		if text := textContent(n); text != "" {
			parts = append(parts, text)
		}
	}
	if role := attr(n, "role"); role != "" {
		parts = append(parts, "("+roleLabel(lang)+": "+role+")")
	}
	return strings.Join(parts, " ")
}

// DescribeHTML parses an HTML fragment and describes its first element.
func DescribeHTML(fragment, lang string) (string, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return "", err
	}
	for _, n := range nodes {
		if el := firstElement(n); el != nil {
			return Describe(el, lang), nil
		}
	}
	return "", ErrNoElement
}

// Announcement is what is spoken for an element; activation adds a confirmation.
func Announcement(description string, activated bool) string {
	if description == "" || !activated {
		return description
	}
	return description + ". Ativado."
}

func roleLabel(lang string) string {
	if strings.HasPrefix(strings.ToLower(lang), "en") {
		return "role"
	}
	return "papel"
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// textContent is the text below n in document order, trimmed at both ends.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func firstElement(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if el := firstElement(c); el != nil {
			return el
		}
	}
	return nil
}
