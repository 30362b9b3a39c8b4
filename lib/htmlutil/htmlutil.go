package htmlutil

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// HiddenInput returns the value of <input name=...> inside the
// document, or "" when the input does not exist.
func HiddenInput(doc *goquery.Document, name string) string {
	return doc.Find("input[name=" + name + "]").AttrOr("value", "")
}

// CellTexts returns the cleaned text of every <td> in a table row.
func CellTexts(row *goquery.Selection) []string {
	var cells []string
	row.Find("td").Each(func(_ int, td *goquery.Selection) {
		text := ""
		for _, n := range td.Nodes {
			text += GetText(n)
		}
		text = removeNonPrintable(text)
		text = strings.Trim(text, " \t\n ")
		cells = append(cells, text)
	})
	return cells
}
