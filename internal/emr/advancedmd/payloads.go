package advancedmd

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// msgTimeLayout is the timestamp format AdvancedMD expects in @msgtime and @datechanged.
const msgTimeLayout = "01/02/2006 03:04:05 PM"

// envelope builds a ppmdmsg request body.
func (c *Client) envelope(action, class string, attrs map[string]any) map[string]any {
	msg := map[string]any{
		"@action":  action,
		"@class":   class,
		"@msgtime": c.now().Format(msgTimeLayout),
	}
	for k, v := range attrs {
		msg[k] = v
	}
	return map[string]any{"ppmdmsg": msg}
}

// node is a generic XML element; PM results nest records at varying depths.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []node     `xml:",any"`
}

func parseXML(body []byte) (*node, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty response body")
	}
	var root node
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("decode xml: %w", err)
	}
	return &root, nil
}

// attr returns the named attribute, matched case-insensitively.
func (n *node) attr(name string) string {
	for _, a := range n.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func (n *node) hasAttr(name string) bool {
	for _, a := range n.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return true
		}
	}
	return false
}

// find returns the first descendant with the given element name.
func (n *node) find(name string) *node {
	for i := range n.Children {
		child := &n.Children[i]
		if strings.EqualFold(child.XMLName.Local, name) {
			return child
		}
		if found := child.find(name); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant with the given element name, in document order.
func (n *node) findAll(name string) []*node {
	var out []*node
	for i := range n.Children {
		child := &n.Children[i]
		if strings.EqualFold(child.XMLName.Local, name) {
			out = append(out, child)
		}
		out = append(out, child.findAll(name)...)
	}
	return out
}

func (n *node) allText() string {
	var parts []string
	if t := strings.TrimSpace(n.Text); t != "" {
		parts = append(parts, t)
	}
	for i := range n.Children {
		if t := n.Children[i].allText(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// errorText returns the message of an <Error> element, or "" when there is none.
func (n *node) errorText() string {
	var errNode *node
	if strings.EqualFold(n.XMLName.Local, "Error") {
		errNode = n
	} else {
		errNode = n.find("Error")
	}
	if errNode == nil {
		return ""
	}
	if desc := errNode.find("description"); desc != nil && strings.TrimSpace(desc.Text) != "" {
		return strings.TrimSpace(desc.Text)
	}
	if text := errNode.allText(); text != "" {
		return text
	}
	return "unknown error"
}

// parseDollars converts "$1,234.50" style values to cents.
func parseDollars(value string) (int64, bool) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(value))
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(math.Round(f * 100)), true
}

// parsePercent converts "20%" or "20" to a 0.20 rate.
func parsePercent(value string) (float64, bool) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(value, "%", ""))
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || f < 0 || f > 100 || math.IsNaN(f) {
		return 0, false
	}
	return f / 100, true
}

// positiveCents treats missing and zero PM amounts as not recorded.
func positiveCents(value string) *int64 {
	cents, ok := parseDollars(value)
	if !ok || cents <= 0 {
		return nil
	}
	return &cents
}

func positiveRate(value string) *float64 {
	rate, ok := parsePercent(value)
	if !ok || rate <= 0 {
		return nil
	}
	return &rate
}

var pmTimeLayouts = []string{
	msgTimeLayout,
	"1/2/2006 3:04:05 PM",
	"01/02/2006 03:04 PM",
	"1/2/2006 3:04 PM",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parsePMTime parses the timestamp formats seen across PM responses.
// Zone-less values are read in loc. An empty value is the zero time with
// ok true; ok is false only when a value was present but matched no layout.
func parsePMTime(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, true
	}
	for _, layout := range pmTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
