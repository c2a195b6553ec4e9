package schedule

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// ErrTimetableNotFound is returned when the index page has no timetable table.
var ErrTimetableNotFound = errors.New("timetable not found in index page")

const (
	// timetableWidth identifies the timetable among the index page tables.
	timetableWidth = "70%"
	// dateHeaderClass marks a row carrying the date of the following rows.
	dateHeaderClass = "TabHeadWhite"
	// timetableLayout is the date and time format used by the timetable.
	timetableLayout = "02.01.2006 15:04:05"
)

// Parse reads a competition index page and builds the release schedule.
//
// The first <table width="70%"> holds one row per segment. Date header rows
// (class TabHeadWhite, no <th>) set the date for the rows below them; segment
// rows carry the start time in the second cell and a link to the segment page
// in the fourth. The panel page for segment "SEG001.htm" is "SEG001OF.htm"
// and is released at the segment start time, interpreted in loc.
func Parse(r io.Reader, loc *time.Location) (*Schedule, error) {
	if loc == nil {
		loc = time.Local
	}

	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse index page: %w", err)
	}

	table := findTable(doc)
	if table == nil {
		return nil, ErrTimetableNotFound
	}

	rows := collect(table, "tr")
	if len(rows) > 0 {
		// header row
		rows = rows[1:]
	}

	releases := make(map[string]time.Time)
	date := ""
	for _, row := range rows {
		cells := collect(row, "td")
		if hasClass(row, dateHeaderClass) && len(collect(row, "th")) == 0 {
			if len(cells) > 0 {
				date = nodeText(cells[0])
			}
			continue
		}
		if len(cells) < 4 {
			continue
		}

		href := firstHref(cells[3])
		if href == "" || !strings.HasSuffix(href, ".htm") {
			continue
		}
		clock := nodeText(cells[1])

		start, err := time.ParseInLocation(timetableLayout, date+" "+clock, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid start time %q for %s: %w", date+" "+clock, href, err)
		}

		panel := strings.TrimSuffix(path.Base(href), ".htm") + GatedSuffix
		releases[panel] = start
	}

	return New(releases), nil
}

// findTable returns the first timetable-width table in document order.
func findTable(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "table" && attr(n, "width") == timetableWidth {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findTable(c); found != nil {
			return found
		}
	}
	return nil
}

// collect returns all descendant elements named tag, in document order.
func collect(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var f func(*html.Node)
	f = func(node *html.Node) {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == tag {
				out = append(out, c)
			}
			f(c)
		}
	}
	f(n)
	return out
}

func hasClass(n *html.Node, class string) bool {
	if n.Type == html.ElementNode && strings.Contains(attr(n, "class"), class) {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasClass(c, class) {
			return true
		}
	}
	return false
}

func firstHref(n *html.Node) string {
	for _, a := range collect(n, "a") {
		if href := attr(a, "href"); href != "" {
			return href
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.TrimSpace(sb.String())
}
