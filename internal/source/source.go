package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"prayerbot/internal/prayer"
	logx "prayerbot/pkg/logx"
)

var (
	// ErrNoTable means the page fetched fine but the prayer-times table was
	// not found or had an unexpected shape: the site's markup changed.
	ErrNoTable = errors.New("prayer times table not found")

	// ErrStatus wraps a non-2xx HTTP response.
	ErrStatus = errors.New("unexpected http status")
)

// timeCellClass marks the first cell of a schedule row on the mosque site.
const timeCellClass = "prayer_time"

type Config struct {
	URL     string
	Timeout time.Duration
}

// Client fetches the published daily schedule and extracts raw rows from it.
type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("source url is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Fetch downloads the schedule page and extracts the raw per-event rows.
// Network failures and markup-shape changes both surface as errors; the
// caller decides whether the previous table stays authoritative.
func (c *Client) Fetch(ctx context.Context) (map[prayer.Name]prayer.RawRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c.cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s from %s", ErrStatus, resp.Status, c.cfg.URL)
	}

	rows, err := ExtractRows(resp.Body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("schedule fetched",
		logx.Int("rows", len(rows)),
		logx.Duration("took", time.Since(started)))
	return rows, nil
}

// ExtractRows walks an HTML document for the first schedule table and turns
// its rows into raw event rows. Row shape: cell 0 (class "prayer_time") is
// the event name, cell 2 the start time, cell 3 the congregation time.
func ExtractRows(r io.Reader) (map[prayer.Name]prayer.RawRow, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	table := findElement(doc, "table")
	if table == nil {
		return nil, ErrNoTable
	}

	rows := map[prayer.Name]prayer.RawRow{}
	for _, tr := range findAll(table, "tr") {
		cells := findAll(tr, "td")
		if len(cells) < 4 || !hasClass(cells[0], timeCellClass) {
			continue
		}
		name, ok := prayer.Canonical(nodeText(cells[0]))
		if !ok {
			continue
		}
		row := prayer.RawRow{Start: strings.TrimSpace(nodeText(cells[2]))}
		if name.JamaatAllowed() {
			row.Jamaat = strings.TrimSpace(nodeText(cells[3]))
		}
		rows[name] = row
	}

	if len(rows) == 0 {
		return nil, ErrNoTable
	}
	return rows, nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(m *html.Node) {
		if m.Type == html.ElementNode && m.Data == tag {
			out = append(out, m)
			return
		}
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return out
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(m *html.Node) {
		if m.Type == html.TextNode {
			b.WriteString(m.Data)
		}
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
