// Package wiki extracts tracked outbound links from a Confluence page.
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"clicksync/internal/discover"
)

const (
	DefaultCampaignMarker = "utm_campaign=pr"
	DefaultSourceParam    = "utm_source"
)

type Source struct {
	BaseURL  string
	PageID   string
	Username string
	Password string
	// CampaignMarker must appear in an href for the link to count.
	CampaignMarker string
	// SourceParam names the query parameter carrying the keyword.
	SourceParam string
	HTTPClient  *http.Client
}

type contentResponse struct {
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
}

// Candidates fetches the page body and returns one candidate per matching
// link, in document order.
func (s *Source) Candidates(ctx context.Context) ([]discover.Candidate, error) {
	body, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return s.Extract(body)
}

func (s *Source) fetch(ctx context.Context) (string, error) {
	if s.BaseURL == "" || s.PageID == "" {
		return "", fmt.Errorf("wiki url and page id are required")
	}
	endpoint := strings.TrimRight(s.BaseURL, "/") + "/rest/api/content/" + url.PathEscape(s.PageID) + "?expand=body.storage"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	if s.Username != "" {
		req.SetBasicAuth(s.Username, s.Password)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("wiki page %s status %d: %s", s.PageID, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var out contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode wiki page %s: %w", s.PageID, err)
	}
	return out.Body.Storage.Value, nil
}

// Extract scans storage-format markup for anchors.
func (s *Source) Extract(markup string) ([]discover.Candidate, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse wiki markup: %w", err)
	}
	marker := s.CampaignMarker
	if marker == "" {
		marker = DefaultCampaignMarker
	}
	param := s.SourceParam
	if param == "" {
		param = DefaultSourceParam
	}

	var out []discover.Candidate
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attr(n, "href")
			if href != "" && strings.Contains(href, marker) {
				keyword := queryValue(href, param)
				label := strings.TrimSpace(text(n))
				if keyword != "" && label != "" {
					attrA, attrC := ParseChannel(label)
					out = append(out, discover.Candidate{Identifier: keyword, AttrA: attrA, AttrC: attrC})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out, nil
}

var channelPattern = regexp.MustCompile(`^\(([^)]+)\)\s*(.+)$`)

// ParseChannel splits an anchor label of the form "(Type) Name" into
// ("Name", "Type"). Other labels come back whole with an empty type.
func ParseChannel(label string) (string, string) {
	if m := channelPattern.FindStringSubmatch(label); m != nil {
		return m[2], m[1]
	}
	return label, ""
}

// queryValue returns the percent-decoded value of param, leaving '+' as is.
func queryValue(href, param string) string {
	query := href
	if i := strings.IndexByte(query, '?'); i >= 0 {
		query = query[i+1:]
	}
	if i := strings.IndexByte(query, '#'); i >= 0 {
		query = query[:i]
	}
	for _, pair := range strings.Split(query, "&") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name != param || value == "" {
			continue
		}
		decoded, err := url.PathUnescape(value)
		if err != nil {
			return value
		}
		return decoded
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

// text joins the anchor's text nodes, each trimmed, dropping empty ones.
func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func (s *Source) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
