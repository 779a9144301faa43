// Package feed は公開ガイドのRSS 2.0フィードを生成する。
package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/guidehub/internal/model"
)

// ContentType はRSSレスポンスのContent-Type。
const ContentType = "application/rss+xml; charset=utf-8"

// Channel はフィード全体のメタデータ。
type Channel struct {
	Title       string
	Description string
	BaseURL     string
	Language    string
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Atom    string     `xml:"xmlns:atom,attr"`
	DC      string     `xml:"xmlns:dc,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	Language      string    `xml:"language,omitempty"`
	LastBuildDate string    `xml:"lastBuildDate"`
	AtomLink      atomLink  `xml:"atom:link"`
	Items         []rssItem `xml:"item"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	GUID        rssGUID  `xml:"guid"`
	Description string   `xml:"description"`
	Creator     string   `xml:"dc:creator,omitempty"`
	Categories  []string `xml:"category"`
	PubDate     string   `xml:"pubDate"`
}

type rssGUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

// BuildRSS は公開済みガイドからRSS 2.0ドキュメントを生成する。
// 各アイテムのリンクは {BaseURL}/guides/{slug} になる。
func BuildRSS(ch Channel, guides []*model.Guide, now time.Time) ([]byte, error) {
	base := strings.TrimRight(ch.BaseURL, "/")

	doc := rssDocument{
		Version: "2.0",
		Atom:    "http://www.w3.org/2005/Atom",
		DC:      "http://purl.org/dc/elements/1.1/",
		Channel: rssChannel{
			Title:         ch.Title,
			Link:          base + "/",
			Description:   ch.Description,
			Language:      ch.Language,
			LastBuildDate: now.UTC().Format(time.RFC1123Z),
			AtomLink: atomLink{
				Href: base + "/api/guides/feed.xml",
				Rel:  "self",
				Type: "application/rss+xml",
			},
			Items: make([]rssItem, 0, len(guides)),
		},
	}

	for _, g := range guides {
		if g.Status != model.GuideStatusPublished {
			continue
		}
		link := base + "/guides/" + url.PathEscape(g.Slug)
		published := g.CreatedAt
		if g.PublishedAt != nil {
			published = *g.PublishedAt
		}

		categories := append([]string{g.Category}, g.Tags...)
		doc.Channel.Items = append(doc.Channel.Items, rssItem{
			Title:       g.Title,
			Link:        link,
			GUID:        rssGUID{Value: link, IsPermaLink: true},
			Description: g.Excerpt,
			Creator:     g.AuthorUsername,
			Categories:  categories,
			PubDate:     published.UTC().Format(time.RFC1123Z),
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("RSSの生成に失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}
