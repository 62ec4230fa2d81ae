package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"time"

	"github.com/feedward/feedward/app/cfg"
	"github.com/feedward/feedward/app/database"
)

// Generator renders a list of articles as an RSS 2.0 document.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

type ChannelInfo struct {
	Title       string
	Link        string
	Description string
	SelfPath    string
}

func (g *Generator) Run(channel ChannelInfo, articles []database.Article) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", channel.Title, 4)
	g.writeElement(&buf, "link", channel.Link, 4)
	g.writeElement(&buf, "description", cmp.Or(channel.Description, "Harvested article stream"), 4)

	var selfLink string
	if cfg.Get().BaseUrl != "" {
		selfLink = cfg.Get().BaseUrl + channel.SelfPath
	} else {
		selfLink = fmt.Sprintf("http://localhost:%s%s", cfg.Get().Port, channel.SelfPath)
	}
	buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
		html.EscapeString(selfLink)))

	lastBuildDate := time.Now().In(time.Local)
	if len(articles) > 0 {
		lastBuildDate = cmp.Or(articles[0].PublishedAt, articles[0].CreatedAt, lastBuildDate)
	}
	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("Feedward/%s", cfg.Get().Version), 4)

	for _, article := range articles {
		g.writeItem(&buf, article)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, article database.Article) {
	buf.WriteString("    <item>\n")

	buf.WriteString("      <guid isPermaLink=\"true\">")
	xml.EscapeText(buf, []byte(article.URL))
	buf.WriteString("</guid>\n")

	if article.Title != "" {
		g.writeElement(buf, "title", article.Title, 6)
	}
	g.writeElement(buf, "link", article.URL, 6)
	g.writeElement(buf, "description", cmp.Or(article.ContentText, "No description available"), 6)

	if article.ContentRaw != "" && article.ContentRaw != article.ContentText {
		buf.WriteString("      <content:encoded><![CDATA[")
		buf.WriteString(article.ContentRaw)
		buf.WriteString("]]></content:encoded>\n")
	}

	g.writeElement(buf, "pubDate", article.PublishedAt.Format(time.RFC1123Z), 6)

	for _, tag := range article.Tags {
		if tag != "" {
			g.writeElement(buf, "category", tag, 6)
		}
	}

	for _, att := range article.Attachments {
		if att.URL == "" {
			continue
		}
		buf.WriteString(fmt.Sprintf("      <enclosure url=\"%s\" length=\"%d\" type=\"%s\" />\n",
			html.EscapeString(att.URL), att.Length, html.EscapeString(att.MimeType)))
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}
