package notion

import (
	"strings"
	"time"
)

type textContent struct {
	Content string `json:"content"`
}

type richText struct {
	Type      string       `json:"type,omitempty"`
	Text      *textContent `json:"text,omitempty"`
	PlainText string       `json:"plain_text,omitempty"`
}

type selectOption struct {
	Name string `json:"name"`
}

type property struct {
	Title    []richText    `json:"title,omitempty"`
	RichText []richText    `json:"rich_text,omitempty"`
	Select   *selectOption `json:"select,omitempty"`
}

type blockText struct {
	RichText []richText `json:"rich_text"`
}

type block struct {
	Object    string     `json:"object,omitempty"`
	ID        string     `json:"id,omitempty"`
	Type      string     `json:"type"`
	Heading1  *blockText `json:"heading_1,omitempty"`
	Paragraph *blockText `json:"paragraph,omitempty"`
}

type page struct {
	ID             string              `json:"id"`
	URL            string              `json:"url"`
	Archived       bool                `json:"archived"`
	CreatedTime    time.Time           `json:"created_time"`
	LastEditedTime time.Time           `json:"last_edited_time"`
	Properties     map[string]property `json:"properties"`
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type blockList struct {
	Results []block `json:"results"`
}

func text(s string) []richText {
	return []richText{{Type: "text", Text: &textContent{Content: s}}}
}

func plain(rt []richText) string {
	var sb strings.Builder
	for _, r := range rt {
		switch {
		case r.PlainText != "":
			sb.WriteString(r.PlainText)
		case r.Text != nil:
			sb.WriteString(r.Text.Content)
		}
	}
	return sb.String()
}

func titleProp(s string) property {
	return property{Title: text(s)}
}

func richTextProp(s string) property {
	return property{RichText: text(s)}
}

func selectProp(name string) property {
	return property{Select: &selectOption{Name: name}}
}

func heading(s string) block {
	return block{Object: "block", Type: "heading_1", Heading1: &blockText{RichText: text(s)}}
}

func paragraph(s string) block {
	return block{Object: "block", Type: "paragraph", Paragraph: &blockText{RichText: text(s)}}
}
