// ABOUTME: Knowledge base search and article lookup against kb_knowledge.
// ABOUTME: Articles are fetched by sys_id or by KB number.

package servicenow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const knowledgeTable = "kb_knowledge"

// DefaultArticleLimit is used when ArticleSearch.Limit is not set.
const DefaultArticleLimit = 10

var sysIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// ArticleSearch describes a knowledge base search.
type ArticleSearch struct {
	Term     string
	Category string
	Limit    int
	Offset   int
}

// Query returns the encoded query: the term is matched against the short
// description or the body, and category is an exact match.
func (s ArticleSearch) Query() string {
	var parts []string
	if s.Term != "" {
		term := EscapeQueryValue(s.Term)
		parts = append(parts, "short_descriptionLIKE"+term+"^ORtextLIKE"+term)
	}
	if s.Category != "" {
		parts = append(parts, "category="+EscapeQueryValue(s.Category))
	}
	return strings.Join(parts, "^")
}

// SearchArticles returns knowledge articles matching the search.
func (c *Client) SearchArticles(ctx context.Context, s ArticleSearch) ([]Record, error) {
	limit := s.Limit
	if limit <= 0 {
		limit = DefaultArticleLimit
	}
	return c.GetTable(ctx, knowledgeTable, TableQuery{Query: s.Query(), Limit: limit, Offset: s.Offset})
}

// IsSysID reports whether id looks like a 32 character hex sys_id.
func IsSysID(id string) bool {
	return sysIDPattern.MatchString(id)
}

// GetArticle fetches one article by sys_id or number (KB0010001).
// It returns an error wrapping ErrNotFound when nothing matches.
func (c *Client) GetArticle(ctx context.Context, id string) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("article id is required")
	}

	if IsSysID(id) {
		rec, err := c.GetRecord(ctx, knowledgeTable, id, TableQuery{})
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("knowledge article %s: %w", id, ErrNotFound)
		}
		return rec, err
	}

	rows, err := c.GetTable(ctx, knowledgeTable, TableQuery{Query: "number=" + EscapeQueryValue(id), Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("knowledge article %s: %w", id, ErrNotFound)
	}
	return rows[0], nil
}
