// ABOUTME: Knowledge base tools: article search and single-article fetch.
// ABOUTME: Article HTML is reduced to bounded plain text; fetched articles are cached.

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/snow-mcp/internal/sanitize"
	"github.com/2389/snow-mcp/internal/servicenow"
)

type searchKBInput struct {
	SearchTerm string `json:"search_term,omitempty" jsonschema:"Text matched against the article title and body"`
	Category   string `json:"category,omitempty" jsonschema:"Knowledge category"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum number of articles to return (default 10)" validate:"omitempty,min=1,max=1000"`
	Offset     int    `json:"offset,omitempty" jsonschema:"Number of matching articles to skip" validate:"omitempty,min=0"`
}

type getArticleInput struct {
	ArticleID string `json:"article_id" jsonschema:"Article sys_id or number, e.g. KB0010001" validate:"required"`
}

func (ts *Toolset) registerKnowledge(srv *sdk.Server) {
	addTool(ts, srv, &sdk.Tool{
		Name:        ToolSearchKB,
		Description: "Search ServiceNow knowledge base articles by term and category.",
		Annotations: &sdk.ToolAnnotations{ReadOnlyHint: true},
	}, func(in searchKBInput) map[string]any {
		return map[string]any{
			"search_term": in.SearchTerm,
			"category":    in.Category,
			"limit":       in.Limit,
			"offset":      in.Offset,
		}
	}, ts.searchKnowledgeBase)

	addTool(ts, srv, &sdk.Tool{
		Name:        ToolGetArticle,
		Description: "Get a ServiceNow knowledge base article by sys_id or number.",
		Annotations: &sdk.ToolAnnotations{ReadOnlyHint: true},
	}, func(in getArticleInput) map[string]any {
		return map[string]any{"article_id": in.ArticleID}
	}, ts.getKnowledgeArticle)
}

func (ts *Toolset) searchKnowledgeBase(ctx context.Context, in searchKBInput) (map[string]any, error) {
	c, err := ts.cfg.ServiceNow.Client(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.SearchArticles(ctx, servicenow.ArticleSearch{
		Term:     in.SearchTerm,
		Category: in.Category,
		Limit:    limitOr(in.Limit, servicenow.DefaultArticleLimit),
		Offset:   in.Offset,
	})
	if err != nil {
		return nil, fail("Failed to search knowledge base", err)
	}

	articles := sanitize.Articles(rows)
	ts.logger.Info("searched knowledge base", "count", len(articles))
	return map[string]any{
		"count":    len(articles),
		"articles": articles,
	}, nil
}

func (ts *Toolset) getKnowledgeArticle(ctx context.Context, in getArticleInput) (map[string]any, error) {
	id := strings.TrimSpace(in.ArticleID)
	if cached, ok := ts.cachedArticle(id); ok {
		return map[string]any{"article": cached}, nil
	}

	c, err := ts.cfg.ServiceNow.Client(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := c.GetArticle(ctx, id)
	if errors.Is(err, servicenow.ErrNotFound) {
		return nil, fail(fmt.Sprintf("Knowledge article %s not found", id), nil)
	}
	if err != nil {
		return nil, fail("Failed to retrieve knowledge article", err)
	}

	article := sanitize.Article(rec)
	if ts.cfg.Articles != nil {
		ts.cfg.Articles.Set(id, article)
	}
	ts.logger.Info("retrieved knowledge article", "article_id", id)
	return map[string]any{"article": article}, nil
}

func (ts *Toolset) cachedArticle(id string) (servicenow.Record, bool) {
	if ts.cfg.Articles == nil {
		return nil, false
	}
	return ts.cfg.Articles.Get(id)
}
