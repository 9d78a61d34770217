// Package scraper executes scrape jobs against registered targets. HTML
// catalogs are crawled with colly and extracted via CSS selectors; JSON
// catalogs are fetched in one request and extracted via JMESPath.
package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/waiterbildung/course-advisor/internal/domain"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

// selectText resolves one field selector against an item selection. A
// trailing "@attr" suffix reads an attribute instead of the text content.
func selectText(item *goquery.Selection, selector string) string {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return ""
	}

	attr := ""
	if at := strings.LastIndex(selector, "@"); at >= 0 {
		attr = strings.TrimSpace(selector[at+1:])
		selector = strings.TrimSpace(selector[:at])
	}

	sel := item
	if selector != "" {
		sel = item.Find(selector).First()
	}
	if attr != "" {
		value, _ := sel.Attr(attr)
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(sel.Text())
}

// extractHTMLItem builds one raw record from a matched item block.
func extractHTMLItem(item *goquery.Selection, cfg model.RulesetConfig, resolveURL func(string) string) model.RawCourseRecord {
	rec := model.RawCourseRecord{
		Title:       selectText(item, cfg.Title),
		Description: selectText(item, cfg.Description),
		Locale:      selectText(item, cfg.Locale),
	}
	if cfg.URL != "" {
		if href := selectText(item, cfg.URL); href != "" {
			rec.URL = resolveURL(href)
		}
	}
	if cfg.Tags != "" {
		rec.Tags = splitTags(selectText(item, cfg.Tags))
	}
	return rec
}

// extractJSONItems evaluates the ruleset's JMESPath expressions against a
// decoded JSON document.
func extractJSONItems(doc any, cfg model.RulesetConfig) ([]model.RawCourseRecord, error) {
	itemsRaw, err := jmespath.Search(cfg.Item, doc)
	if err != nil {
		return nil, &domain.PageParseError{Reason: fmt.Sprintf("item expression %q: %v", cfg.Item, err)}
	}
	items, ok := itemsRaw.([]any)
	if !ok {
		return nil, &domain.PageParseError{Reason: fmt.Sprintf("item expression %q did not yield a list", cfg.Item)}
	}

	records := make([]model.RawCourseRecord, 0, len(items))
	for _, item := range items {
		rec := model.RawCourseRecord{
			Title:       jsonField(item, cfg.Title),
			Description: jsonField(item, cfg.Description),
			URL:         jsonField(item, cfg.URL),
			Locale:      jsonField(item, cfg.Locale),
		}
		if cfg.Tags != "" {
			rec.Tags = jsonTags(item, cfg.Tags)
		}
		records = append(records, rec)
	}
	return records, nil
}

func jsonField(item any, expr string) string {
	if strings.TrimSpace(expr) == "" {
		return ""
	}
	value, err := jmespath.Search(expr, item)
	if err != nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	default:
		return ""
	}
}

func jsonTags(item any, expr string) []string {
	value, err := jmespath.Search(expr, item)
	if err != nil || value == nil {
		return nil
	}
	switch v := value.(type) {
	case string:
		return splitTags(v)
	case []any:
		var tags []string
		for _, entry := range v {
			if s, ok := entry.(string); ok && strings.TrimSpace(s) != "" {
				tags = append(tags, strings.TrimSpace(s))
			}
		}
		return tags
	default:
		return nil
	}
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	var tags []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
