package marketplace

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"adwatch/models"
)

const (
	shafaGraphQLEndpoint = "https://shafa.ua/api/v3/graphiql"
	shafaBaseURL         = "https://shafa.ua"
	shafaDefaultPageSize = 100
)

// The catalog feed query, trimmed to the fields the monitor consumes.
const shafaCatalogQuery = `query WEB_CatalogProducts($first: Int!, $pageNum: Int!, $catalogSlug: String, $brands: [Int], $orderBy: String, $sizes: [Int], $conditions: [Int], $colors: [Int], $priceTo: Int, $priceFrom: Int, $priceId: [Int], $ukrainian: Boolean, $searchText: String, $freeShipping: Boolean, $isOnSale: Boolean) {
  products(first: $first, pageNum: $pageNum, orderBy: $orderBy, sizes: $sizes, condition: $conditions, colors: $colors, priceTo: $priceTo, priceFrom: $priceFrom, catalogSlug: $catalogSlug, brands: $brands, priceId: $priceId, ukrainian: $ukrainian, searchText: $searchText, freeShipping: $freeShipping, isOnSale: $isOnSale) {
    edges { node { id url thumbnail name price } }
    pageInfo { hasNextPage total }
  }
}`

// ShafaAdapter drives shafa.ua's GraphQL catalog API page by page. The
// monitor's search URL is decomposed into a catalog slug plus camelCased
// query variables; pagination is an explicit page counter, terminated by
// pageInfo.hasNextPage.
type ShafaAdapter struct {
	pageSize int
}

func NewShafaAdapter(pageSize int) *ShafaAdapter {
	if pageSize <= 0 {
		pageSize = shafaDefaultPageSize
	}
	return &ShafaAdapter{pageSize: pageSize}
}

func (a *ShafaAdapter) ID() string {
	return "shafa_ua"
}

func (a *ShafaAdapter) BuildInitialRequest(searchURL string) (*Request, error) {
	return a.buildCatalogRequest(searchURL, 1)
}

func (a *ShafaAdapter) ParsePage(resp *Response) ([]models.ListingDraft, *Request, error) {
	var payload struct {
		Data struct {
			Products struct {
				Edges []struct {
					Node struct {
						URL       string      `json:"url"`
						Thumbnail string      `json:"thumbnail"`
						Name      string      `json:"name"`
						Price     json.Number `json:"price"`
					} `json:"node"`
				} `json:"edges"`
				PageInfo struct {
					HasNextPage bool `json:"hasNextPage"`
				} `json:"pageInfo"`
			} `json:"products"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode catalog response: %w", err)
	}

	var drafts []models.ListingDraft
	for _, edge := range payload.Data.Products.Edges {
		node := edge.Node
		draft := models.ListingDraft{
			URL:   shafaBaseURL + node.URL,
			Title: crop(node.Name, models.MaxTitleLen),
		}
		if node.Thumbnail != "" {
			draft.Image = strPtr(crop(node.Thumbnail, models.MaxImageLen))
		}
		if v, err := node.Price.Float64(); err == nil && node.Price != "" {
			draft.Price = &v
			draft.Currency = strPtr("UAH")
		}
		drafts = append(drafts, draft)
	}

	var next *Request
	if payload.Data.Products.PageInfo.HasNextPage {
		req, err := a.buildCatalogRequest(resp.Request.SearchURL, resp.Request.Page+1)
		if err != nil {
			return nil, nil, err
		}
		next = req
	}

	return drafts, next, nil
}

func (a *ShafaAdapter) buildCatalogRequest(searchURL string, page int) (*Request, error) {
	u, err := prepareSearchURL(searchURL)
	if err != nil {
		return nil, err
	}

	variables := map[string]any{
		"catalogSlug": catalogSlug(u),
		"pageNum":     page,
		"first":       a.pageSize,
	}
	for name, value := range graphqlVariables(u) {
		variables[name] = value
	}

	body, err := json.Marshal(map[string]any{
		"operationName": "WEB_CatalogProducts",
		"variables":     variables,
		"query":         shafaCatalogQuery,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql payload: %w", err)
	}

	language := "ru"
	if firstPathSegment(u) == "uk" {
		language = "uk"
	}

	return &Request{
		URL:     shafaGraphQLEndpoint,
		Method:  "POST",
		Body:    body,
		Headers: map[string]string{"Content-Type": "application/json"},
		Cookies: map[string]string{"language": language},
		Page:    page,
		// carried along so follow-up pages can rebuild the payload
		SearchURL: searchURL,
	}, nil
}

// prepareSearchURL repairs shafa's broken "/if/param=value" share links,
// where the last path segment is really a query parameter.
func prepareSearchURL(searchURL string) (*url.URL, error) {
	u, err := url.Parse(searchURL)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}

	segments := strings.Split(u.Path, "/")
	if len(segments) >= 2 && segments[len(segments)-2] == "if" {
		param := strings.SplitN(segments[len(segments)-1], "=", 2)
		if len(param) == 2 {
			q := u.Query()
			q.Set(param[0], param[1])
			u.Path = strings.Join(segments[:len(segments)-2], "/")
			u.RawQuery = q.Encode()
		}
	}
	return u, nil
}

// catalogSlug extracts the catalog path for the GraphQL query, dropping the
// language prefix and the leading section segment.
func catalogSlug(u *url.URL) string {
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 && segments[0] == "uk" {
		segments = segments[1:]
	}
	if len(segments) <= 1 {
		return strings.Join(segments, "/")
	}
	return strings.Join(segments[1:], "/")
}

// graphqlVariables maps search-URL query parameters onto GraphQL variables:
// snake_case becomes camelCase, "prices" becomes "priceId", and values are
// coerced to bool/int where they look like one. Repeated parameters collapse
// into a list.
func graphqlVariables(u *url.URL) map[string]any {
	variables := make(map[string]any)

	for name, values := range u.Query() {
		variableName := snakeToCamel(name)
		if variableName == "prices" {
			variableName = "priceId"
		}

		for _, value := range values {
			var variableValue any
			switch {
			case value == "true":
				variableValue = true
			case value == "false":
				variableValue = false
			case isDigits(value):
				n, _ := strconv.Atoi(value)
				variableValue = n
			default:
				variableValue = value
			}

			if existing, ok := variables[variableName]; ok {
				if list, isList := existing.([]any); isList {
					variables[variableName] = append(list, variableValue)
				} else {
					variables[variableName] = []any{existing, variableValue}
				}
			} else {
				variables[variableName] = variableValue
			}
		}
	}

	return variables
}

func firstPathSegment(u *url.URL) string {
	segments := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(segments) == 0 {
		return ""
	}
	return segments[0]
}

func snakeToCamel(s string) string {
	segments := strings.Split(s, "_")
	out := segments[0]
	for _, seg := range segments[1:] {
		if seg == "" {
			continue
		}
		out += strings.ToUpper(seg[:1]) + seg[1:]
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
