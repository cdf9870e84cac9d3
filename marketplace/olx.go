package marketplace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"adwatch/models"
)

// OLXAdapter scrapes olx.ua search pages. The site embeds the full search
// state as an escaped JSON blob inside a script tag; pagination follows the
// "forward" link until it disappears.
type OLXAdapter struct{}

var prerenderedStateRe = regexp.MustCompile(`window\.__PRERENDERED_STATE__\s*=\s*"(.*)";`)

func NewOLXAdapter() *OLXAdapter {
	return &OLXAdapter{}
}

func (a *OLXAdapter) ID() string {
	return "olx_ua"
}

func (a *OLXAdapter) BuildInitialRequest(searchURL string) (*Request, error) {
	return &Request{URL: searchURL, Page: 1}, nil
}

func (a *OLXAdapter) ParsePage(resp *Response) ([]models.ListingDraft, *Request, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}

	ads, err := a.extractRawAds(doc)
	if err != nil {
		return nil, nil, err
	}

	var drafts []models.ListingDraft
	for _, ad := range ads {
		draft := models.ListingDraft{
			URL:   ad.URL,
			Title: crop(ad.Title, models.MaxTitleLen),
		}
		if ad.Description != "" {
			draft.Description = strPtr(crop(ad.Description, models.MaxDescriptionLen))
		}
		if len(ad.Photos) > 0 {
			draft.Image = strPtr(crop(ad.Photos[0], models.MaxImageLen))
		}
		if ad.Price != nil && ad.Price.RegularPrice != nil {
			if v := ad.Price.RegularPrice.Value; v != nil && *v != 0 {
				draft.Price = v
			}
			if c := ad.Price.RegularPrice.CurrencyCode; c != "" {
				draft.Currency = strPtr(crop(c, models.MaxCurrencyLen))
			}
		}
		drafts = append(drafts, draft)
	}

	var next *Request
	if href, ok := doc.Find("a[data-cy='pagination-forward']").Attr("href"); ok && href != "" {
		nextURL := href
		if parsed, err := resp.URL.Parse(href); err == nil {
			nextURL = parsed.String()
		}
		next = &Request{URL: nextURL, Page: resp.Request.Page + 1}
	}

	return drafts, next, nil
}

type olxAd struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Photos      []string `json:"photos"`
	Price       *struct {
		RegularPrice *struct {
			Value        *float64 `json:"value"`
			CurrencyCode string   `json:"currencyCode"`
		} `json:"regularPrice"`
	} `json:"price"`
}

type olxState struct {
	Listing struct {
		Listing struct {
			Ads []olxAd `json:"ads"`
		} `json:"listing"`
	} `json:"listing"`
}

// extractRawAds pulls the prerendered search state out of the page. The blob
// is a JS string literal, so escaped quotes and backslashes have to be
// repaired before it parses as JSON. A page without the blob is a crawl
// error, not an empty result.
func (a *OLXAdapter) extractRawAds(doc *goquery.Document) ([]olxAd, error) {
	script := doc.Find("script#olx-init-config").Text()
	match := prerenderedStateRe.FindStringSubmatch(script)
	if match == nil {
		return nil, fmt.Errorf("advert data not found in page")
	}

	raw := match[1]
	raw = strings.ReplaceAll(raw, `\\`, `\`)
	raw = strings.ReplaceAll(raw, `\"`, `"`)
	raw = strings.ReplaceAll(raw, "<br />", "")

	var state olxState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode advert data: %w", err)
	}

	return state.Listing.Listing.Ads, nil
}
