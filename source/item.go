// Package source streams crawler-export items and job metadata from the
// upstream storage API.
package source

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Item is one product observation from a crawler export. Every recognized
// field is explicitly optional except the product URL and name; unknown
// fields are logged once per process and ignored.
type Item struct {
	WbID        string
	ProductURL  string
	ProductName string
	ParseDate   string

	CategoryURL      *string
	CategoryName     *string
	CategoryPosition *int
	BrandURL         *string
	BrandName        *string
	Price            *float64
	Rating           *float64
	PurchasesCount   *int
	ReviewsCount     *int

	// Features holds the entries of features[0]; nil when absent.
	Features map[string]string
}

var (
	unknownKeysMu sync.Mutex
	unknownKeys   = make(map[string]struct{})
)

func noteUnknownKey(key string) {
	unknownKeysMu.Lock()
	defer unknownKeysMu.Unlock()
	if _, seen := unknownKeys[key]; seen {
		return
	}
	unknownKeys[key] = struct{}{}
	log.WithField("key", key).Info("ignoring unrecognized item field")
}

func asString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("expected string, got %s", raw)
}

func asFloat(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	// Prices occasionally arrive as numeric strings.
	s, err := asString(raw)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

func asInt(raw json.RawMessage) (int, error) {
	var i int
	if err := json.Unmarshal(raw, &i); err == nil {
		return i, nil
	}
	s, err := asString(raw)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

// UnmarshalJSON decodes the open-ended key/value bag into the sparse record.
func (it *Item) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var err error
	for key, raw := range fields {
		switch key {
		case "wb_id":
			it.WbID, err = asString(raw)
		case "product_url":
			it.ProductURL, err = asString(raw)
		case "product_name":
			it.ProductName, err = asString(raw)
		case "parse_date":
			it.ParseDate, err = asString(raw)
		case "wb_category_url":
			var s string
			if s, err = asString(raw); err == nil {
				it.CategoryURL = &s
			}
		case "wb_category_name":
			var s string
			if s, err = asString(raw); err == nil {
				it.CategoryName = &s
			}
		case "wb_category_position":
			var n int
			if n, err = asInt(raw); err == nil {
				it.CategoryPosition = &n
			}
		case "wb_brand_url":
			var s string
			if s, err = asString(raw); err == nil {
				it.BrandURL = &s
			}
		case "wb_brand_name":
			var s string
			if s, err = asString(raw); err == nil {
				it.BrandName = &s
			}
		case "wb_price":
			var f float64
			if f, err = asFloat(raw); err == nil {
				it.Price = &f
			}
		case "wb_rating":
			var f float64
			if f, err = asFloat(raw); err == nil {
				it.Rating = &f
			}
		case "wb_purchases_count":
			var n int
			if n, err = asInt(raw); err == nil {
				it.PurchasesCount = &n
			}
		case "wb_reviews_count":
			// Broken upstream rows deliver an empty string; that means zero.
			var s string
			if json.Unmarshal(raw, &s) == nil && s == "" {
				var zero = 0
				it.ReviewsCount = &zero
				continue
			}
			var n int
			if n, err = asInt(raw); err == nil {
				it.ReviewsCount = &n
			}
		case "features":
			var features []map[string]string
			if err = json.Unmarshal(raw, &features); err == nil && len(features) > 0 {
				it.Features = features[0]
			}
		default:
			noteUnknownKey(key)
		}
		if err != nil {
			return fmt.Errorf("decoding item field %q: %w", key, err)
		}
	}

	if it.ProductURL == "" {
		return fmt.Errorf("item missing required field product_url")
	}
	if it.ProductName == "" {
		return fmt.Errorf("item missing required field product_name")
	}
	return nil
}
