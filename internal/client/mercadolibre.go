package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"meli-tracker-api/internal/model"
)

const (
	meliAPIBase = "https://api.mercadolibre.com"

	// Colombia site and its cars category
	meliSite         = "MCO"
	meliCarsCategory = "MCO1744"

	// The public search API caps offset+limit at 1000 for anonymous calls
	searchPageSize = 50
	maxSearchDepth = 1000
)

// SearchResult is one vehicle listing as returned by the search API
type SearchResult struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency_id"`
	Permalink string  `json:"permalink"`
	Thumbnail string  `json:"thumbnail"`
	Location  struct {
		City struct {
			Name string `json:"name"`
		} `json:"city"`
		State struct {
			Name string `json:"name"`
		} `json:"state"`
	} `json:"location"`
	Attributes []struct {
		ID        string `json:"id"`
		ValueName string `json:"value_name"`
	} `json:"attributes"`
}

// SearchPage is one page of search results
type SearchPage struct {
	Paging struct {
		Total  int `json:"total"`
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	} `json:"paging"`
	Results []SearchResult `json:"results"`
}

// MercadoLibreClient is a rate-limited client for the marketplace search API
type MercadoLibreClient struct {
	httpClient  *http.Client
	rateLimiter *RateLimiter
	retryConfig RetryConfig
}

// RetryConfig defines retry behavior for transient failures
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func NewMercadoLibreClient(rateLimit float64) *MercadoLibreClient {
	return &MercadoLibreClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimiter: NewRateLimiter(rateLimit),
		retryConfig: RetryConfig{
			MaxRetries:     5,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
		},
	}
}

// SearchCars fetches one page of the cars category, optionally narrowed by a
// free-text query
func (c *MercadoLibreClient) SearchCars(ctx context.Context, query string, offset int) (*SearchPage, error) {
	if offset+searchPageSize > maxSearchDepth {
		return nil, fmt.Errorf("offset %d exceeds the search depth limit", offset)
	}

	params := url.Values{}
	params.Set("category", meliCarsCategory)
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(searchPageSize))
	if query != "" {
		params.Set("q", query)
	}

	endpoint := fmt.Sprintf("%s/sites/%s/search?%s", meliAPIBase, meliSite, params.Encode())

	body, err := c.fetchWithRetry(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var page SearchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return &page, nil
}

// GetItem fetches a single listing by its marketplace ID. The items endpoint
// nests location under seller_address instead of location, so the response is
// remapped onto the search result shape.
func (c *MercadoLibreClient) GetItem(ctx context.Context, id string) (*SearchResult, error) {
	endpoint := fmt.Sprintf("%s/items/%s", meliAPIBase, url.PathEscape(id))

	body, err := c.fetchWithRetry(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var item struct {
		ID            string  `json:"id"`
		Title         string  `json:"title"`
		Price         float64 `json:"price"`
		Currency      string  `json:"currency_id"`
		Permalink     string  `json:"permalink"`
		Thumbnail     string  `json:"thumbnail"`
		SellerAddress struct {
			City struct {
				Name string `json:"name"`
			} `json:"city"`
			State struct {
				Name string `json:"name"`
			} `json:"state"`
		} `json:"seller_address"`
		Attributes []struct {
			ID        string `json:"id"`
			ValueName string `json:"value_name"`
		} `json:"attributes"`
	}
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("failed to parse item response: %w", err)
	}

	result := &SearchResult{
		ID:        item.ID,
		Title:     item.Title,
		Price:     item.Price,
		Currency:  item.Currency,
		Permalink: item.Permalink,
		Thumbnail: item.Thumbnail,
	}
	result.Location.City.Name = item.SellerAddress.City.Name
	result.Location.State.Name = item.SellerAddress.State.Name
	result.Attributes = item.Attributes

	return result, nil
}

// fetchWithRetry performs a GET with rate limiting and exponential backoff on
// transient failures (network errors, 429, 5xx)
func (c *MercadoLibreClient) fetchWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	backoff := c.retryConfig.InitialBackoff

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.retryConfig.MaxRetries {
				time.Sleep(backoff)
				backoff = nextBackoff(backoff, c.retryConfig)
				continue
			}
			return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if attempt < c.retryConfig.MaxRetries {
				time.Sleep(backoff)
				backoff = nextBackoff(backoff, c.retryConfig)
				continue
			}
		}

		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil, fmt.Errorf("max retries exceeded")
}

func nextBackoff(current time.Duration, cfg RetryConfig) time.Duration {
	next := time.Duration(float64(current) * cfg.Multiplier)
	if next > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return next
}

// ToIngestRequest maps a search result onto the ingestion payload, pulling
// structured fields from the listing attributes when present
func (r SearchResult) ToIngestRequest() model.IngestListingRequest {
	req := model.IngestListingRequest{
		MercadoLibreID: r.ID,
		URL:            r.Permalink,
		Title:          r.Title,
		ImageURL:       r.Thumbnail,
	}

	if r.Price > 0 {
		price := r.Price
		req.PriceNumeric = &price
		req.Price = fmt.Sprintf("$ %.0f", r.Price)
	}

	if r.Location.City.Name != "" {
		req.Location = r.Location.City.Name
		if r.Location.State.Name != "" {
			req.Location += ", " + r.Location.State.Name
		}
	}

	for _, attr := range r.Attributes {
		switch attr.ID {
		case "BRAND":
			req.Brand = attr.ValueName
		case "MODEL":
			req.Model = attr.ValueName
		case "VEHICLE_YEAR":
			req.Year = attr.ValueName
		case "TRIM":
			req.Edition = attr.ValueName
		case "ENGINE_DISPLACEMENT", "ENGINE":
			req.Engine = attr.ValueName
		case "TRANSMISSION":
			req.Transmission = attr.ValueName
		case "FUEL_TYPE":
			req.FuelType = attr.ValueName
		case "COLOR":
			req.Color = attr.ValueName
		case "KILOMETERS":
			req.Kilometers = attr.ValueName
		case "DOORS":
			if doors, err := strconv.Atoi(attr.ValueName); err == nil {
				req.Doors = &doors
			}
		}
	}

	return req
}

// Close stops the client's rate limiter
func (c *MercadoLibreClient) Close() {
	c.rateLimiter.Stop()
}
