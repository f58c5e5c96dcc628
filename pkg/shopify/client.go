// Package shopify provides a client for the Shopify Admin REST API and
// the HMAC verification primitives for app-proxy and webhook requests.
package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/formdept/shopgate/pkg/shopgate"
)

// DefaultAPIVersion is the Admin API version used when none is configured
const DefaultAPIVersion = "2024-10"

// DefaultPageSize is the per-page record limit for paginated fetches
const DefaultPageSize = 250

var nextPageInfo = regexp.MustCompile(`page_info=([^&>]+)`)

// Config holds Shopify client configuration
type Config struct {
	// ShopName is the shop's name ("example") or full domain
	// ("example.myshopify.com"). Required.
	ShopName string

	// AccessToken is the Admin API access token. Required.
	AccessToken string

	// APIVersion is the Admin API version. Default: DefaultAPIVersion.
	APIVersion string

	// PageSize is the per-page limit. Default: DefaultPageSize.
	PageSize int

	// HTTPClient is an optional HTTP client.
	// If nil, a default client with a 30s timeout is used.
	HTTPClient *http.Client
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.ShopName == "" {
		return fmt.Errorf("shop name is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	return nil
}

// Client fetches customers and orders from the Shopify Admin API.
// It implements shopgate.Source.
type Client struct {
	domain      string
	accessToken string
	apiVersion  string
	pageSize    int
	httpClient  *http.Client
}

// NewClient creates a Shopify Admin API client
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.APIVersion == "" {
		config.APIVersion = DefaultAPIVersion
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		domain:      ShopDomain(config.ShopName),
		accessToken: config.AccessToken,
		apiVersion:  config.APIVersion,
		pageSize:    config.PageSize,
		httpClient:  config.HTTPClient,
	}, nil
}

// ShopDomain normalizes a shop name to its myshopify domain.
// Names that already contain a dot pass through unchanged.
func ShopDomain(shopName string) string {
	if strings.Contains(shopName, ".") {
		return shopName
	}
	return shopName + ".myshopify.com"
}

// Domain returns the shop domain this client talks to
func (c *Client) Domain() string {
	return c.domain
}

type customersPage struct {
	Customers []struct {
		ID        int64  `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"customers"`
}

type ordersPage struct {
	Orders []struct {
		ID       int64 `json:"id"`
		Customer *struct {
			ID int64 `json:"id"`
		} `json:"customer"`
		CreatedAt string `json:"created_at"`
		LineItems []struct {
			ProductID json.Number `json:"product_id"`
		} `json:"line_items"`
	} `json:"orders"`
}

// Customers implements shopgate.Source by fetching every customer page
func (c *Client) Customers(ctx context.Context) ([]shopgate.Profile, error) {
	var profiles []shopgate.Profile

	err := c.fetchPages(ctx, "customers.json", nil, func(body []byte) error {
		var page customersPage
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("failed to decode customers page: %w", err)
		}
		for _, cust := range page.Customers {
			profiles = append(profiles, shopgate.Profile{
				CustomerID: cust.ID,
				Email:      cust.Email,
				FirstName:  cust.FirstName,
				LastName:   cust.LastName,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// Orders implements shopgate.Source by fetching every order page,
// flattened to the customer and the first line-item product
func (c *Client) Orders(ctx context.Context) ([]shopgate.OrderLine, error) {
	var lines []shopgate.OrderLine

	err := c.fetchPages(ctx, "orders.json", url.Values{"status": {"any"}}, func(body []byte) error {
		var page ordersPage
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("failed to decode orders page: %w", err)
		}
		for _, o := range page.Orders {
			line := shopgate.OrderLine{
				OrderID:   o.ID,
				CreatedAt: o.CreatedAt,
			}
			if o.Customer != nil {
				line.CustomerID = o.Customer.ID
			}
			if len(o.LineItems) > 0 {
				line.ProductID = o.LineItems[0].ProductID.String()
			}
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// fetchPages walks a paginated Admin API resource, following the
// page_info cursor from the Link response header until no next page
// remains.
func (c *Client) fetchPages(ctx context.Context, resource string, extra url.Values, handle func(body []byte) error) error {
	pageInfo := ""
	for {
		body, link, err := c.getPage(ctx, resource, extra, pageInfo)
		if err != nil {
			return err
		}
		if err := handle(body); err != nil {
			return err
		}

		pageInfo = nextCursor(link)
		if pageInfo == "" {
			return nil
		}
	}
}

func (c *Client) getPage(ctx context.Context, resource string, extra url.Values, pageInfo string) ([]byte, string, error) {
	query := url.Values{}
	for k, vs := range extra {
		query[k] = vs
	}
	query.Set("limit", fmt.Sprintf("%d", c.pageSize))
	if pageInfo != "" {
		query.Set("page_info", pageInfo)
	}

	endpoint := fmt.Sprintf("https://%s/admin/api/%s/%s?%s", c.domain, c.apiVersion, resource, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %w", resource, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s response: %w", resource, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("shopify returned %d for %s: %s", resp.StatusCode, resource, truncate(body, 200))
	}

	return body, resp.Header.Get("Link"), nil
}

// nextCursor extracts the next page_info cursor from a Link header,
// or returns empty when the last page has been reached. Middle pages
// carry both a previous and a next segment, so each segment is checked
// on its own.
func nextCursor(link string) string {
	for _, segment := range strings.Split(link, ",") {
		if !strings.Contains(segment, `rel="next"`) {
			continue
		}
		m := nextPageInfo.FindStringSubmatch(segment)
		if m == nil {
			return ""
		}
		return m[1]
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
