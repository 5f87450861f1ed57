package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/integration"
)

// DefaultShopifyAPIVersion is used when the integration has no api_version setting
const DefaultShopifyAPIVersion = "2024-01"

type shopifyResource struct {
	Path string
	// Root is the JSON key holding the list
	Root string
	Key  func(map[string]any) string
}

var shopifyResources = map[integration.RecordKind]shopifyResource{
	integration.RecordKindOrder:   {Path: "orders.json", Root: "orders", Key: field("id")},
	integration.RecordKindProduct: {Path: "products.json", Root: "products", Key: field("id")},
	integration.RecordKindInventory: {
		Path: "inventory_levels.json",
		Root: "inventory_levels",
		Key: func(m map[string]any) string {
			return idString(m["inventory_item_id"]) + ":" + idString(m["location_id"])
		},
	},
}

var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

type shopifySession struct {
	base        string
	token       string
	locationIDs string
}

// ShopifyAdapter talks to the Shopify Admin REST API
type ShopifyAdapter struct {
	core     *httpCore
	sessions *sessions[shopifySession]
}

// NewShopifyAdapter creates the Shopify adapter
func NewShopifyAdapter(cfg Config, logger *zap.Logger) *ShopifyAdapter {
	return &ShopifyAdapter{
		core:     newHTTPCore("shopify", cfg, logger),
		sessions: newSessions[shopifySession](),
	}
}

// Type implements integration.Adapter
func (a *ShopifyAdapter) Type() integration.IntegrationType {
	return integration.IntegrationTypeShopify
}

// Connect verifies the access token against shop.json
func (a *ShopifyAdapter) Connect(ctx context.Context, cfg integration.ConnectionConfig) error {
	s, err := a.open(ctx, cfg)
	if err != nil {
		return err
	}
	a.sessions.put(cfg.IntegrationID, s)
	return nil
}

// TestConnection verifies the token without keeping a session
func (a *ShopifyAdapter) TestConnection(ctx context.Context, cfg integration.ConnectionConfig) error {
	_, err := a.open(ctx, cfg)
	a.core.forget(cfg.IntegrationID)
	return err
}

// Disconnect drops the session
func (a *ShopifyAdapter) Disconnect(_ context.Context, integrationID uuid.UUID) error {
	a.sessions.drop(integrationID)
	a.core.forget(integrationID)
	return nil
}

func (a *ShopifyAdapter) open(ctx context.Context, cfg integration.ConnectionConfig) (*shopifySession, error) {
	if err := requireCreds(cfg, "access_token"); err != nil {
		return nil, err
	}
	version := cfg.Setting("api_version", DefaultShopifyAPIVersion)
	s := &shopifySession{
		base:        strings.TrimRight(cfg.Endpoint, "/") + "/admin/api/" + version + "/",
		token:       cfg.Credentials.Get("access_token"),
		locationIDs: cfg.Setting("location_ids", ""),
	}
	if _, err := a.core.do(ctx, cfg.IntegrationID, vendorRequest{
		Method: http.MethodGet,
		URL:    s.base + "shop.json",
		Header: s.header(),
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *shopifySession) header() http.Header {
	return http.Header{"X-Shopify-Access-Token": {s.token}}
}

// Fetch reads one page. Shopify rejects filters alongside page_info, so a
// cursor request carries only page_info and limit.
func (a *ShopifyAdapter) Fetch(ctx context.Context, integrationID uuid.UUID, req integration.FetchRequest) (*integration.FetchPage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	res, ok := shopifyResources[req.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: shopify fetch %s", integration.ErrOperationNotSupported, req.Kind)
	}
	s, err := a.sessions.get(integrationID)
	if err != nil {
		return nil, err
	}

	limit := min(req.PageSize, 250)
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if req.Cursor != "" {
		q.Set("page_info", req.Cursor)
	} else {
		if req.Since != nil && !req.Since.IsZero() {
			q.Set("updated_at_min", req.Since.UTC().Format(time.RFC3339))
		}
		switch req.Kind {
		case integration.RecordKindOrder:
			q.Set("status", "any")
		case integration.RecordKindInventory:
			if s.locationIDs == "" {
				return nil, fmt.Errorf("%w: shopify inventory needs the location_ids setting", integration.ErrVendorRequestFailed)
			}
			q.Set("location_ids", s.locationIDs)
		}
	}

	resp, err := a.core.do(ctx, integrationID, vendorRequest{
		Method: http.MethodGet,
		URL:    s.base + res.Path + "?" + q.Encode(),
		Header: s.header(),
	})
	if err != nil {
		return nil, err
	}

	var body map[string][]map[string]any
	if err := decodeJSON("shopify", resp.Body, &body); err != nil {
		return nil, err
	}
	next := nextPageInfo(resp.Header.Get("Link"))
	return &integration.FetchPage{
		Records:    toRecords(req.Kind, body[res.Root], res.Key),
		NextCursor: next,
		HasMore:    next != "",
		Raw:        resp.Body,
	}, nil
}

// nextPageInfo extracts page_info from the rel="next" Link entry
func nextPageInfo(link string) string {
	m := linkNextPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	u, err := url.Parse(m[1])
	if err != nil {
		return ""
	}
	return u.Query().Get("page_info")
}

// Push sets inventory levels, one call per record
func (a *ShopifyAdapter) Push(ctx context.Context, integrationID uuid.UUID, req integration.PushRequest) (*integration.PushResult, error) {
	if !integration.Supports(integration.IntegrationTypeShopify, req.Kind, integration.SyncDirectionOutbound) {
		return nil, fmt.Errorf("%w: shopify push %s", integration.ErrOperationNotSupported, req.Kind)
	}
	s, err := a.sessions.get(integrationID)
	if err != nil {
		return nil, err
	}

	result := &integration.PushResult{}
	for _, rec := range req.Records {
		body, err := inventoryLevelBody(rec.Payload)
		if err == nil {
			_, err = a.core.do(ctx, integrationID, vendorRequest{
				Method: http.MethodPost,
				URL:    s.base + "inventory_levels/set.json",
				Header: s.header(),
				JSON:   body,
			})
		}
		if err == nil {
			result.Accepted++
			continue
		}
		if isTransportFailure(err) {
			return result, err
		}
		result.Failures = append(result.Failures, integration.SyncFailure{
			ExternalID: rec.ExternalID,
			Code:       integration.FailureCodeRejected,
			Message:    err.Error(),
		})
	}
	return result, nil
}

// inventoryLevelBody coerces the reverse-mapped payload into Shopify's integer fields
func inventoryLevelBody(payload map[string]any) (map[string]any, error) {
	out := make(map[string]any, 3)
	for _, key := range []string{"location_id", "inventory_item_id", "available"} {
		n, err := toInt(payload[key])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", integration.ErrVendorRequestFailed, key, err)
		}
		out[key] = n
	}
	return out, nil
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, fmt.Errorf("missing")
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		return int64(f), err
	default:
		s := strings.TrimSpace(idString(x))
		if i := strings.IndexByte(s, '.'); i >= 0 {
			s = s[:i]
		}
		return strconv.ParseInt(s, 10, 64)
	}
}

var _ integration.Adapter = (*ShopifyAdapter)(nil)
