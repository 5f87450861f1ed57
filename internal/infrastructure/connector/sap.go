package connector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/domain/integration"
)

// sapEntity locates an OData entity set for a record kind
type sapEntity struct {
	Service string
	Set     string
	Key     func(map[string]any) string
	// Changed is the property filtered for incremental reads; empty disables it
	Changed string
	// OrderBy lists the key properties so $skip pages stay stable between requests
	OrderBy string
}

var sapEntities = map[integration.RecordKind]sapEntity{
	integration.RecordKindOrder: {
		Service: "API_SALES_ORDER_SRV",
		Set:     "A_SalesOrder",
		Key:     field("SalesOrder"),
		Changed: "LastChangeDateTime",
		OrderBy: "SalesOrder",
	},
	integration.RecordKindInventory: {
		Service: "API_MATERIAL_STOCK_SRV",
		Set:     "A_MaterialStock",
		Key: func(m map[string]any) string {
			material, plant := idString(m["Material"]), idString(m["Plant"])
			if material == "" || plant == "" {
				return material
			}
			return material + "/" + plant
		},
		OrderBy: "Material,Plant",
	},
	integration.RecordKindProduct: {
		Service: "API_PRODUCT_SRV",
		Set:     "A_Product",
		Key:     field("Product"),
		Changed: "LastChangeDateTime",
		OrderBy: "Product",
	},
}

// sapSession is an authenticated OData session
type sapSession struct {
	base          string
	authorization string
	csrfToken     string
	cookies       []string
}

// SAPAdapter talks to SAP S/4HANA OData v2 services
type SAPAdapter struct {
	core     *httpCore
	sessions *sessions[sapSession]
}

// NewSAPAdapter creates the SAP adapter
func NewSAPAdapter(cfg Config, logger *zap.Logger) *SAPAdapter {
	return &SAPAdapter{
		core:     newHTTPCore("sap", cfg, logger),
		sessions: newSessions[sapSession](),
	}
}

// Type implements integration.Adapter
func (a *SAPAdapter) Type() integration.IntegrationType { return integration.IntegrationTypeSAP }

// Connect authenticates and fetches a CSRF token
func (a *SAPAdapter) Connect(ctx context.Context, cfg integration.ConnectionConfig) error {
	s, err := a.open(ctx, cfg)
	if err != nil {
		return err
	}
	a.sessions.put(cfg.IntegrationID, s)
	return nil
}

// TestConnection performs the Connect handshake without keeping the session
func (a *SAPAdapter) TestConnection(ctx context.Context, cfg integration.ConnectionConfig) error {
	_, err := a.open(ctx, cfg)
	a.core.forget(cfg.IntegrationID)
	return err
}

// Disconnect drops the session
func (a *SAPAdapter) Disconnect(_ context.Context, integrationID uuid.UUID) error {
	a.sessions.drop(integrationID)
	a.core.forget(integrationID)
	return nil
}

func (a *SAPAdapter) open(ctx context.Context, cfg integration.ConnectionConfig) (*sapSession, error) {
	s := &sapSession{base: strings.TrimRight(cfg.Endpoint, "/")}

	switch {
	case cfg.Credentials.Has("client_id"):
		if err := requireCreds(cfg, "client_id", "client_secret"); err != nil {
			return nil, err
		}
		tokenURL := cfg.Setting("token_url", cfg.Credentials.Get("token_url"))
		if tokenURL == "" {
			return nil, fmt.Errorf("%w: token_url", integration.ErrMissingCredentials)
		}
		tok, err := clientCredentialsToken(ctx, a.core, cfg.IntegrationID, tokenURL,
			cfg.Credentials.Get("client_id"), cfg.Credentials.Get("client_secret"), cfg.Setting("scope", ""))
		if err != nil {
			return nil, err
		}
		s.authorization = "Bearer " + tok.AccessToken
	default:
		if err := requireCreds(cfg, "username", "password"); err != nil {
			return nil, err
		}
		userPass := cfg.Credentials.Get("username") + ":" + cfg.Credentials.Get("password")
		s.authorization = "Basic " + base64.StdEncoding.EncodeToString([]byte(userPass))
	}

	if err := a.fetchCSRF(ctx, cfg.IntegrationID, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *SAPAdapter) fetchCSRF(ctx context.Context, integrationID uuid.UUID, s *sapSession) error {
	resp, err := a.core.do(ctx, integrationID, vendorRequest{
		Method: http.MethodGet,
		URL:    s.base + "/",
		Header: http.Header{
			"Authorization": {s.authorization},
			"X-Csrf-Token":  {"fetch"},
		},
	})
	if err != nil {
		return err
	}
	token := resp.Header.Get("X-Csrf-Token")
	if token == "" {
		return fmt.Errorf("%w: sap: no CSRF token returned", integration.ErrVendorInvalidResponse)
	}
	s.csrfToken = token
	s.cookies = nil
	for _, c := range resp.Header.Values("Set-Cookie") {
		if name, _, ok := strings.Cut(c, ";"); ok {
			s.cookies = append(s.cookies, name)
		} else {
			s.cookies = append(s.cookies, c)
		}
	}
	return nil
}

func (s *sapSession) header(withCSRF bool) http.Header {
	h := http.Header{"Authorization": {s.authorization}}
	if withCSRF {
		h.Set("X-Csrf-Token", s.csrfToken)
	}
	if len(s.cookies) > 0 {
		h.Set("Cookie", strings.Join(s.cookies, "; "))
	}
	return h
}

// ---------------------------------------------------------------------------
// Fetch
// ---------------------------------------------------------------------------

type sapListResponse struct {
	D struct {
		Results []map[string]any `json:"results"`
		Next    string           `json:"__next"`
	} `json:"d"`
}

// Fetch reads one page of an entity set. The cursor is either the server's
// __next link or a numeric $skip offset.
func (a *SAPAdapter) Fetch(ctx context.Context, integrationID uuid.UUID, req integration.FetchRequest) (*integration.FetchPage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	entity, ok := sapEntities[req.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: sap fetch %s", integration.ErrOperationNotSupported, req.Kind)
	}
	s, err := a.sessions.get(integrationID)
	if err != nil {
		return nil, err
	}

	target, skip, err := sapPageURL(s.base, entity, req)
	if err != nil {
		return nil, err
	}
	resp, err := a.core.do(ctx, integrationID, vendorRequest{
		Method: http.MethodGet,
		URL:    target,
		Header: s.header(false),
	})
	if err != nil {
		return nil, err
	}

	var body sapListResponse
	if err := decodeJSON("sap", resp.Body, &body); err != nil {
		return nil, err
	}

	page := &integration.FetchPage{
		Records: toRecords(req.Kind, body.D.Results, entity.Key),
		Raw:     resp.Body,
	}
	switch {
	case body.D.Next != "":
		page.NextCursor = body.D.Next
	case len(body.D.Results) == req.PageSize:
		page.NextCursor = strconv.Itoa(skip + len(body.D.Results))
	}
	page.HasMore = page.NextCursor != ""
	return page, nil
}

func sapPageURL(base string, entity sapEntity, req integration.FetchRequest) (string, int, error) {
	setURL := base + "/" + entity.Service + "/" + entity.Set

	if req.Cursor != "" {
		if skip, err := strconv.Atoi(req.Cursor); err == nil {
			return sapQuery(setURL, entity, req, skip), skip, nil
		}
		next, err := url.Parse(req.Cursor)
		if err != nil {
			return "", 0, fmt.Errorf("%w: sap: bad cursor %q", integration.ErrVendorInvalidResponse, req.Cursor)
		}
		root, _ := url.Parse(setURL)
		resolved := root.ResolveReference(next)
		q := resolved.Query()
		if q.Get("$format") == "" {
			q.Set("$format", "json")
			resolved.RawQuery = q.Encode()
		}
		return resolved.String(), 0, nil
	}
	return sapQuery(setURL, entity, req, 0), 0, nil
}

func sapQuery(setURL string, entity sapEntity, req integration.FetchRequest, skip int) string {
	q := url.Values{}
	q.Set("$format", "json")
	q.Set("$top", strconv.Itoa(req.PageSize))
	if skip > 0 {
		q.Set("$skip", strconv.Itoa(skip))
	}
	if entity.OrderBy != "" {
		q.Set("$orderby", entity.OrderBy)
	}
	if req.Since != nil && !req.Since.IsZero() && entity.Changed != "" {
		q.Set("$filter", fmt.Sprintf("%s gt datetime'%s'", entity.Changed, req.Since.UTC().Format("2006-01-02T15:04:05")))
	}
	return setURL + "?" + q.Encode()
}

// ---------------------------------------------------------------------------
// Push
// ---------------------------------------------------------------------------

// Push creates entries one at a time. An expired CSRF token is refreshed once.
func (a *SAPAdapter) Push(ctx context.Context, integrationID uuid.UUID, req integration.PushRequest) (*integration.PushResult, error) {
	if !integration.Supports(integration.IntegrationTypeSAP, req.Kind, integration.SyncDirectionOutbound) {
		return nil, fmt.Errorf("%w: sap push %s", integration.ErrOperationNotSupported, req.Kind)
	}
	entity := sapEntities[req.Kind]
	s, err := a.sessions.get(integrationID)
	if err != nil {
		return nil, err
	}

	result := &integration.PushResult{}
	target := s.base + "/" + entity.Service + "/" + entity.Set
	for _, rec := range req.Records {
		err := a.postEntry(ctx, integrationID, s, target, rec.Payload)
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

func (a *SAPAdapter) postEntry(ctx context.Context, integrationID uuid.UUID, s *sapSession, target string, payload map[string]any) error {
	for attempt := 0; ; attempt++ {
		resp, err := a.core.do(ctx, integrationID, vendorRequest{
			Method: http.MethodPost,
			URL:    target,
			Header: s.header(true),
			JSON:   payload,
		})
		if err == nil {
			return nil
		}
		csrfExpired := resp != nil && resp.Status == http.StatusForbidden &&
			strings.EqualFold(resp.Header.Get("X-Csrf-Token"), "required")
		if !csrfExpired || attempt > 0 {
			if csrfExpired {
				return fmt.Errorf("%w: sap: CSRF token rejected", integration.ErrVendorRequestFailed)
			}
			return err
		}
		if err := a.fetchCSRF(ctx, integrationID, s); err != nil {
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// OAuth client credentials (shared with Power BI)
// ---------------------------------------------------------------------------

type oauthToken struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
	expiresAt   time.Time
}

func clientCredentialsToken(ctx context.Context, core *httpCore, integrationID uuid.UUID, tokenURL, clientID, secret, scope string) (*oauthToken, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", secret)
	if scope != "" {
		form.Set("scope", scope)
	}
	resp, err := core.do(ctx, integrationID, vendorRequest{
		Method: http.MethodPost,
		URL:    tokenURL,
		Form:   form.Encode(),
	})
	if err != nil {
		if errors.Is(err, integration.ErrVendorRequestFailed) {
			return nil, fmt.Errorf("%w: %v", integration.ErrVendorAuthFailed, err)
		}
		return nil, err
	}
	var tok oauthToken
	if err := decodeJSON(core.vendor, resp.Body, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s: token response without access_token", integration.ErrVendorAuthFailed, core.vendor)
	}
	secs, err := strconv.ParseInt(string(tok.ExpiresIn), 10, 64)
	if err != nil || secs <= 0 {
		secs = 3600
	}
	tok.expiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	return &tok, nil
}

// valid reports whether the token is usable for at least another minute
func (t *oauthToken) valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Add(time.Minute).Before(t.expiresAt)
}

var _ integration.Adapter = (*SAPAdapter)(nil)
