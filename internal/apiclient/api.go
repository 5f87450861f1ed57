package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	appidentity "github.com/supplychain/backend/internal/application/identity"
	appintegration "github.com/supplychain/backend/internal/application/integration"
	appkyc "github.com/supplychain/backend/internal/application/kyc"
	appnotification "github.com/supplychain/backend/internal/application/notification"
	apponboarding "github.com/supplychain/backend/internal/application/onboarding"
)

// ListOptions are the common pagination parameters
type ListOptions struct {
	Page     int
	PageSize int
	OrderBy  string
	OrderDir string
	Search   string
}

func (o ListOptions) values() url.Values {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(o.PageSize))
	}
	if o.OrderBy != "" {
		q.Set("order_by", o.OrderBy)
	}
	if o.OrderDir != "" {
		q.Set("order_dir", o.OrderDir)
	}
	if o.Search != "" {
		q.Set("search", o.Search)
	}
	return q
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

// Login authenticates and stores the session
func (c *Client) Login(ctx context.Context, username, password string) (*appidentity.TokenResult, error) {
	var out appidentity.TokenResult
	_, err := c.Call(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   appidentity.LoginInput{Username: username, Password: password},
		NoAuth: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.storeTokens(&out)
	return &out, nil
}

// Refresh rotates the tokens using the refresh token
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*appidentity.TokenResult, error) {
	var out appidentity.TokenResult
	_, err := c.Call(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/refresh",
		Body:   appidentity.RefreshInput{RefreshToken: refreshToken},
		NoAuth: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.storeTokens(&out)
	return &out, nil
}

// Logout forgets the session locally
func (c *Client) Logout() {
	c.tokens.Clear()
}

// Me returns the authenticated user
func (c *Client) Me(ctx context.Context) (*appidentity.UserInfo, error) {
	var out appidentity.UserInfo
	if _, err := c.Call(ctx, Request{Method: http.MethodGet, Path: "/auth/me"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// storeTokens saves a login or refresh result. A refresh response without a
// user keeps the tenant from the previous session.
func (c *Client) storeTokens(res *appidentity.TokenResult) {
	t := c.tokens.Load()
	t.AccessToken = res.AccessToken
	t.RefreshToken = res.RefreshToken
	t.ExpiresAt = res.AccessTokenExpiresAt
	if res.User != nil && res.User.TenantID != uuid.Nil {
		t.TenantID = res.User.TenantID.String()
	}
	c.tokens.Save(t)
}

// ---------------------------------------------------------------------------
// Integrations
// ---------------------------------------------------------------------------

// ListIntegrations lists the tenant's integrations
func (c *Client) ListIntegrations(ctx context.Context, opts ListOptions) ([]appintegration.IntegrationResponse, *Meta, error) {
	var out []appintegration.IntegrationResponse
	meta, err := c.Call(ctx, Request{Method: http.MethodGet, Path: "/integrations", Query: opts.values()}, &out)
	if err != nil {
		return nil, nil, err
	}
	return out, meta, nil
}

// CreateIntegration registers a new integration
func (c *Client) CreateIntegration(ctx context.Context, req appintegration.CreateIntegrationRequest) (*appintegration.IntegrationResponse, error) {
	var out appintegration.IntegrationResponse
	if _, err := c.Call(ctx, Request{Method: http.MethodPost, Path: "/integrations", Body: req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConnectIntegration connects one integration
func (c *Client) ConnectIntegration(ctx context.Context, id uuid.UUID) (*appintegration.IntegrationResponse, error) {
	return c.integrationAction(ctx, id, "connect")
}

// DisconnectIntegration disconnects one integration
func (c *Client) DisconnectIntegration(ctx context.Context, id uuid.UUID) (*appintegration.IntegrationResponse, error) {
	return c.integrationAction(ctx, id, "disconnect")
}

func (c *Client) integrationAction(ctx context.Context, id uuid.UUID, action string) (*appintegration.IntegrationResponse, error) {
	var out appintegration.IntegrationResponse
	_, err := c.Call(ctx, Request{Method: http.MethodPost, Path: "/integrations/" + id.String() + "/" + action}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncIntegration runs a manual sync and returns the finished run
func (c *Client) SyncIntegration(ctx context.Context, id uuid.UUID, req appintegration.SyncRequest) (*appintegration.SyncRunResponse, error) {
	var out appintegration.SyncRunResponse
	_, err := c.Call(ctx, Request{Method: http.MethodPost, Path: "/integrations/" + id.String() + "/sync", Body: req}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncAll syncs every connected integration of the tenant
func (c *Client) SyncAll(ctx context.Context) (*appintegration.BatchResult, error) {
	var out appintegration.BatchResult
	if _, err := c.Call(ctx, Request{Method: http.MethodPost, Path: "/integrations/sync-all"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

// NotificationListOptions filters the feed
type NotificationListOptions struct {
	ListOptions
	UnreadOnly bool
	Category   string
}

// ListNotifications returns the caller's notification feed
func (c *Client) ListNotifications(ctx context.Context, opts NotificationListOptions) ([]appnotification.NotificationResponse, *Meta, error) {
	q := opts.values()
	if opts.UnreadOnly {
		q.Set("unread_only", "true")
	}
	if opts.Category != "" {
		q.Set("category", opts.Category)
	}
	var out []appnotification.NotificationResponse
	meta, err := c.Call(ctx, Request{Method: http.MethodGet, Path: "/notifications", Query: q}, &out)
	if err != nil {
		return nil, nil, err
	}
	return out, meta, nil
}

// MarkNotificationRead marks one notification read
func (c *Client) MarkNotificationRead(ctx context.Context, id uuid.UUID) (*appnotification.NotificationResponse, error) {
	var out appnotification.NotificationResponse
	_, err := c.Call(ctx, Request{Method: http.MethodPost, Path: "/notifications/" + id.String() + "/read"}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// KYC
// ---------------------------------------------------------------------------

// GetKYC returns the tenant's KYC application
func (c *Client) GetKYC(ctx context.Context) (*appkyc.ApplicationResponse, error) {
	var out appkyc.ApplicationResponse
	if _, err := c.Call(ctx, Request{Method: http.MethodGet, Path: "/kyc"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitKYC sends the application for review
func (c *Client) SubmitKYC(ctx context.Context) (*appkyc.ApplicationResponse, error) {
	var out appkyc.ApplicationResponse
	if _, err := c.Call(ctx, Request{Method: http.MethodPost, Path: "/kyc/submit"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Onboarding
// ---------------------------------------------------------------------------

// GetOnboarding returns the caller's onboarding progress
func (c *Client) GetOnboarding(ctx context.Context) (*apponboarding.ProgressResponse, error) {
	var out apponboarding.ProgressResponse
	if _, err := c.Call(ctx, Request{Method: http.MethodGet, Path: "/onboarding"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteOnboardingStep marks a step done
func (c *Client) CompleteOnboardingStep(ctx context.Context, key string) (*apponboarding.ProgressResponse, error) {
	var out apponboarding.ProgressResponse
	_, err := c.Call(ctx, Request{
		Method: http.MethodPost,
		Path:   "/onboarding/steps/" + url.PathEscape(key) + "/complete",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
