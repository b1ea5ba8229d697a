package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"mation/config"
	"mation/models"
)

// Graph API error code reported for expired/invalid long-lived tokens.
const graphCodeTokenExpired = 190

// GraphError is the error object the Graph API returns in its JSON body.
type GraphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph api error %d (%s): %s", e.Code, e.Type, e.Message)
}

// IsTokenExpired reports whether the error is the platform's expired-token
// error. Only this error triggers the refresh-and-retry-once policy.
func IsTokenExpired(err error) bool {
	var ge *GraphError
	return errors.As(err, &ge) && ge.Code == graphCodeTokenExpired
}

// TokenResponse is the body of the Graph token exchange endpoints.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// InstagramProfile is the connected account's public profile.
type InstagramProfile struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	ProfilePictureURL string `json:"profile_picture_url"`
}

// InstagramMedia is one item of the account's media list.
type InstagramMedia struct {
	ID        string `json:"id"`
	Caption   string `json:"caption"`
	MediaURL  string `json:"media_url"`
	MediaType string `json:"media_type"`
	Timestamp string `json:"timestamp"`
}

// CommentDetails is the response of the comment lookup endpoint.
type CommentDetails struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	From struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Media struct {
		ID string `json:"id"`
	} `json:"media"`
}

// InstagramClient talks to the Meta Graph API. All calls are synchronous
// round-trips; callers decide the retry policy.
type InstagramClient struct {
	BaseURL     string
	AppID       string
	AppSecret   string
	RedirectURI string
	HTTPClient  *http.Client
	Logger      *log.Logger
}

// NewInstagramClient builds a client from the loaded application config.
func NewInstagramClient(logger *log.Logger) *InstagramClient {
	return &InstagramClient{
		BaseURL:     strings.TrimRight(config.AppConfig.Meta.GraphURL, "/"),
		AppID:       config.AppConfig.Meta.AppID,
		AppSecret:   config.AppConfig.Meta.AppSecret,
		RedirectURI: config.AppConfig.Meta.RedirectURI,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		Logger:      logger,
	}
}

// OAuthConfig returns the authorization-code flow configuration for the
// Meta app.
func (c *InstagramClient) OAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.AppID,
		ClientSecret: c.AppSecret,
		RedirectURL:  c.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.BaseURL + "/oauth/authorize",
			TokenURL: c.BaseURL + "/oauth/access_token",
		},
	}
}

// ExchangeCode swaps an authorization code for a short-lived access token.
func (c *InstagramClient) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
	return c.OAuthConfig().Exchange(ctx, code)
}

// ExchangeLongLived converts a short-lived token to a long-lived one.
func (c *InstagramClient) ExchangeLongLived(ctx context.Context, shortToken string) (*TokenResponse, error) {
	params := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.AppID},
		"client_secret":     {c.AppSecret},
		"fb_exchange_token": {shortToken},
	}

	var out TokenResponse
	if err := c.doGet(ctx, "/oauth/access_token", params, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("token exchange response missing access_token")
	}
	return &out, nil
}

// RefreshLongLived exchanges an existing long-lived token for a fresh one.
// Same grant as ExchangeLongLived; the platform resets the expiry clock.
func (c *InstagramClient) RefreshLongLived(ctx context.Context, token string) (*TokenResponse, error) {
	return c.ExchangeLongLived(ctx, token)
}

// GetProfile fetches the connected account's id, username and avatar.
func (c *InstagramClient) GetProfile(ctx context.Context, token string) (*InstagramProfile, error) {
	params := url.Values{
		"fields":       {"id,username,profile_picture_url"},
		"access_token": {token},
	}

	var out InstagramProfile
	if err := c.doGet(ctx, "/me", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMedia lists the account's recent media for the post picker.
func (c *InstagramClient) GetMedia(ctx context.Context, token string) ([]InstagramMedia, error) {
	params := url.Values{
		"fields":       {"id,caption,media_url,media_type,timestamp"},
		"limit":        {"10"},
		"access_token": {token},
	}

	var out struct {
		Data []InstagramMedia `json:"data"`
	}
	if err := c.doGet(ctx, "/me/media", params, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// GetCommentDetails fetches one comment's text, author and media.
func (c *InstagramClient) GetCommentDetails(ctx context.Context, commentID, token string) (*CommentDetails, error) {
	params := url.Values{
		"fields":       {"id,text,from,media"},
		"access_token": {token},
	}

	var out CommentDetails
	if err := c.doGet(ctx, "/"+commentID, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendDM sends a plain text private message from the page to a user.
func (c *InstagramClient) SendDM(ctx context.Context, pageID, recipientID, text, token string) error {
	body := map[string]interface{}{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	return c.doPost(ctx, "/"+pageID+"/messages", token, body)
}

// SendDMImage sends an image attachment private message.
func (c *InstagramClient) SendDMImage(ctx context.Context, pageID, recipientID, imageURL, token string) error {
	body := map[string]interface{}{
		"recipient": map[string]string{"id": recipientID},
		"message": map[string]interface{}{
			"attachment": map[string]interface{}{
				"type": "image",
				"payload": map[string]interface{}{
					"url":         imageURL,
					"is_reusable": false,
				},
			},
		},
	}
	return c.doPost(ctx, "/"+pageID+"/messages", token, body)
}

// ReplyToComment posts a public reply under a comment.
func (c *InstagramClient) ReplyToComment(ctx context.Context, commentID, message, token string) error {
	body := map[string]interface{}{
		"message": message,
	}
	return c.doPost(ctx, "/"+commentID+"/replies", token, body)
}

// PrivateReplyToComment sends a private message to the author of a comment.
func (c *InstagramClient) PrivateReplyToComment(ctx context.Context, pageID, commentID, message, token string) error {
	body := map[string]interface{}{
		"recipient": map[string]string{"comment_id": commentID},
		"message":   map[string]string{"text": message},
	}
	return c.doPost(ctx, "/"+pageID+"/messages", token, body)
}

// FlattenLinks appends link rows to a message as formatted text. The
// private-reply endpoint has no button support, so links ride in the body.
func FlattenLinks(message string, links []models.ListenerLink) string {
	if len(links) == 0 {
		return message
	}
	parts := make([]string, 0, len(links))
	for _, l := range links {
		parts = append(parts, l.Title+"\n"+l.URL)
	}
	linksText := strings.Join(parts, "\n\n")
	if message == "" {
		return linksText
	}
	return message + "\n\n" + linksText
}

func (c *InstagramClient) doGet(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *InstagramClient) doPost(ctx context.Context, path, token string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, nil)
}

func (c *InstagramClient) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	// The Graph API signals failures in the body, not only the status code.
	var envelope struct {
		Error *GraphError `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil {
		if c.Logger != nil {
			c.Logger.Printf("graph api call %s %s failed: %v", req.Method, req.URL.Path, envelope.Error)
		}
		return envelope.Error
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("graph api call %s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding graph api response: %w", err)
		}
	}
	return nil
}
