package gmail

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"mailflow_server/core/domain"
	"mailflow_server/core/port/out"
)

// Scopes requested at consent time.
var Scopes = []string{
	gmailapi.GmailReadonlyScope,
	gmailapi.GmailSendScope,
	gmailapi.GmailModifyScope,
	oauth2api.OpenIDScope,
	oauth2api.UserinfoEmailScope,
	oauth2api.UserinfoProfileScope,
}

// OAuthConfig holds Google OAuth client settings.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	HTTPClient *http.Client
	// Endpoint and UserInfoEndpoint override Google's URLs.
	Endpoint         *oauth2.Endpoint
	UserInfoEndpoint string
}

// Authenticator implements out.Authenticator against Google OAuth2.
type Authenticator struct {
	config           *oauth2.Config
	httpClient       *http.Client
	userInfoEndpoint string
}

var _ out.Authenticator = (*Authenticator)(nil)

func NewAuthenticator(cfg *OAuthConfig) *Authenticator {
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	return &Authenticator{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     endpoint,
		},
		httpClient:       cfg.HTTPClient,
		userInfoEndpoint: cfg.UserInfoEndpoint,
	}
}

// AuthCodeURL asks for offline access and forces the consent screen so a
// refresh token is always issued.
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

func (a *Authenticator) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := a.config.Exchange(a.clientContext(ctx), code)
	if err != nil {
		return nil, out.NewProviderError("google", out.ProviderErrAuth, "failed to exchange code", err, false)
	}
	return tok, nil
}

// RefreshToken obtains a new access token, keeping the old refresh token
// when Google does not rotate it.
func (a *Authenticator) RefreshToken(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	stale := &oauth2.Token{RefreshToken: token.RefreshToken}
	fresh, err := a.config.TokenSource(a.clientContext(ctx), stale).Token()
	if err != nil {
		return nil, err
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = token.RefreshToken
	}
	return fresh, nil
}

// GetUserInfo reads the account's email, name and picture.
func (a *Authenticator) GetUserInfo(ctx context.Context, token *oauth2.Token) (*domain.UserProfile, error) {
	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(a.clientContext(ctx), oauth2.StaticTokenSource(token))),
	}
	if a.userInfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(a.userInfoEndpoint))
	}

	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return &domain.UserProfile{
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}

func (a *Authenticator) clientContext(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}
