// ABOUTME: JWT tools: issue, validate, refresh, introspect and revoke tokens.
// ABOUTME: Issued tokens carry the ServiceNow instance and client id as claims.

package tools

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/snow-mcp/internal/auth"
	"github.com/2389/snow-mcp/internal/servicenow"
)

type generateTokenInput struct {
	Username    string `json:"username" jsonschema:"ServiceNow username" validate:"required"`
	Password    string `json:"password" jsonschema:"ServiceNow password, used only to issue the tokens" validate:"required"`
	InstanceURL string `json:"instance_url,omitempty" jsonschema:"ServiceNow instance URL; defaults to the configured instance" validate:"omitempty,url"`
}

type tokenInput struct {
	Token string `json:"token" jsonschema:"JWT token string" validate:"required"`
}

type refreshTokenInput struct {
	RefreshToken string `json:"refresh_token" jsonschema:"Refresh token issued by generate_jwt_token or refresh_jwt_token" validate:"required"`
}

func (ts *Toolset) registerTokens(srv *sdk.Server) {
	addTool(ts, srv, &sdk.Tool{
		Name:        ToolGenerateToken,
		Description: "Generate JWT access and refresh tokens for a ServiceNow user.",
	}, func(in generateTokenInput) map[string]any {
		return map[string]any{"username": in.Username, "instance_url": in.InstanceURL}
	}, ts.generateToken)

	addTool(ts, srv, &sdk.Tool{
		Name:        ToolValidateToken,
		Description: "Validate a JWT token and return its information.",
		Annotations: &sdk.ToolAnnotations{ReadOnlyHint: true},
	}, noDetail[tokenInput], ts.validateToken)

	addTool(ts, srv, &sdk.Tool{
		Name:        ToolRefreshToken,
		Description: "Exchange a refresh token for a new access and refresh token pair.",
	}, noDetail[refreshTokenInput], ts.refreshToken)

	addTool(ts, srv, &sdk.Tool{
		Name:        ToolTokenInfo,
		Description: "Get information about a JWT token without validating it. Works on expired tokens.",
		Annotations: &sdk.ToolAnnotations{ReadOnlyHint: true},
	}, noDetail[tokenInput], ts.tokenInfo)

	if !ts.cfg.Tokens.HasLedger() {
		return
	}
	addTool(ts, srv, &sdk.Tool{
		Name:        ToolRevokeToken,
		Description: "Revoke a JWT token so it is no longer accepted.",
	}, noDetail[tokenInput], ts.revokeToken)
}

// noDetail keeps token values out of the audit log.
func noDetail[In any](In) map[string]any { return nil }

func (ts *Toolset) generateToken(ctx context.Context, in generateTokenInput) (map[string]any, error) {
	instance := in.InstanceURL
	if instance == "" {
		instance = ts.cfg.InstanceURL
	}
	if instance == "" {
		return nil, fail("ServiceNow instance URL is required", nil)
	}
	instance = strings.TrimRight(instance, "/")

	if ts.cfg.Credentials != nil {
		// credentials are only checked against the configured instance
		if !strings.EqualFold(instance, strings.TrimRight(ts.cfg.InstanceURL, "/")) {
			return nil, fail("instance_url must match the configured ServiceNow instance", nil)
		}
		instance = strings.TrimRight(ts.cfg.InstanceURL, "/")
		if err := ts.cfg.Credentials.VerifyCredentials(ctx, instance, in.Username, in.Password); err != nil {
			if errors.Is(err, servicenow.ErrUnauthorized) {
				return nil, fail(authFailedMessage, nil)
			}
			return nil, fail("Failed to verify credentials", err)
		}
	}

	pair, err := ts.cfg.Tokens.IssueInitial(ctx, auth.UserInfo{
		Username:    in.Username,
		InstanceURL: instance,
		ClientID:    ts.cfg.ClientID,
	})
	if err != nil {
		return nil, fail("Failed to create initial tokens", err)
	}
	ts.inst.RecordTokenIssued(ctx, string(auth.TokenTypeAccess))
	ts.inst.RecordTokenIssued(ctx, string(auth.TokenTypeRefresh))

	ts.logger.Info("generated jwt tokens", "username", in.Username, "instance_url", instance)
	return map[string]any{
		"message": "JWT tokens generated successfully",
		"tokens":  pair,
		"usage_instructions": map[string]any{
			"access_token":            "Set as SERVICENOW_JWT_TOKEN environment variable",
			"refresh_token":           "Store securely for token renewal",
			"expires_in_hours":        ts.cfg.Tokens.AccessTTL().Hours(),
			"refresh_expires_in_days": ts.cfg.Tokens.RefreshTTL().Hours() / 24,
		},
	}, nil
}

func (ts *Toolset) validateToken(ctx context.Context, in tokenInput) (map[string]any, error) {
	claims, err := ts.cfg.Tokens.Validate(ctx, in.Token)
	if err != nil {
		return nil, tokenFailure(err)
	}
	info, err := ts.cfg.Tokens.Inspect(in.Token)
	if err != nil {
		return nil, tokenFailure(err)
	}

	return map[string]any{
		"message":    "JWT token is valid",
		"token_info": info,
		"payload": map[string]any{
			"username":     claims.Subject,
			"instance_url": claims.InstanceURL,
			"token_type":   string(claims.Type),
			"issuer":       claims.Issuer,
			"audience":     strings.Join(claims.Audience, ","),
		},
	}, nil
}

func (ts *Toolset) refreshToken(ctx context.Context, in refreshTokenInput) (map[string]any, error) {
	pair, err := ts.cfg.Tokens.Refresh(ctx, in.RefreshToken)
	if errors.Is(err, auth.ErrWrongTokenType) {
		return nil, fail("Invalid token type. Refresh token required.", nil)
	}
	if err != nil {
		return nil, fail("Failed to refresh token", tokenFailure(err))
	}
	ts.inst.RecordTokenIssued(ctx, string(auth.TokenTypeAccess))
	ts.inst.RecordTokenIssued(ctx, string(auth.TokenTypeRefresh))

	ts.logger.Info("refreshed jwt tokens")
	return map[string]any{
		"message": "JWT tokens refreshed successfully",
		"tokens":  pair,
		"usage_instructions": map[string]any{
			"access_token":     "Update SERVICENOW_JWT_TOKEN environment variable",
			"refresh_token":    "Store the new refresh token securely",
			"expires_in_hours": ts.cfg.Tokens.AccessTTL().Hours(),
		},
	}, nil
}

func (ts *Toolset) tokenInfo(_ context.Context, in tokenInput) (map[string]any, error) {
	info, err := ts.cfg.Tokens.Inspect(in.Token)
	if err != nil {
		return nil, fail("Failed to get token info", err)
	}
	return map[string]any{"token_info": info}, nil
}

func (ts *Toolset) revokeToken(ctx context.Context, in tokenInput) (map[string]any, error) {
	jti, err := ts.cfg.Tokens.Revoke(ctx, in.Token)
	if err != nil {
		return nil, fail("Failed to revoke token", err)
	}
	ts.logger.Info("revoked jwt token", "token_id", jti)
	return map[string]any{
		"message":  "JWT token revoked",
		"token_id": jti,
	}, nil
}

// tokenFailure maps validation errors to caller-facing messages.
func tokenFailure(err error) error {
	switch {
	case errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrRevokedToken):
		return err
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrMissingClaim):
		return fail("Invalid JWT token", err)
	}
	return fail("Failed to validate JWT token", err)
}
