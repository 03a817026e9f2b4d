package httpserver

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pierre-mcp/pierre/internal/oauth2server"
)

func (h *Handlers) registerOAuth2Routes(app *fiber.App) {
	rl := h.RateLimit.Middleware()

	app.Post("/oauth2/register", rl, h.oauth2Register)
	app.Get("/oauth2/authorize", rl, h.oauth2Authorize)
	app.Post("/oauth2/token", rl, h.oauth2Token)
	app.Post("/oauth2/revoke", rl, h.oauth2Revoke)
	app.Post("/oauth2/validate-refresh", rl, h.oauth2ValidateRefresh)
}

func (h *Handlers) registerWellKnownRoutes(app *fiber.App) {
	app.Get("/.well-known/jwks.json", h.wellKnownJWKS)
	app.Get("/.well-known/oauth-authorization-server", h.wellKnownMetadata)
}

func writeOAuth2Error(c *fiber.Ctx, status int, errResp *oauth2server.ErrorResponse) error {
	return c.Status(status).JSON(errResp)
}

func (h *Handlers) oauth2Register(c *fiber.Ctx) error {
	var req oauth2server.RegisterClientRequest
	if err := c.BodyParser(&req); err != nil {
		return writeOAuth2Error(c, fiber.StatusBadRequest, oauth2server.NewError(oauth2server.ErrInvalidRequest, "malformed request body"))
	}
	resp, errResp := h.OAuth2AS.RegisterClient(c.Context(), req)
	if errResp != nil {
		return writeOAuth2Error(c, fiber.StatusBadRequest, errResp)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *Handlers) oauth2Authorize(c *fiber.Ctx) error {
	authCtx, ok := authFromRequest(c, h)
	if !ok {
		return c.Redirect("/auth/login?redirect=" + c.OriginalURL())
	}

	req := oauth2server.AuthorizeRequest{
		ClientID:            c.Query("client_id"),
		RedirectURI:         c.Query("redirect_uri"),
		ResponseType:        c.Query("response_type"),
		Scope:               c.Query("scope"),
		State:               c.Query("state"),
		CodeChallenge:       c.Query("code_challenge"),
		CodeChallengeMethod: c.Query("code_challenge_method"),
		UserID:              authCtx.UserID.String(),
	}
	code, errResp := h.OAuth2AS.Authorize(c.Context(), req)
	if errResp != nil {
		return writeOAuth2Error(c, fiber.StatusBadRequest, errResp)
	}
	return c.Redirect(req.RedirectURI + "?code=" + code + "&state=" + req.State)
}

func (h *Handlers) oauth2Token(c *fiber.Ctx) error {
	req := oauth2server.TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		ClientID:     c.FormValue("client_id"),
		ClientSecret: c.FormValue("client_secret"),
		CodeVerifier: c.FormValue("code_verifier"),
		RefreshToken: c.FormValue("refresh_token"),
		Username:     c.FormValue("username"),
		Password:     c.FormValue("password"),
		Scope:        c.FormValue("scope"),
	}
	resp, errResp := h.OAuth2AS.Token(c.Context(), req)
	if errResp != nil {
		return writeOAuth2Error(c, fiber.StatusBadRequest, errResp)
	}
	return c.JSON(resp)
}

func (h *Handlers) oauth2Revoke(c *fiber.Ctx) error {
	token := c.FormValue("token")
	h.OAuth2AS.Revoke(c.Context(), token)
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handlers) oauth2ValidateRefresh(c *fiber.Ctx) error {
	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ClientID     string `json:"client_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return writeOAuth2Error(c, fiber.StatusBadRequest, oauth2server.NewError(oauth2server.ErrInvalidRequest, "malformed request body"))
	}
	resp := h.OAuth2AS.ValidateRefresh(c.Context(), body.AccessToken, body.RefreshToken, body.ClientID)
	return c.JSON(resp)
}

func (h *Handlers) wellKnownJWKS(c *fiber.Ctx) error {
	return c.JSON(h.JWKSMgr.PublicJWKS())
}

func (h *Handlers) wellKnownMetadata(c *fiber.Ctx) error {
	return c.JSON(oauth2server.BuildMetadata(h.Issuer))
}
