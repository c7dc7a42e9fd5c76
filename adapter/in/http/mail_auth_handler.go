package http

import (
	"net/url"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"

	"mailflow_server/core/port/in"
	"mailflow_server/core/port/out"
	"mailflow_server/infra/middleware"
	"mailflow_server/pkg/apperr"
	"mailflow_server/pkg/logger"
)

// SessionManager writes and clears the session cookie.
type SessionManager interface {
	Issue(c *fiber.Ctx, email string) error
	Clear(c *fiber.Ctx)
}

type AuthHandler struct {
	authService in.AuthService
	sessions    SessionManager
	cache       out.Cache
	frontendURL string
}

// NewAuthHandler creates the /auth handler. cache may be nil; when set it is
// purged whenever the signed-in account changes.
func NewAuthHandler(authService in.AuthService, sessions SessionManager, cache out.Cache, frontendURL string) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		sessions:    sessions,
		cache:       cache,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// Register mounts the routes. limiter, if given, guards login and callback.
func (h *AuthHandler) Register(router fiber.Router, limiter ...fiber.Handler) {
	limiter = slices.Clip(limiter)
	auth := router.Group("/auth", middleware.NoStore())
	auth.Get("/login", append(limiter, h.Login)...)
	auth.Get("/callback", append(limiter, h.Callback)...)
	auth.Get("/status", h.Status)
	auth.Get("/me", h.Me)
	auth.Get("/logout", h.Logout)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	authURL, err := h.authService.LoginURL(requestContext(c))
	if err != nil {
		return err
	}
	return c.Redirect(authURL, fiber.StatusTemporaryRedirect)
}

// Callback finishes the consent flow. Failures are reported to the frontend
// as ?error=<code> rather than as JSON.
func (h *AuthHandler) Callback(c *fiber.Ctx) error {
	if providerErr := c.Query("error"); providerErr != "" {
		logger.WithContext(requestContext(c)).
			WithField("error_description", c.Query("error_description")).
			Warn("[AuthHandler.Callback] consent denied: %s", providerErr)
		return h.redirectError(c, providerErr)
	}

	token, err := h.authService.HandleCallback(requestContext(c), c.Query("code"), c.Query("state"))
	if err != nil {
		appErr := apperr.AsAppError(err)
		logger.WithContext(requestContext(c)).WithError(err).Warn("[AuthHandler.Callback] login failed")
		return h.redirectError(c, strings.ToLower(appErr.Code))
	}

	if err := h.sessions.Issue(c, token.Email); err != nil {
		logger.WithContext(requestContext(c)).WithError(err).Error("[AuthHandler.Callback] issue session")
		return h.redirectError(c, strings.ToLower(apperr.CodeInternalError))
	}
	h.purgeCache(c)

	return c.Redirect(h.frontendURL, fiber.StatusTemporaryRedirect)
}

func (h *AuthHandler) Status(c *fiber.Ctx) error {
	ok, err := h.authService.Status(requestContext(c), middleware.SessionEmail(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"authenticated": ok})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	profile, err := h.authService.Profile(requestContext(c), middleware.SessionEmail(c))
	if err != nil {
		return err
	}
	return c.JSON(profile)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.authService.Logout(requestContext(c), middleware.SessionEmail(c)); err != nil {
		return err
	}
	h.sessions.Clear(c)
	h.purgeCache(c)
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

func (h *AuthHandler) redirectError(c *fiber.Ctx, code string) error {
	return c.Redirect(h.frontendURL+"?"+url.Values{"error": {code}}.Encode(), fiber.StatusTemporaryRedirect)
}

func (h *AuthHandler) purgeCache(c *fiber.Ctx) {
	if h.cache == nil {
		return
	}
	if err := h.cache.DeletePrefix(requestContext(c), gmailCachePrefix); err != nil {
		logger.WithContext(requestContext(c)).WithError(err).Warn("[AuthHandler] cache purge failed")
	}
}
