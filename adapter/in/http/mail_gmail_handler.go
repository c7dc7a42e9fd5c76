package http

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"mailflow_server/core/port/in"
	"mailflow_server/core/port/out"
	"mailflow_server/infra/middleware"
	"mailflow_server/pkg/apperr"
	"mailflow_server/pkg/logger"
)

const (
	gmailCachePrefix = "gmail:"

	DefaultListTTL   = 300 * time.Second
	DefaultDetailTTL = 600 * time.Second

	cacheHeader = "X-Cache"
)

// GmailHandler serves /gmail. Read endpoints are cached; every mutation
// purges the cache.
type GmailHandler struct {
	mailService in.MailService
	cache       out.Cache
	listTTL     time.Duration
	detailTTL   time.Duration
}

// NewGmailHandler creates the handler. A nil cache disables response caching;
// zero TTLs fall back to the defaults.
func NewGmailHandler(mailService in.MailService, cache out.Cache, listTTL, detailTTL time.Duration) *GmailHandler {
	if listTTL <= 0 {
		listTTL = DefaultListTTL
	}
	if detailTTL <= 0 {
		detailTTL = DefaultDetailTTL
	}
	return &GmailHandler{
		mailService: mailService,
		cache:       cache,
		listTTL:     listTTL,
		detailTTL:   detailTTL,
	}
}

func (h *GmailHandler) Register(router fiber.Router) {
	gmail := router.Group("/gmail", middleware.NoStore())
	gmail.Get("/inbox", h.Inbox)
	gmail.Get("/sent", h.Sent)
	gmail.Get("/search", h.Search)
	gmail.Post("/send", middleware.RequireJSON(), h.Send)

	validID := middleware.ValidateMessageID("id")
	gmail.Get("/messages/:id", validID, h.Detail)
	gmail.Delete("/messages/:id", validID, h.Delete)
	gmail.Post("/messages/:id/reply", validID, middleware.RequireJSON(), h.Reply)
	gmail.Post("/messages/:id/forward", validID, middleware.RequireJSON(), h.Forward)
}

func (h *GmailHandler) Inbox(c *fiber.Ctx) error {
	pageToken := c.Query("page_token")
	return h.cached(c, "inbox:"+pageToken, h.listTTL, func() (any, error) {
		return h.mailService.ListInbox(requestContext(c), pageToken)
	})
}

func (h *GmailHandler) Sent(c *fiber.Ctx) error {
	pageToken := c.Query("page_token")
	return h.cached(c, "sent:"+pageToken, h.listTTL, func() (any, error) {
		return h.mailService.ListSent(requestContext(c), pageToken)
	})
}

func (h *GmailHandler) Search(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return apperr.MissingField("q")
	}
	return h.cached(c, "search:"+query, h.listTTL, func() (any, error) {
		return h.mailService.Search(requestContext(c), query)
	})
}

func (h *GmailHandler) Detail(c *fiber.Ctx) error {
	id := c.Params("id")
	return h.cached(c, "message:"+id, h.detailTTL, func() (any, error) {
		return h.mailService.GetDetail(requestContext(c), id)
	})
}

func (h *GmailHandler) Send(c *fiber.Ctx) error {
	var req in.SendRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if err := h.mailService.Send(requestContext(c), &req); err != nil {
		return err
	}
	h.purge(c)
	return c.JSON(fiber.Map{"status": "sent"})
}

func (h *GmailHandler) Reply(c *fiber.Ctx) error {
	var req in.ReplyRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if err := h.mailService.Reply(requestContext(c), c.Params("id"), req.Body); err != nil {
		return err
	}
	h.purge(c)
	return c.JSON(fiber.Map{"status": "sent"})
}

func (h *GmailHandler) Forward(c *fiber.Ctx) error {
	var req in.ForwardRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if err := h.mailService.Forward(requestContext(c), c.Params("id"), req.To, req.Body); err != nil {
		return err
	}
	h.purge(c)
	return c.JSON(fiber.Map{"status": "sent"})
}

func (h *GmailHandler) Delete(c *fiber.Ctx) error {
	if err := h.mailService.Delete(requestContext(c), c.Params("id")); err != nil {
		return err
	}
	h.purge(c)
	return c.JSON(fiber.Map{"status": "deleted"})
}

// cached serves key from the cache or stores the JSON encoding of load's
// result. Cache failures degrade to uncached responses.
func (h *GmailHandler) cached(c *fiber.Ctx, key string, ttl time.Duration, load func() (any, error)) error {
	ctx := requestContext(c)
	key = gmailCachePrefix + key

	if h.cache != nil {
		body, ok, err := h.cache.Get(ctx, key)
		if err != nil {
			logger.WithContext(ctx).WithError(err).Warn("[GmailHandler] cache read failed")
		} else if ok {
			c.Set(cacheHeader, "HIT")
			return sendJSONBytes(c, body)
		}
	}

	result, err := load()
	if err != nil {
		return err
	}
	body, err := json.Marshal(result)
	if err != nil {
		return apperr.InternalWithError(err)
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, key, body, ttl); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("[GmailHandler] cache write failed")
		}
		c.Set(cacheHeader, "MISS")
	}
	return sendJSONBytes(c, body)
}

func (h *GmailHandler) purge(c *fiber.Ctx) {
	if h.cache == nil {
		return
	}
	if err := h.cache.DeletePrefix(requestContext(c), gmailCachePrefix); err != nil {
		logger.WithContext(requestContext(c)).WithError(err).Warn("[GmailHandler] cache purge failed")
	}
}
