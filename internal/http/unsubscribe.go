package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/polyvox/notify-engine/internal/repository"
	"github.com/polyvox/notify-engine/internal/token"
)

// Minimal branded pages for the links that land in inboxes. Errors stay
// deliberately vague: a token is either honored or "invalid or expired",
// never "expired at T" or "unknown contact".
const (
	pageOK = `<!DOCTYPE html><html><body style="font-family:sans-serif;max-width:480px;margin:40px auto">
<h2>You're unsubscribed</h2>
<p>%s</p>
</body></html>`

	pageInvalid = `<!DOCTYPE html><html><body style="font-family:sans-serif;max-width:480px;margin:40px auto">
<h2>Link not valid</h2>
<p>This unsubscribe link is invalid or expired.</p>
</body></html>`
)

func htmlPage(c echo.Context, status int, page, detail string) error {
	if detail != "" {
		page = strings.Replace(page, "%s", detail, 1)
	}
	return c.HTML(status, page)
}

// contactUnsubscribeHandler honors the signed contact-level link from the
// email footer: the whole mailbox stops receiving notifications, without
// counting a bounce.
func contactUnsubscribeHandler(signer *token.Signer, contacts repository.ContactsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := strings.TrimSpace(c.QueryParam("token"))
		if raw == "" {
			return htmlPage(c, http.StatusBadRequest, pageInvalid, "")
		}

		contactID, err := signer.VerifyContact(raw, time.Now().UTC())
		if err != nil {
			return htmlPage(c, http.StatusBadRequest, pageInvalid, "")
		}

		if err := contacts.Suppress(c.Request().Context(), contactID, time.Now().UTC()); err != nil {
			log.Errorf("contact suppress failed: %v", err)

			return c.HTML(http.StatusInternalServerError, pageInvalid)
		}

		return htmlPage(c, http.StatusOK, pageOK,
			"This email address will no longer receive notification emails.")
	}
}

// subscriptionUnsubscribeHandler disables one digest subscription by its
// opaque token. Unknown tokens get the same generic page as expired ones.
func subscriptionUnsubscribeHandler(subs repository.SubscriptionsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := strings.TrimSpace(c.QueryParam("token"))
		if raw == "" {
			return htmlPage(c, http.StatusBadRequest, pageInvalid, "")
		}

		ok, err := subs.Unsubscribe(c.Request().Context(), raw, time.Now().UTC())
		if err != nil {
			log.Errorf("unsubscribe failed: %v", err)

			return c.HTML(http.StatusInternalServerError, pageInvalid)
		}
		if !ok {
			return htmlPage(c, http.StatusBadRequest, pageInvalid, "")
		}

		return htmlPage(c, http.StatusOK, pageOK,
			"You will no longer receive digest emails for this subscription.")
	}
}

type resubscribeReq struct {
	Token string `json:"token"`
}

// subscriptionResubscribeHandler re-enables an unsubscribed digest
// subscription. The token is looked up first so a repeat call on an already
// active subscription stays a 200, not a 404 from a no-op update.
func subscriptionResubscribeHandler(subs repository.SubscriptionsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req resubscribeReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Token = strings.TrimSpace(req.Token)
		if req.Token == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing token"})
		}

		ctx := c.Request().Context()

		sub, err := subs.GetByToken(ctx, req.Token)
		if err != nil {
			log.Errorf("resubscribe lookup failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if sub == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "invalid or expired token"})
		}

		if sub.UnsubscribedAt == nil && sub.IsEnabled {
			return c.JSON(http.StatusOK, map[string]bool{"resubscribed": true})
		}

		if _, err := subs.Resubscribe(ctx, req.Token, time.Now().UTC()); err != nil {
			log.Errorf("resubscribe failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]bool{"resubscribed": true})
	}
}
