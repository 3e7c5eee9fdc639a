package identity

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
)

// RefreshCookieName carries the rotation token between refreshes
const RefreshCookieName = "refreshToken"

// APIResponse is the JSON envelope every endpoint speaks
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func respondData(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(APIResponse{Success: true, Data: data})
}

func respondMessage(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(APIResponse{Success: true, Message: message})
}

// NewErrorHandler maps rich domain errors to their transport shape and
// collapses anything unexpected into a generic 500
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = defLogger{}
	}

	return func(c *fiber.Ctx, err error) error {
		var richErr *errors.Error
		if errors.As(err, &richErr) {
			status := richErr.Code
			if status < 400 || status > 599 {
				status = fiber.StatusInternalServerError
			}

			if richErr.Category == errors.CategoryInternal {
				logger.Error("internal error", "path", c.Path(), "error", err)
				return c.Status(fiber.StatusInternalServerError).JSON(APIResponse{
					Success: false,
					Message: "internal server error",
				})
			}

			body := fiber.Map{
				"success": false,
				"message": richErr.Message,
			}
			if richErr.TextCode != "" {
				body["code"] = richErr.TextCode
			}
			if len(richErr.Metadata) > 0 {
				body["meta"] = richErr.Metadata
			}

			return c.Status(status).JSON(body)
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(APIResponse{
				Success: false,
				Message: fiberErr.Message,
			})
		}

		logger.Error("unhandled error", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(APIResponse{
			Success: false,
			Message: "internal server error",
		})
	}
}

// CookieOptions controls the refresh token cookie attributes
type CookieOptions struct {
	Domain string
	MaxAge time.Duration
}

func setRefreshCookie(c *fiber.Ctx, token string, opts CookieOptions) {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}

	c.Cookie(&fiber.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Domain:   opts.Domain,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Expires:  time.Now().Add(maxAge),
		HTTPOnly: true,
		Secure:   true,
		SameSite: fiber.CookieSameSiteNoneMode,
	})
}

func clearRefreshCookie(c *fiber.Ctx, opts CookieOptions) {
	c.Cookie(&fiber.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Domain:   opts.Domain,
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		Secure:   true,
		SameSite: fiber.CookieSameSiteNoneMode,
	})
}

// FormatValidationErrorToMap flattens ozzo field errors for the response body
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	if fieldErrs, ok := err.(validation.Errors); ok {
		for field, ferr := range fieldErrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["error"] = err.Error()
	return out
}

func validationError(err error) error {
	return errors.New("invalid request payload", errors.CategoryValidation).
		WithCode(errors.CodeBadRequest).
		WithMetadata(map[string]any{
			"fields": FormatValidationErrorToMap(err),
		})
}
