package identity

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// AuthController exposes the account lifecycle over HTTP
type AuthController struct {
	Debug         bool
	Logger        Logger
	Verifier      Verifier
	Sessions      SessionService
	Resets        PasswordResetService
	Activity      ActivityTracker
	Notifications Notifications
	Tokens        TokenService
	Cookies       CookieOptions
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Verifier == nil || c.Sessions == nil || c.Resets == nil {
		panic("Missing lifecycle services in auth controller...")
	}

	if c.Tokens == nil {
		panic("Missing TokenService in auth controller...")
	}

	return c
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func WithControllerServices(verifier Verifier, sessions SessionService, resets PasswordResetService) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Verifier = verifier
		c.Sessions = sessions
		c.Resets = resets
		return c
	}
}

func WithControllerActivity(tracker ActivityTracker) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Activity = tracker
		return c
	}
}

func WithControllerNotifications(repo Notifications) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Notifications = repo
		return c
	}
}

func WithControllerTokens(tokens TokenService) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Tokens = tokens
		return c
	}
}

func WithControllerCookies(opts CookieOptions) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Cookies = opts
		return c
	}
}

// RegisterAuthRoutes mounts the account lifecycle under /auth
func RegisterAuthRoutes(app *fiber.App, controller *AuthController) {
	protected := AuthRequired(controller.Tokens)

	auth := app.Group("/auth")
	auth.Post("/register", controller.Register)
	auth.Post("/verify-email", controller.VerifyEmail)
	auth.Post("/resend-verification", controller.ResendVerification)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.Refresh)
	auth.Post("/logout", protected, controller.Logout)
	auth.Post("/forgot-password", controller.ForgotPassword)
	auth.Get("/reset-password/validate", controller.ValidateResetToken)
	auth.Post("/reset-password", controller.ResetPassword)
	auth.Post("/change-password", protected, controller.ChangePassword)
	auth.Get("/login-history", protected, controller.LoginHistory)

	if controller.Notifications != nil {
		app.Get("/notifications", protected, controller.ListNotifications)
		app.Post("/notifications/:id/read", protected, controller.MarkNotificationRead)
	}
}

// RegisterPayload is the registration body
type RegisterPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Phone     string `json:"phone,omitempty"`
	Bio       string `json:"bio,omitempty"`
}

// Validate will run validation rules
func (r RegisterPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(&r.Phone, validation.By(ValidateOptionalPhone)),
		validation.Field(&r.Bio, validation.Length(0, 1000)),
	)
}

func (a *AuthController) Register(c *fiber.Ctx) error {
	payload := new(RegisterPayload)
	if err := c.BodyParser(payload); err != nil {
		return validationError(err)
	}

	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	if a.Debug {
		fmt.Println("======= AUTH REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("============================")
	}

	user, err := a.Verifier.Register(c.Context(), RegisterInput{
		Email:     payload.Email,
		Password:  payload.Password,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Bio:       payload.Bio,
		Phone:     payload.Phone,
	})
	if err != nil {
		return err
	}

	return respondData(c, fiber.StatusCreated, fiber.Map{
		"user":    user,
		"message": "Registration successful. Check your email for a verification code.",
	})
}

// VerifyEmailPayload carries the one time code
type VerifyEmailPayload struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Validate will run validation rules
func (r VerifyEmailPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Code, validation.Required, validation.Length(6, 6), is.Digit),
	)
}

func (a *AuthController) VerifyEmail(c *fiber.Ctx) error {
	payload := new(VerifyEmailPayload)
	if err := c.BodyParser(payload); err != nil {
		return validationError(err)
	}

	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	result, err := a.Verifier.VerifyEmail(c.Context(), payload.Email, payload.Code)
	if err != nil {
		return err
	}

	setRefreshCookie(c, result.Tokens.RefreshToken, a.Cookies)

	return respondData(c, fiber.StatusOK, fiber.Map{
		"user":        result.User,
		"accessToken": result.Tokens.AccessToken,
	})
}

// EmailPayload is shared by resend and forgot password requests
type EmailPayload struct {
	Email string `json:"email"`
}

// Validate will run validation rules
func (r EmailPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) ResendVerification(c *fiber.Ctx) error {
	payload := new(EmailPayload)
	if err := c.BodyParser(payload); err != nil {
		return validationError(err)
	}

	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	if err := a.Verifier.ResendVerification(c.Context(), payload.Email); err != nil {
		return err
	}

	return respondMessage(c, fiber.StatusOK, "Verification code sent.")
}

// LoginPayload is the credential login body
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) Login(c *fiber.Ctx) error {
	payload := new(LoginPayload)
	if err := c.BodyParser(payload); err != nil {
		return validationError(err)
	}

	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	if a.Debug {
		fmt.Println("======= AUTH LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(fiber.Map{"email": payload.Email}))
		fmt.Println("=========================")
	}

	client := &ClientInfo{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}

	result, err := a.Sessions.Login(c.Context(), payload.Email, payload.Password, client)
	if err != nil {
		return err
	}

	setRefreshCookie(c, result.Tokens.RefreshToken, a.Cookies)

	return respondData(c, fiber.StatusOK, fiber.Map{
		"user":        result.User,
		"accessToken": result.Tokens.AccessToken,
	})
}

// RefreshPayload allows cookieless clients to send the token in the body
type RefreshPayload struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *AuthController) Refresh(c *fiber.Ctx) error {
	raw := c.Cookies(RefreshCookieName)
	if raw == "" {
		payload := new(RefreshPayload)
		if err := c.BodyParser(payload); err == nil {
			raw = payload.RefreshToken
		}
	}

	if raw == "" {
		return ErrInvalidRefreshToken
	}

	result, err := a.Sessions.RefreshTokens(c.Context(), raw)
	if err != nil {
		clearRefreshCookie(c, a.Cookies)
		return err
	}

	setRefreshCookie(c, result.Tokens.RefreshToken, a.Cookies)

	return respondData(c, fiber.StatusOK, fiber.Map{
		"accessToken": result.Tokens.AccessToken,
	})
}

func (a *AuthController) Logout(c *fiber.Ctx) error {
	claims := ClaimsFromContext(c)
	if claims != nil {
		if err := a.Sessions.Logout(c.Context(), claims.UserID()); err != nil {
			a.Logger.Error("logout failed", "user_id", claims.UserID(), "error", err)
		}
	}

	clearRefreshCookie(c, a.Cookies)

	return respondMessage(c, fiber.StatusOK, "Logged out.")
}

func (a *AuthController) ForgotPassword(c *fiber.Ctx) error {
	payload := new(EmailPayload)
	if err := c.BodyParser(payload); err != nil {
		return validationError(err)
	}

	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	if err := a.Resets.ForgotPassword(c.Context(), payload.Email); err != nil {
		return err
	}

	return respondMessage(c, fiber.StatusOK, "Password reset email sent.")
}

func (a *AuthController) ValidateResetToken(c *fiber.Ctx) error {
	token := c.Query("token")
	if err := a.Resets.ValidateResetToken(c.Context(), token); err != nil {
		return err
	}

	return respondData(c, fiber.StatusOK, fiber.Map{"valid": true})
}

// ResetPasswordPayload consumes a reset token
type ResetPasswordPayload struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// Validate will run validation rules
func (r ResetPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 100)),
	)
}

func (a *AuthController) ResetPassword(c *fiber.Ctx) error {
	payload := new(ResetPasswordPayload)
	if err := c.BodyParser(payload); err != nil {
		return validationError(err)
	}

	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	if err := a.Resets.ResetPassword(c.Context(), payload.Token, payload.NewPassword); err != nil {
		return err
	}

	return respondMessage(c, fiber.StatusOK, "Password has been reset.")
}

// ChangePasswordPayload swaps credentials for a logged in account
type ChangePasswordPayload struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Validate will run validation rules
func (r ChangePasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 100)),
	)
}

func (a *AuthController) ChangePassword(c *fiber.Ctx) error {
	claims := ClaimsFromContext(c)
	if claims == nil {
		return goerrors.New("missing authentication", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}

	payload := new(ChangePasswordPayload)
	if err := c.BodyParser(payload); err != nil {
		return validationError(err)
	}

	if err := payload.Validate(); err != nil {
		return validationError(err)
	}

	if err := a.Sessions.ChangePassword(c.Context(), claims.UserID(), payload.CurrentPassword, payload.NewPassword); err != nil {
		return err
	}

	return respondMessage(c, fiber.StatusOK, "Password changed.")
}

func (a *AuthController) LoginHistory(c *fiber.Ctx) error {
	claims := ClaimsFromContext(c)
	if claims == nil {
		return goerrors.New("missing authentication", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}

	if a.Activity == nil {
		return respondData(c, fiber.StatusOK, fiber.Map{"events": []*LoginEvent{}})
	}

	events, err := a.Activity.LoginHistory(c.Context(), claims.UserID(), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}

	return respondData(c, fiber.StatusOK, fiber.Map{"events": events})
}

func (a *AuthController) ListNotifications(c *fiber.Ctx) error {
	claims := ClaimsFromContext(c)
	if claims == nil {
		return goerrors.New("missing authentication", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}

	id, err := parseUserID(claims.UserID())
	if err != nil {
		return err
	}

	records, err := a.Notifications.ListByUser(c.Context(), id, c.QueryInt("limit", 50))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list notifications")
	}

	return respondData(c, fiber.StatusOK, fiber.Map{"notifications": records})
}

func (a *AuthController) MarkNotificationRead(c *fiber.Ctx) error {
	claims := ClaimsFromContext(c)
	if claims == nil {
		return goerrors.New("missing authentication", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}

	userID, err := parseUserID(claims.UserID())
	if err != nil {
		return err
	}

	notificationID, err := parseUserID(c.Params("id"))
	if err != nil {
		return goerrors.New("invalid notification id", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	updated, err := a.Notifications.MarkRead(c.Context(), userID, notificationID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark notification read")
	}

	if !updated {
		return goerrors.New("notification not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound)
	}

	return respondMessage(c, fiber.StatusOK, "Notification marked as read.")
}

func parseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrAccountNotFound
	}
	return id, nil
}

// ValidateOptionalPhone accepts empty values and otherwise requires a
// parseable international number
func ValidateOptionalPhone(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}

	num, err := phonenumbers.Parse(s, "US")
	if err != nil {
		return fmt.Errorf("invalid phone number")
	}

	if !phonenumbers.IsValidNumber(num) {
		return fmt.Errorf("invalid phone number")
	}

	return nil
}
