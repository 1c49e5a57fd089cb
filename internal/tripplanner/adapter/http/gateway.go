package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"trip-planner/internal/shared/dbpath"
	apperrors "trip-planner/internal/shared/errors"
	"trip-planner/internal/shared/logger"
	"trip-planner/internal/shared/utils"
	"trip-planner/internal/tripplanner/adapter/security"
	"trip-planner/internal/tripplanner/config"
	"trip-planner/internal/tripplanner/domain/repository"
)

const (
	jsonSuffix      = ".json"
	authParam       = "auth"
	claimsKey       = "claims"
	requestIDHeader = "X-Request-ID"
)

// Gateway exposes a Backend over the REST surface the request manager talks
// to and over the websocket listen feed used by realtime clients.
type Gateway struct {
	backend repository.Backend
	tokens  *security.TokenService
	rules   *security.RulesEngine
	cfg     config.GatewayConfig
	log     logger.Logger
}

// NewGateway creates a gateway over backend
func NewGateway(
	backend repository.Backend,
	tokens *security.TokenService,
	rules *security.RulesEngine,
	cfg config.GatewayConfig,
	log logger.Logger,
) *Gateway {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.WebSocketPath == "" {
		cfg.WebSocketPath = "/ws/v1/listen"
	}
	if cfg.ClientSendChannelBuffer <= 0 {
		cfg.ClientSendChannelBuffer = 64
	}
	return &Gateway{
		backend: backend,
		tokens:  tokens,
		rules:   rules,
		cfg:     cfg,
		log:     log.WithComponent("gateway"),
	}
}

// RegisterRoutes registers the listen feed and the REST catch-all. The
// catch-all goes last so it does not shadow other routes.
func (g *Gateway) RegisterRoutes(router fiber.Router) {
	g.registerListenRoutes(router)
	router.All("/*", g.handleREST)
}

// authenticate resolves the caller from ?auth=. No token means anonymous.
func (g *Gateway) authenticate(c *fiber.Ctx) (*security.Claims, error) {
	token := c.Query(authParam)
	if token == "" {
		return nil, nil
	}
	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		return nil, apperrors.NewAuthenticationError("Invalid auth token").WithCause(err)
	}
	return claims, nil
}

// resourcePath maps "/trips/u1.json" to "/trips/u1"
func resourcePath(c *fiber.Ctx) (string, error) {
	raw, err := url.PathUnescape(c.Path())
	if err != nil {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation, "Invalid path", fiber.StatusBadRequest).WithCause(err)
	}
	if !strings.HasSuffix(raw, jsonSuffix) {
		return "", apperrors.NewNotFoundError(raw)
	}
	path := dbpath.Normalize(strings.TrimSuffix(raw, jsonSuffix))
	if err := dbpath.ValidatePath(path); err != nil {
		return "", err
	}
	return path, nil
}

func (g *Gateway) handleREST(c *fiber.Ctx) error {
	path, err := resourcePath(c)
	if err != nil {
		return g.writeError(c, err)
	}
	claims, err := g.authenticate(c)
	if err != nil {
		return g.writeError(c, err)
	}
	ctx := requestContext(c.UserContext(), c.Method(), path, claims)
	c.SetUserContext(ctx)
	c.Set(requestIDHeader, utils.GetRequestIDOrDefault(ctx, ""))

	var body interface{}
	switch c.Method() {
	case fiber.MethodPut, fiber.MethodPost, fiber.MethodPatch:
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return g.writeError(c, apperrors.NewAppError(apperrors.ErrorTypeValidation,
				"Invalid data; couldn't parse JSON object", fiber.StatusBadRequest).WithCause(err))
		}
	}

	op := security.OperationWrite
	if c.Method() == fiber.MethodGet {
		op = security.OperationRead
	}
	if decision := g.rules.Evaluate(op, path, claims, body); !decision.Allowed {
		g.log.WithContext(ctx).WithFields(map[string]interface{}{
			"reason": decision.Reason,
		}).Debug("Request denied")
		return g.writeError(c, apperrors.NewAuthorizationError("Permission denied"))
	}

	switch c.Method() {
	case fiber.MethodGet:
		return g.get(ctx, c, path)
	case fiber.MethodPut:
		if err := g.backend.Set(ctx, path, body); err != nil {
			return g.writeError(c, err)
		}
		return c.JSON(body)
	case fiber.MethodPost:
		key, err := g.backend.Push(ctx, path, body)
		if err != nil {
			return g.writeError(c, err)
		}
		return c.JSON(fiber.Map{"name": key})
	case fiber.MethodPatch:
		fields, ok := body.(map[string]interface{})
		if !ok {
			return g.writeError(c, apperrors.NewAppError(apperrors.ErrorTypeValidation,
				"Invalid data; PATCH requires a JSON object", fiber.StatusBadRequest))
		}
		if err := g.backend.Update(ctx, path, fields); err != nil {
			return g.writeError(c, err)
		}
		return c.JSON(fields)
	case fiber.MethodDelete:
		if err := g.backend.Remove(ctx, path); err != nil {
			return g.writeError(c, err)
		}
		return c.JSON(nil)
	}
	return g.writeError(c, apperrors.NewAppError(apperrors.ErrorTypeValidation,
		"Method not allowed", fiber.StatusMethodNotAllowed))
}

// requestContext tags ctx with the correlation fields the logger picks up
func requestContext(ctx context.Context, method, path string, claims *security.Claims) context.Context {
	ctx = utils.WithRequestID(ctx, uuid.NewString())
	ctx = utils.WithOperation(ctx, method)
	ctx = utils.WithPath(ctx, path)
	if claims != nil {
		ctx = utils.WithUserID(ctx, claims.UID)
		ctx = utils.WithUserRole(ctx, string(claims.UserRole()))
	}
	return ctx
}

func (g *Gateway) get(ctx context.Context, c *fiber.Ctx, path string) error {
	value, err := g.backend.Get(ctx, path)
	if err != nil {
		return g.writeError(c, err)
	}
	return c.JSON(value)
}

func (g *Gateway) writeError(c *fiber.Ctx, err error) error {
	status := apperrors.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		g.log.Errorf("Request %s %s failed: %v", c.Method(), c.Path(), err)
	}
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	return c.Status(status).JSON(fiber.Map{"error": message})
}
