package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiretask-server/internal/auth"
	"github.com/vovakirdan/wiretask-server/internal/proto"
)

const msgMissingFields = "Не все обязательные поля заполнены"

// APIHandlers provides HTTP handlers for the auth endpoints.
type APIHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		log:         logger,
	}
}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// VerifyRequest is the body of verify. The token may also come as a bearer header.
type VerifyRequest struct {
	Token string `json:"token"`
}

// Register handles user registration.
// POST /api/auth/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		respondError(c, http.StatusBadRequest, msgMissingFields)
		return
	}

	res, err := h.authService.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err, "failed to register user")
		return
	}

	h.log.Info().Str("username", res.User.Username).Msg("user registered successfully")
	respond(c, http.StatusCreated, proto.AuthSuccess{User: proto.UserFromStore(res.User), Token: res.Token},
		"Пользователь успешно зарегистрирован")
}

// Login handles user login.
// POST /api/auth/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		respondError(c, http.StatusBadRequest, msgMissingFields)
		return
	}

	res, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err, "failed to login user")
		return
	}

	h.log.Info().Str("username", res.User.Username).Msg("user logged in successfully")
	respond(c, http.StatusOK, proto.AuthSuccess{User: proto.UserFromStore(res.User), Token: res.Token},
		"Авторизация успешна")
}

// Verify checks a token and returns its user.
// POST /api/auth/verify
func (h *APIHandlers) Verify(c *gin.Context) {
	var req VerifyRequest
	_ = c.ShouldBindJSON(&req)
	token := req.Token
	if token == "" {
		token = bearerToken(c)
	}
	if token == "" {
		respondError(c, http.StatusUnauthorized, "Токен не предоставлен")
		return
	}

	user, err := h.authService.UserByToken(c.Request.Context(), token)
	if err != nil {
		h.log.Debug().Err(err).Msg("token verification failed")
		respondError(c, http.StatusUnauthorized, auth.ErrInvalidToken.Error())
		return
	}

	respond(c, http.StatusOK, proto.AuthSuccess{User: proto.UserFromStore(user), Token: token}, "Токен действителен")
}

// Me returns the authenticated user.
// GET /api/auth/me
func (h *APIHandlers) Me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		respondError(c, http.StatusUnauthorized, "Требуется аутентификация")
		return
	}
	respond(c, http.StatusOK, proto.UserFromStore(user), "Информация о пользователе получена")
}

func (h *APIHandlers) fail(c *gin.Context, err error, logMsg string) {
	status, ok := statusFor(err)
	if !ok {
		h.log.Error().Err(err).Msg(logMsg)
		respondError(c, status, msgInternal)
		return
	}
	respondError(c, status, err.Error())
}
