package user

import (
	"context"
	"log"
	"net/http"

	"atome-store/auth"
	apierrors "atome-store/internal/errors"
	"atome-store/redis"

	"github.com/gin-gonic/gin"
)

// SessionBinder moves the device session when login resolves an identity.
// The session manager implements it.
type SessionBinder interface {
	Authenticate(ctx context.Context, userID string) error
	Logout()
}

// CredentialBinder receives the signed token so the remote mirror can
// authenticate as the logged-in user.
type CredentialBinder interface {
	Bind(token, userID string)
	Clear()
}

// Handler handles HTTP requests for users
type Handler struct {
	service Service
	tokens  *auth.Tokens
	cache   *redis.Cache
	session SessionBinder
	binder  CredentialBinder
}

func NewHandler(service Service, tokens *auth.Tokens, cache *redis.Cache, session SessionBinder, binder CredentialBinder) *Handler {
	return &Handler{service: service, tokens: tokens, cache: cache, session: session, binder: binder}
}

// FormRegister represents registration form data
type FormRegister struct {
	Phone    string `json:"phone" binding:"required"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required,min=6"`
}

// FormLogin represents login form data
type FormLogin struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register handles user registration
func (h *Handler) Register(c *gin.Context) {
	var form FormRegister
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierrors.Invalid("Invalid registration form", err))
		return
	}

	profile, err := h.service.Register(c.Request.Context(), form.Phone, form.Name, form.Password)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": profile})
}

// Login handles user login. A successful login binds the device session
// to the user, which triggers ownership migration for anonymous work.
func (h *Handler) Login(c *gin.Context) {
	var form FormLogin
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierrors.Invalid("Invalid login form", err))
		return
	}

	profile, err := h.service.Login(c.Request.Context(), form.Phone, form.Password)
	if err != nil {
		c.Error(err)
		return
	}

	token, err := h.tokens.Generate(profile.ID)
	if err != nil {
		c.Error(apierrors.Internal("Failed to sign token", err))
		return
	}
	if err := h.cache.StoreToken(c.Request.Context(), token, profile.ID, h.tokens.TTL()); err != nil {
		log.Printf("[AUTH] token cache write failed: %v", err)
	}

	if h.binder != nil {
		h.binder.Bind(token, profile.ID)
	}
	if h.session != nil {
		if err := h.session.Authenticate(c.Request.Context(), profile.ID); err != nil {
			c.Error(err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"user":         profile,
	})
}

// RefreshToken swaps a live token for a fresh one.
func (h *Handler) RefreshToken(c *gin.Context) {
	current := c.GetString("jwt_token")
	if current == "" {
		c.Error(apierrors.Unauthenticated("No token", nil))
		return
	}

	fresh, err := h.tokens.Refresh(current)
	if err != nil {
		c.Error(apierrors.Unauthenticated("Invalid token or expired!", err))
		return
	}
	userID := c.GetString("user_id")
	if err := h.cache.StoreToken(c.Request.Context(), fresh, userID, h.tokens.TTL()); err != nil {
		log.Printf("[AUTH] token cache write failed: %v", err)
	}
	if err := h.cache.RevokeToken(c.Request.Context(), current); err != nil {
		log.Printf("[AUTH] token revoke failed: %v", err)
	}
	if h.binder != nil {
		h.binder.Bind(fresh, userID)
	}

	c.JSON(http.StatusOK, gin.H{"access_token": fresh})
}

// Logout handles user logout
func (h *Handler) Logout(c *gin.Context) {
	token := c.GetString("jwt_token")
	if token != "" {
		if err := h.cache.RevokeToken(c.Request.Context(), token); err != nil {
			log.Printf("[AUTH] token revoke failed: %v", err)
		}
	}
	if h.binder != nil {
		h.binder.Clear()
	}
	if h.session != nil {
		h.session.Logout()
	}
	c.Status(http.StatusNoContent)
}

// GetProfile handles getting the current user's profile
func (h *Handler) GetProfile(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.Error(apierrors.Unauthenticated("No resolved identity", nil))
		return
	}

	profile, err := h.service.GetByID(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// SearchUsers queries the user directory.
func (h *Handler) SearchUsers(c *gin.Context) {
	profiles, err := h.service.Search(c.Request.Context(), c.GetString("user_id"), c.Query("q"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

// FormVisibility toggles directory visibility.
type FormVisibility struct {
	Visibility string `json:"visibility" binding:"required,oneof=public private"`
}

// SetVisibility updates the caller's directory visibility.
func (h *Handler) SetVisibility(c *gin.Context) {
	var form FormVisibility
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierrors.Invalid("Invalid visibility form", err))
		return
	}
	if err := h.service.SetVisibility(c.Request.Context(), c.GetString("user_id"), form.Visibility); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
