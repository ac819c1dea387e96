// Package authorization provides JWT login for the workflow API. Tokens carry
// the account's owner_id, which downstream handlers use as the isolation key.
// When JWT_SECRET is unset the module runs in open mode: no routes, no token
// checks, and callers supply owner_id explicitly. Open mode is for local
// development only.
package authorization

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	identityKey    = "owner_id"
	tokenTimeout   = time.Hour
	refreshWindow  = 24 * time.Hour
	realm          = "monthend"
)

// Module wires the JWT middleware and the account service.
type Module struct {
	service       *AuthService
	jwtMiddleware *jwt.GinJWTMiddleware
}

// RegisterRoutes migrates the accounts table and mounts /auth endpoints on
// the router. Returns a module in open mode when JWT_SECRET is unset.
func RegisterRoutes(router *gin.Engine, db *gorm.DB) (*Module, error) {
	if db == nil {
		return nil, errors.New("authorization: db handle is required")
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		return nil, fmt.Errorf("authorization: migrate accounts: %w", err)
	}

	service := &AuthService{db: db}

	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return &Module{service: service}, nil
	}

	middleware, err := buildJWTMiddleware(service, secret)
	if err != nil {
		return nil, err
	}

	module := &Module{service: service, jwtMiddleware: middleware}

	authGroup := router.Group("/auth")
	authGroup.POST("/register", module.handleRegister)
	authGroup.POST("/login", middleware.LoginHandler)
	authGroup.POST("/refresh", middleware.RefreshHandler)
	authGroup.GET("/me", middleware.MiddlewareFunc(), module.handleMe)

	return module, nil
}

func (m *Module) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	account, err := m.service.Register(c.Request.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
		case errors.Is(err, ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"username":     account.Username,
		"display_name": account.DisplayName,
		"owner_id":     account.OwnerID,
	})
}

func (m *Module) handleMe(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.JSON(http.StatusOK, identity)
}

func buildJWTMiddleware(service *AuthService, secret string) (*jwt.GinJWTMiddleware, error) {
	return jwt.New(&jwt.GinJWTMiddleware{
		Realm:       realm,
		Key:         []byte(secret),
		Timeout:     tokenTimeout,
		MaxRefresh:  refreshWindow,
		IdentityKey: identityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if account, ok := data.(*AuthenticatedAccount); ok {
				return jwt.MapClaims{
					identityKey: account.OwnerID,
					"username":  account.Username,
					"id":        account.ID,
				}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(c *gin.Context) interface{} {
			claims := jwt.ExtractClaims(c)
			ownerID, _ := claims[identityKey].(string)
			username, _ := claims["username"].(string)
			var id uint
			if raw, ok := claims["id"].(float64); ok {
				id = uint(raw)
			}
			return &AuthenticatedAccount{ID: id, Username: username, OwnerID: ownerID}
		},
		Authenticator: func(c *gin.Context) (interface{}, error) {
			var req LoginRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				return nil, jwt.ErrMissingLoginValues
			}
			account, err := service.Authenticate(c.Request.Context(), req.Username, req.Password)
			if err != nil {
				return nil, jwt.ErrFailedAuthentication
			}
			return account, nil
		},
		Authorizator: func(data interface{}, c *gin.Context) bool {
			account, ok := data.(*AuthenticatedAccount)
			return ok && account.OwnerID != ""
		},
		Unauthorized: func(c *gin.Context, code int, message string) {
			c.JSON(code, gin.H{"error": message})
		},
		TokenLookup:   "header: Authorization, cookie: jwt",
		TokenHeadName: "Bearer",
		TimeFunc:      time.Now,
	})
}
