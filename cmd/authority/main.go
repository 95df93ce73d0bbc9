// Command authority is a development stub of the remote authority: the
// backend that is ground truth for identity and product existence. It serves
// the session check, login/logout and product-existence endpoints against
// in-memory seed data, minting a fresh continuation token on every
// successful session check.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/storefront/clientsync/internal/domain/session"
	"github.com/storefront/clientsync/internal/infrastructure/auth"
	"github.com/storefront/clientsync/internal/infrastructure/logger"
	"go.uber.org/zap"
)

const tokenTTL = 30 * time.Minute

type seedUser struct {
	ID        int64
	Username  string
	Password  string
	Role      session.Role
	FirstName string
	LastName  string
	Balance   decimal.Decimal
}

type server struct {
	tokens *auth.TokenService
	logger *zap.Logger

	mu       sync.RWMutex
	users    map[string]seedUser // by username
	products map[int64]bool      // id -> still exists
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	secret := flag.String("secret", "dev-only-secret-do-not-ship", "HS256 token secret")
	flag.Parse()

	log, err := logger.NewForEnvironment(os.Getenv("STOREFRONT_APP_ENV"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	srv := &server{
		tokens: auth.NewTokenService([]byte(*secret), tokenTTL, "authority-stub"),
		logger: log,
		users: map[string]seedUser{
			"admin":   {ID: 1, Username: "admin", Password: "admin", Role: session.RoleAdmin, FirstName: "Ada", LastName: "Admin", Balance: decimal.NewFromInt(0)},
			"manager": {ID: 2, Username: "manager", Password: "manager", Role: session.RoleManager, FirstName: "Max", LastName: "Manager", Balance: decimal.NewFromInt(0)},
			"alice":   {ID: 7, Username: "alice", Password: "wonderland", Role: session.RoleCustomer, FirstName: "Alice", LastName: "Liddell", Balance: decimal.NewFromInt(100)},
		},
		products: map[int64]bool{1: true, 2: true, 3: true, 4: true, 5: true},
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logger.Recovery(log), logger.GinMiddleware(log))

	api := engine.Group("/api")
	{
		api.GET("/session", srv.currentSession)
		api.POST("/login", srv.login)
		api.POST("/logout", srv.logout)
		api.GET("/products/:id/exists", srv.productExists)
		api.DELETE("/products/:id", srv.deleteProduct)
		api.PUT("/users/:username/balance", srv.setBalance)
	}

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("authority stub listening", zap.String("addr", *addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}

func (s *server) bearerUsername(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	username, err := s.tokens.Validate(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return "", false
	}
	return username, true
}

func (s *server) sessionResponse(c *gin.Context, user seedUser) {
	token, err := s.tokens.Mint(user.Username)
	if err != nil {
		s.logger.Error("failed to mint token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":             user.ID,
			"username":       user.Username,
			"role":           string(user.Role),
			"first_name":     user.FirstName,
			"last_name":      user.LastName,
			"wallet_balance": user.Balance,
		},
		"token": token,
	})
}

func (s *server) currentSession(c *gin.Context) {
	username, ok := s.bearerUsername(c)
	if !ok {
		// Machine-distinguishable "not authenticated", not an error
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false})
		return
	}

	s.mu.RLock()
	user, exists := s.users[username]
	s.mu.RUnlock()
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false})
		return
	}
	s.sessionResponse(c, user)
}

func (s *server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.mu.RLock()
	user, exists := s.users[strings.ToLower(strings.TrimSpace(req.Username))]
	s.mu.RUnlock()
	if !exists || user.Password != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	s.logger.Info("login", zap.String("username", user.Username))
	s.sessionResponse(c, user)
}

func (s *server) logout(c *gin.Context) {
	// Tokens are short-lived and stateless; logout is an acknowledgment
	c.Status(http.StatusNoContent)
}

func (s *server) productExists(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	s.mu.RLock()
	exists := s.products[id]
	s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

// deleteProduct simulates a product being removed server-side so stale-cart
// validation can be exercised end to end.
func (s *server) deleteProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	s.mu.Lock()
	delete(s.products, id)
	s.mu.Unlock()
	s.logger.Info("product deleted", zap.Int64("product_id", id))
	c.Status(http.StatusNoContent)
}

// setBalance simulates a wallet-balance change for cross-tab update testing
func (s *server) setBalance(c *gin.Context) {
	var req struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	username := strings.ToLower(c.Param("username"))
	s.mu.Lock()
	user, exists := s.users[username]
	if exists {
		user.Balance = req.Balance
		s.users[username] = user
	}
	s.mu.Unlock()

	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		return
	}
	c.Status(http.StatusNoContent)
}
