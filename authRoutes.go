package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// Route setup
func AuthRoutes(r *gin.Engine, app *App) {
	r.GET(loginPath, func(c *gin.Context) {
		render(c, http.StatusOK, "login.tmpl", gin.H{"failed": c.Query("erro") != ""})
	})
	r.POST("/admin/logar", func(c *gin.Context) {
		handleLogin(c, app)
	})
	r.GET("/logout", AdminAuth(), func(c *gin.Context) {
		app.sessions.Clear(c)
		c.Redirect(http.StatusFound, "/")
	})
}

// =================== LOGIN ===================

type LoginInput struct {
	Login    string `form:"login"`
	Password string `form:"password"`
}

func handleLogin(c *gin.Context, app *App) {
	var input LoginInput
	if err := c.ShouldBind(&input); err != nil || strings.TrimSpace(input.Login) == "" || input.Password == "" {
		c.Redirect(http.StatusFound, loginPath+"?erro=1")
		return
	}

	user, found, err := app.users.FindAdminByLogin(c.Request.Context(), strings.TrimSpace(input.Login))
	if err != nil {
		log.Printf("❌ login lookup failed: %v", err)
		c.Redirect(http.StatusFound, loginPath+"?erro=1")
		return
	}
	if !found || !checkPassword(input.Password, user.PasswordHash) {
		c.Redirect(http.StatusFound, loginPath+"?erro=1")
		return
	}

	if err := app.sessions.Issue(c, user); err != nil {
		log.Printf("❌ failed to issue session: %v", err)
		c.Redirect(http.StatusFound, loginPath+"?erro=1")
		return
	}
	c.Redirect(http.StatusFound, "/admin/produtos")
}

// =================== DATABASE HELPER ===================

type UserStore interface {
	FindAdminByLogin(ctx context.Context, login string) (AdminUser, bool, error)
	CreateAdmin(ctx context.Context, login, passwordHash string) (AdminUser, error)
}

type sqlUserStore struct {
	db *sql.DB
}

func NewSQLUserStore(db *sql.DB) UserStore {
	return &sqlUserStore{db: db}
}

func (s *sqlUserStore) FindAdminByLogin(ctx context.Context, login string) (AdminUser, bool, error) {
	var u AdminUser
	err := s.db.QueryRowContext(ctx,
		"SELECT id, login, password_hash, created_at, updated_at FROM users WHERE login = ?", login).
		Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AdminUser{}, false, nil
	}
	if err != nil {
		return AdminUser{}, false, persistenceError("find admin", err)
	}
	return u, true, nil
}

func (s *sqlUserStore) CreateAdmin(ctx context.Context, login, passwordHash string) (AdminUser, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (login, password_hash, created_at, updated_at) VALUES (?, ?, NOW(), NOW())",
		login, passwordHash)
	if err != nil {
		return AdminUser{}, persistenceError("create admin", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return AdminUser{}, persistenceError("create admin", err)
	}
	return AdminUser{ID: int(id), Login: login, PasswordHash: passwordHash}, nil
}

// ensureAdmin creates the bootstrap admin when it does not exist yet. An
// existing account keeps its password.
func ensureAdmin(ctx context.Context, users UserStore, login, password string) error {
	if login == "" {
		return nil
	}
	if _, found, err := users.FindAdminByLogin(ctx, login); err != nil {
		return err
	} else if found {
		return nil
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	if _, err := users.CreateAdmin(ctx, login, hashed); err != nil {
		return err
	}
	log.Printf("✅ Admin %q created", login)
	return nil
}

// =================== UTILITY ===================

func hashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func checkPassword(plainPwd, hashedPwd string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPwd), []byte(plainPwd)) == nil
}
