package auth

import (
	"encoding/json"
	"log"
	"net/http"
)

// Handler 认证 HTTP 处理器
//
// 单操作员模型：用户名与 bcrypt 密码哈希来自配置（环境变量），
// 没有用户库，也没有注册入口。
type Handler struct {
	cfg Config
}

// NewHandler 创建认证处理器
func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

// RegisterRoutes 注册认证相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.Refresh)
	mux.HandleFunc("GET /api/v1/auth/me", h.Me)
}

// ============================================================================
// 请求/响应类型
// ============================================================================

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	User         string `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// ============================================================================
// Handlers
// ============================================================================

// Login 操作员登录
//
// 路由: POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "authentication is disabled")
		return
	}
	if h.cfg.AdminPasswordHash == "" {
		writeError(w, http.StatusServiceUnavailable, "no operator password configured")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username != h.cfg.AdminUser || !CheckPassword(req.Password, h.cfg.AdminPasswordHash) {
		log.Printf("[auth.login] rejected login for %q", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, err := GenerateAccessToken(h.cfg, req.Username)
	if err != nil {
		log.Printf("[auth.login] token generation error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	refreshToken, err := GenerateRefreshToken(h.cfg, req.Username)
	if err != nil {
		log.Printf("[auth.login] token generation error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		User:         req.Username,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// Refresh 用刷新令牌换新的访问令牌
//
// 路由: POST /api/v1/auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "authentication is disabled")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims, err := ParseToken(h.cfg, req.RefreshToken)
	if err != nil || claims.Type != "refresh" {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	accessToken, err := GenerateAccessToken(h.cfg, claims.Subject)
	if err != nil {
		log.Printf("[auth.refresh] token generation error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		User:        claims.Subject,
		AccessToken: accessToken,
	})
}

// Me 返回当前操作员信息
//
// 路由: GET /api/v1/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Enabled() {
		writeJSON(w, http.StatusOK, map[string]any{"user": "anonymous", "auth": false})
		return
	}
	user := GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user.Name, "role": user.Role, "auth": true})
}
