package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"collabcode/internal/domain"
	"collabcode/internal/repository"
)

// AuthService 负责用户认证：注册、登录签发 token，
// 以及 WebSocket 连接在加入会话前的凭证验证。
// 协作子系统只消费 VerifyToken 的通过/失败结论。
type AuthService struct {
	userRepo  repository.UserRepository
	jwtSecret []byte
	jwtExpiry time.Duration
}

// NewAuthService 创建 AuthService 实例。
// jwtSecretKey 从配置读取；jwtExpiryHours 定义 token 过期的小时数。
func NewAuthService(userRepo repository.UserRepository, jwtSecretKey string, jwtExpiryHours int) (*AuthService, error) {
	if userRepo == nil {
		panic("UserRepository cannot be nil for AuthService")
	}
	if jwtSecretKey == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	if jwtExpiryHours <= 0 {
		jwtExpiryHours = 24
	}
	return &AuthService{
		userRepo:  userRepo,
		jwtSecret: []byte(jwtSecretKey),
		jwtExpiry: time.Duration(jwtExpiryHours) * time.Hour,
	}, nil
}

// Register 处理用户注册。
func (s *AuthService) Register(ctx context.Context, name, password, email string) (*domain.User, error) {
	logCtx := logrus.WithFields(logrus.Fields{"name": name, "email": email})

	if name == "" || password == "" {
		return nil, ErrInvalidInput
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logCtx.WithError(err).Error("Failed to hash password during registration")
		return nil, ErrInternalServer
	}

	user := &domain.User{
		Name:     name,
		Password: string(hashed),
		Email:    email,
		Role:     domain.RoleStudent,
	}
	if err := s.userRepo.Save(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.Warn("Registration failed: name or email already exists")
			return nil, ErrRegistrationFailed
		}
		logCtx.WithError(err).Error("Database error during user creation")
		return nil, ErrInternalServer
	}

	logCtx.WithField("user_id", user.ID).Info("User registered")
	user.Password = ""
	return user, nil
}

// Login 校验用户名和密码，成功后签发 JWT。
func (s *AuthService) Login(ctx context.Context, name, password string) (string, error) {
	logCtx := logrus.WithField("name", name)

	user, err := s.userRepo.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			logCtx.Warn("Login attempt failed: user not found")
		} else {
			logCtx.WithError(err).Warn("Login attempt failed: error finding user")
		}
		// 对客户端统一返回认证失败，不泄露用户是否存在
		return "", ErrAuthenticationFailed
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		logCtx.Warn("Login attempt failed: invalid password")
		return "", ErrAuthenticationFailed
	}

	token, err := s.generateJWT(user.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate JWT during login")
		return "", ErrInternalServer
	}

	logCtx.WithField("user_id", user.ID).Info("User logged in")
	return token, nil
}

// VerifyToken 是 WebSocket 连接的认证入口：
// 校验 token 签名和有效期，确认 token 属于声称的用户，
// 然后加载用户记录。任何一步失败都返回 ErrAuthenticationFailed。
func (s *AuthService) VerifyToken(ctx context.Context, userID uint, tokenStr string) (*domain.User, error) {
	logCtx := logrus.WithField("user_id", userID)

	claimedID, err := s.parseJWT(tokenStr)
	if err != nil {
		logCtx.WithError(err).Warn("Token verification failed")
		return nil, ErrAuthenticationFailed
	}
	if claimedID != userID {
		logCtx.WithField("claimed_id", claimedID).Warn("Token subject does not match claimed user")
		return nil, ErrAuthenticationFailed
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			logCtx.Warn("Token verification failed: user no longer exists")
			return nil, ErrAuthenticationFailed
		}
		logCtx.WithError(err).Error("Database error during token verification")
		return nil, ErrInternalServer
	}
	user.Password = ""
	return user, nil
}

// generateJWT 为指定用户签发 HS256 token。
func (s *AuthService) generateJWT(userID uint) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(s.jwtExpiry).Unix(),
		"iat":     time.Now().Unix(),
	})
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tokenString, nil
}

// parseJWT 解析并验证 token，返回其中的 user_id claim。
func (s *AuthService) parseJWT(tokenStr string) (uint, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("token validation failed: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, errors.New("invalid token or claims type")
	}

	// JWT 数字反序列化为 float64，需要安全转换为 uint
	idFloat, ok := claims["user_id"].(float64)
	if !ok || idFloat <= 0 || idFloat != float64(uint(idFloat)) {
		return 0, errors.New("user_id claim missing or not a positive integer")
	}
	return uint(idFloat), nil
}
