package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"collabcode/internal/domain"
	"collabcode/internal/repository"
	"collabcode/internal/repository/mocks"
	"collabcode/internal/service"
)

// --- Register ---

func TestAuthService_Register_Success(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, err := service.NewAuthService(mockUserRepo, "very-secret-key", 1)
	require.NoError(t, err, "创建 AuthService 不应失败")

	ctx := context.Background()
	name := "newbie"
	password := "StrongPass123"
	email := "newbie@example.com"

	mockUserRepo.On("Save", ctx, mock.MatchedBy(func(user *domain.User) bool {
		assert.Equal(t, name, user.Name)
		assert.Equal(t, email, user.Email)
		assert.Equal(t, domain.RoleStudent, user.Role)
		// 密码必须已被哈希
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)))
		return true
	})).
		Run(func(args mock.Arguments) {
			args.Get(1).(*domain.User).ID = 5 // 模拟数据库分配 ID
		}).
		Return(nil).
		Once()

	// Act
	registered, err := authService.Register(ctx, name, password, email)

	// Assert
	assert.NoError(t, err)
	require.NotNil(t, registered)
	assert.Equal(t, uint(5), registered.ID)
	assert.Empty(t, registered.Password, "返回的用户密码应被清空")

	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Register_DuplicateName(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "secret", 1)
	ctx := context.Background()

	mockUserRepo.On("Save", ctx, mock.AnythingOfType("*domain.User")).
		Return(repository.ErrDuplicateEntry).Once()

	// Act
	_, err := authService.Register(ctx, "existingUser", "password", "email@test.com")

	// Assert
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrRegistrationFailed))
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Register_EmptyInput(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "secret", 1)

	_, err := authService.Register(context.Background(), "", "password", "")
	assert.True(t, errors.Is(err, service.ErrInvalidInput))
	mockUserRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

// --- Login ---

func TestAuthService_Login_Success(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "test-secret", 24)
	ctx := context.Background()
	password := "password123"
	hashed, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	userInDb := &domain.User{ID: 1, Name: "testuser", Password: string(hashed)}

	mockUserRepo.On("FindByName", ctx, "testuser").Return(userInDb, nil).Once()

	// Act
	token, err := authService.Login(ctx, "testuser", password)

	// Assert
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Login_UserNotFound(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "test-secret", 24)
	ctx := context.Background()

	mockUserRepo.On("FindByName", ctx, "nonexistent").Return(nil, repository.ErrUserNotFound).Once()

	token, err := authService.Login(ctx, "nonexistent", "password")

	require.Error(t, err)
	assert.Empty(t, token)
	assert.True(t, errors.Is(err, service.ErrAuthenticationFailed))
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Login_IncorrectPassword(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "test-secret", 24)
	ctx := context.Background()
	hashed, _ := bcrypt.GenerateFromPassword([]byte("correct"), bcrypt.DefaultCost)
	userInDb := &domain.User{ID: 1, Name: "testuser", Password: string(hashed)}

	mockUserRepo.On("FindByName", ctx, "testuser").Return(userInDb, nil).Once()

	token, err := authService.Login(ctx, "testuser", "wrong")

	require.Error(t, err)
	assert.Empty(t, token)
	assert.True(t, errors.Is(err, service.ErrAuthenticationFailed))
	mockUserRepo.AssertExpectations(t)
}

// --- VerifyToken ---

func TestAuthService_VerifyToken_Roundtrip(t *testing.T) {
	// Arrange: 通过 Login 拿到真实签发的 token
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "test-secret", 24)
	ctx := context.Background()
	hashed, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	userInDb := &domain.User{ID: 42, Name: "alice", Password: string(hashed)}

	mockUserRepo.On("FindByName", ctx, "alice").Return(userInDb, nil).Once()
	token, err := authService.Login(ctx, "alice", "password")
	require.NoError(t, err)

	mockUserRepo.On("FindByID", ctx, uint(42)).Return(userInDb, nil).Once()

	// Act
	verified, err := authService.VerifyToken(ctx, 42, token)

	// Assert
	assert.NoError(t, err)
	require.NotNil(t, verified)
	assert.Equal(t, uint(42), verified.ID)
	assert.Empty(t, verified.Password)
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_VerifyToken_MismatchedUser(t *testing.T) {
	// Arrange: token 属于用户 42，却声称是用户 7
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "test-secret", 24)
	ctx := context.Background()
	hashed, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	userInDb := &domain.User{ID: 42, Name: "alice", Password: string(hashed)}

	mockUserRepo.On("FindByName", ctx, "alice").Return(userInDb, nil).Once()
	token, err := authService.Login(ctx, "alice", "password")
	require.NoError(t, err)

	// Act
	_, err = authService.VerifyToken(ctx, 7, token)

	// Assert
	assert.True(t, errors.Is(err, service.ErrAuthenticationFailed))
	mockUserRepo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestAuthService_VerifyToken_Garbage(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "test-secret", 24)

	_, err := authService.VerifyToken(context.Background(), 1, "not-a-jwt")
	assert.True(t, errors.Is(err, service.ErrAuthenticationFailed))
}

func TestAuthService_VerifyToken_WrongSecret(t *testing.T) {
	// 用另一把密钥签发的 token 必须被拒绝
	mockUserRepo := new(mocks.UserRepository)
	issuer, _ := service.NewAuthService(mockUserRepo, "other-secret", 24)
	verifier, _ := service.NewAuthService(mockUserRepo, "test-secret", 24)
	ctx := context.Background()
	hashed, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	userInDb := &domain.User{ID: 42, Name: "alice", Password: string(hashed)}

	mockUserRepo.On("FindByName", ctx, "alice").Return(userInDb, nil).Once()
	token, err := issuer.Login(ctx, "alice", "password")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(ctx, 42, token)
	assert.True(t, errors.Is(err, service.ErrAuthenticationFailed))
}
