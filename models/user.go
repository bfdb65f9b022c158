package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID        uuid.UUID `gorm:"primary_key" json:"id"`
	EmpresaID uuid.UUID `gorm:"not null;index" json:"empresa_id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username"`
	Email     string    `gorm:"size:255;not null;unique" json:"email"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Role      string    `gorm:"size:20;not null;default:'member'" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	EmpresaID string `json:"empresa_id" binding:"required,uuid"`
	Username  string `json:"username" binding:"required,min=3,max=100"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	Role      string `json:"role"`
}

type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// uniform message so login cannot be used to enumerate accounts
var ErrInvalidCredentials = errors.New("invalid credentials")

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	empresaId, err := uuid.Parse(input.EmpresaID)
	if err != nil {
		return nil, errors.New("invalid empresa_id")
	}

	role := input.Role
	if role == "" {
		role = "member"
	}

	user := &User{
		ID:        uuid.New(),
		EmpresaID: empresaId,
		Username:  input.Username,
		Email:     input.Email,
		Password:  hashed,
		Role:      role,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	db := config.GetDB()
	err := db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}

func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	db := config.GetDB()
	err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Login verifies the credentials and opens a redis-backed session. The
// returned token is what clients send in the `token` header afterwards.
func Login(ctx context.Context, input *LoginInput) (string, *User, error) {
	user, err := GetUserByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if user.IsActive != nil && !*user.IsActive {
		return "", nil, ErrInvalidCredentials
	}
	if !utils.CheckPasswordHash(input.Password, user.Password) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := utils.JwtGenerate(ctx, user.ID.String(), user.Role)
	if err != nil {
		return "", nil, err
	}

	lifespan := utils.IntFromEnv("TOKEN_HOUR_LIFESPAN", 24)
	err = config.SetRedisValue("Token:"+token, user.Username, time.Duration(lifespan)*time.Hour)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func Logout(token string) error {
	if token == "" {
		return nil
	}
	return config.RemoveRedisKey("Token:" + token)
}
