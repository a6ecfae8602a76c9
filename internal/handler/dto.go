// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/vvise/authbroker/internal/model"
)

// userResponse はユーザー情報のAPIレスポンス。
// フィールド名はOIDC標準クレームに合わせる。ロールは接頭辞なしで返す。
type userResponse struct {
	ID            string   `json:"id"`
	Sub           string   `json:"sub"`
	Provider      string   `json:"provider"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Name          string   `json:"name"`

	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	MiddleName        string `json:"middle_name,omitempty"`
	Nickname          string `json:"nickname,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Profile           string `json:"profile,omitempty"`
	Picture           string `json:"picture,omitempty"`
	Website           string `json:"website,omitempty"`
	Gender            string `json:"gender,omitempty"`
	Birthdate         string `json:"birthdate,omitempty"`
	Zoneinfo          string `json:"zoneinfo,omitempty"`
	Locale            string `json:"locale,omitempty"`
	PhoneNumber       string `json:"phone_number,omitempty"`
	PhoneVerified     bool   `json:"phone_verified,omitempty"`

	Roles []string `json:"roles"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// authResponse はトークン発行エンドポイントのレスポンス。
type authResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	TokenType    string       `json:"tokenType"`
	ExpiresIn    int64        `json:"expiresIn"` // 秒
	User         userResponse `json:"user"`
}

// toUserResponse はドメインのUserをAPIレスポンス型に変換する。
func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Sub:           u.Sub(),
		Provider:      string(u.Provider),
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Name:          u.Name,

		GivenName:         u.GivenName,
		FamilyName:        u.FamilyName,
		MiddleName:        u.MiddleName,
		Nickname:          u.Nickname,
		PreferredUsername: u.PreferredUsername,
		Profile:           u.Profile,
		Picture:           u.Picture,
		Website:           u.Website,
		Gender:            u.Gender,
		Birthdate:         u.Birthdate,
		Zoneinfo:          u.Zoneinfo,
		Locale:            u.Locale,
		PhoneNumber:       u.PhoneNumber,
		PhoneVerified:     u.PhoneVerified,

		Roles: u.RoleNames(),

		CreatedAt: u.CreatedAt.Unix(),
		UpdatedAt: u.UpdatedAt.Unix(),
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
