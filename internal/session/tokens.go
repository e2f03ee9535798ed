package session

import "encoding/json"

// TokenPair es el resultado de login/refresh tal como lo devuelve el backend.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

type tokenFields struct {
	Token             string `json:"token"`
	AccessToken       string `json:"accessToken"`
	AccessTokenSnake  string `json:"access_token"`
	RefreshToken      string `json:"refreshToken"`
	RefreshTokenSnake string `json:"refresh_token"`
}

func (f tokenFields) pair() TokenPair {
	p := TokenPair{AccessToken: f.Token, RefreshToken: f.RefreshToken}
	if p.AccessToken == "" {
		p.AccessToken = f.AccessToken
	}
	if p.AccessToken == "" {
		p.AccessToken = f.AccessTokenSnake
	}
	if p.RefreshToken == "" {
		p.RefreshToken = f.RefreshTokenSnake
	}
	return p
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	tokenFields
}

// ParseTokens acepta {success, data:{token, refreshToken}} y la forma plana
// {token, refreshToken}, con alias accessToken/access_token/refresh_token.
// ok es false si no hay access token o success es false.
func ParseTokens(body []byte) (TokenPair, bool) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return TokenPair{}, false
	}
	if env.Success != nil && !*env.Success {
		return TokenPair{}, false
	}
	if len(env.Data) > 0 && env.Data[0] == '{' {
		var inner tokenFields
		if err := json.Unmarshal(env.Data, &inner); err == nil {
			if p := inner.pair(); p.AccessToken != "" {
				return p, true
			}
		}
	}
	p := env.tokenFields.pair()
	return p, p.AccessToken != ""
}
