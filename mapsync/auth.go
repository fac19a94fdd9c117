package mapsync

import (
	"fmt"
	"net/http"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// claims the sync core reads from the client token.
// The token is verified by the server at the transport boundary, never here.
type ByJwt struct {
	UserId   string
	ClientId Id
}

func ParseByJwtUnverified(jwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("Unexpected claims type: %T", token.Claims)
	}

	byJwt := &ByJwt{}

	if userId, ok := claims["user_id"].(string); ok {
		byJwt.UserId = userId
	}
	if clientIdStr, ok := claims["client_id"].(string); ok {
		if clientId, err := ParseId(clientIdStr); err == nil {
			byJwt.ClientId = clientId
		}
	}

	return byJwt, nil
}

type ClientAuth struct {
	// optional. Sent as a bearer token when the transport connects.
	ByJwt string
	// the map's modification secret. Empty for read-only sessions.
	ModificationSecret string
	// identifies this client when there is no jwt client id
	InstanceId Id
}

func NewClientAuth(byJwt string, modificationSecret string) *ClientAuth {
	return &ClientAuth{
		ByJwt:              byJwt,
		ModificationSecret: modificationSecret,
		InstanceId:         NewId(),
	}
}

func (self *ClientAuth) ClientId() Id {
	if self.ByJwt != "" {
		if byJwt, err := ParseByJwtUnverified(self.ByJwt); err == nil && !byJwt.ClientId.IsZero() {
			return byJwt.ClientId
		}
	}
	return self.InstanceId
}

func (self *ClientAuth) Header() http.Header {
	header := http.Header{}
	if self.ByJwt != "" {
		header.Set("Authorization", fmt.Sprintf("Bearer %s", self.ByJwt))
	}
	return header
}
