package mapsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// the map storage service. The replicated strategy uses it for operations outside the replica.
type MapApi struct {
	apiUrl string
	auth   *ClientAuth
	client *http.Client
}

func NewMapApi(apiUrl string, auth *ClientAuth) *MapApi {
	return &MapApi{
		apiUrl: strings.TrimSuffix(apiUrl, "/"),
		auth:   auth,
		client: defaultClient(),
	}
}

func (self *MapApi) mapUrl(mapId string) string {
	return fmt.Sprintf("%s/maps/%s", self.apiUrl, url.PathEscape(mapId))
}

func (self *MapApi) GetMap(ctx context.Context, mapId string) (*ServerMap, error) {
	var serverMap ServerMap
	if err := self.do(ctx, "GET", self.mapUrl(mapId), nil, &serverMap); err != nil {
		return nil, err
	}
	if err := serverMap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}
	return &serverMap, nil
}

type deleteMapArgs struct {
	AdminId string `json:"adminId"`
}

// the server closes the map's channels with `CloseCodeMapDeleted`
func (self *MapApi) DeleteMap(ctx context.Context, mapId string, adminId string) error {
	return self.do(ctx, "DELETE", self.mapUrl(mapId), &deleteMapArgs{AdminId: adminId}, nil)
}

func (self *MapApi) do(ctx context.Context, method string, requestUrl string, args any, result any) error {
	var body io.Reader
	if args != nil {
		requestBodyBytes, err := json.Marshal(args)
		if err != nil {
			return err
		}
		body = bytes.NewReader(requestBodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestUrl, body)
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	for key, values := range self.auth.Header() {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	r, err := self.client.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if r.StatusCode < 200 || 300 <= r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		if errorMessage == "" {
			errorMessage = r.Status
		}
		return errors.New(errorMessage)
	}
	if err != nil {
		return err
	}

	if result == nil || len(responseBodyBytes) == 0 {
		return nil
	}
	return json.Unmarshal(responseBodyBytes, result)
}
