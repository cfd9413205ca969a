package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
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

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

// CollabApi talks to the collaboration platform's HTTP surface. Token
// issuance itself is out of scope for this package; this is the stub
// hook the embedding application points at its own token endpoint.
type CollabApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string
}

func NewCollabApi(apiUrl string) *CollabApi {
	return NewCollabApiWithContext(context.Background(), apiUrl)
}

func NewCollabApiWithContext(ctx context.Context, apiUrl string) *CollabApi {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &CollabApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

type AuthTokenCallback apiCallback[*AuthTokenResult]

type AuthTokenArgs struct {
	DocId  string `json:"doc_id"`
	Secret string `json:"secret,omitempty"`
}

type AuthTokenResult struct {
	Token string                `json:"token,omitempty"`
	Error *AuthTokenResultError `json:"error,omitempty"`
}

type AuthTokenResultError struct {
	Message string `json:"message"`
}

func (self *CollabApi) AuthToken(authToken *AuthTokenArgs, callback AuthTokenCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/collab/auth-token", self.apiUrl),
		authToken,
		&AuthTokenResult{},
		callback,
	)
}

func (self *CollabApi) AuthTokenSync(authToken *AuthTokenArgs) (*AuthTokenResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/collab/auth-token", self.apiUrl),
		authToken,
		&AuthTokenResult{},
		NewNoopApiCallback[*AuthTokenResult](),
	)
}

// TokenFunc returns a resolver that fetches a fresh token for the
// document from the auth endpoint on each call. Pair with
// NewCachingTokenFunc to re-use unexpired tokens.
func (self *CollabApi) TokenFunc(docId string, secret string) TokenFunc {
	return func(ctx context.Context) (string, error) {
		result, err := self.AuthTokenSync(&AuthTokenArgs{
			DocId:  docId,
			Secret: secret,
		})
		if err != nil {
			return "", err
		}
		if result.Error != nil {
			return "", errors.New(result.Error.Message)
		}
		return result.Token, nil
	}
}

func (self *CollabApi) Close() {
	self.cancel()
}

func post[R any](ctx context.Context, url string, args any, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
