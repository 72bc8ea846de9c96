package mocks

import (
	"context"
	"fmt"

	"github.com/cloudevents/sdk-go/v2/event"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/integrations/strava"
)

// --- Mock Strava Client ---
type MockStravaClient struct {
	ExchangeCodeFunc    func(ctx context.Context, code string) (*strava.TokenBundle, error)
	RefreshTokenFunc    func(ctx context.Context, refreshToken string) (*strava.TokenBundle, error)
	RevokeTokenFunc     func(ctx context.Context, accessToken string) error
	FetchActivitiesFunc func(ctx context.Context, accessToken string, params strava.ListParams) ([]strava.Activity, error)
	FetchActivityFunc   func(ctx context.Context, accessToken string, id int64) (*strava.Activity, error)
	AuthorizeURLFunc    func(state, redirectURI string, scopes []string) string

	RefreshCalls int
	RevokeCalls  int
}

func (m *MockStravaClient) ExchangeCode(ctx context.Context, code string) (*strava.TokenBundle, error) {
	if m.ExchangeCodeFunc != nil {
		return m.ExchangeCodeFunc(ctx, code)
	}
	return nil, fmt.Errorf("exchange not mocked")
}
func (m *MockStravaClient) RefreshToken(ctx context.Context, refreshToken string) (*strava.TokenBundle, error) {
	m.RefreshCalls++
	if m.RefreshTokenFunc != nil {
		return m.RefreshTokenFunc(ctx, refreshToken)
	}
	return nil, fmt.Errorf("refresh not mocked")
}
func (m *MockStravaClient) RevokeToken(ctx context.Context, accessToken string) error {
	m.RevokeCalls++
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, accessToken)
	}
	return nil
}
func (m *MockStravaClient) FetchActivities(ctx context.Context, accessToken string, params strava.ListParams) ([]strava.Activity, error) {
	if m.FetchActivitiesFunc != nil {
		return m.FetchActivitiesFunc(ctx, accessToken, params)
	}
	return nil, nil
}
func (m *MockStravaClient) FetchActivity(ctx context.Context, accessToken string, id int64) (*strava.Activity, error) {
	if m.FetchActivityFunc != nil {
		return m.FetchActivityFunc(ctx, accessToken, id)
	}
	return nil, fmt.Errorf("activity %d not mocked", id)
}
func (m *MockStravaClient) AuthorizeURL(state, redirectURI string, scopes []string) string {
	if m.AuthorizeURLFunc != nil {
		return m.AuthorizeURLFunc(state, redirectURI, scopes)
	}
	return "https://www.strava.com/oauth/authorize?state=" + state
}

// --- Mock Publisher ---
type MockPublisher struct {
	PublishCloudEventFunc func(ctx context.Context, topic string, e event.Event) (string, error)
	Published             []event.Event
}

func (m *MockPublisher) PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error) {
	m.Published = append(m.Published, e)
	if m.PublishCloudEventFunc != nil {
		return m.PublishCloudEventFunc(ctx, topic, e)
	}
	return "msg-id", nil
}

// --- Mock Storage ---
type MockBlobStore struct {
	WriteFunc func(ctx context.Context, bucket, object string, data []byte) error
	ReadFunc  func(ctx context.Context, bucket, object string) ([]byte, error)
	Written   map[string][]byte
}

func (m *MockBlobStore) Write(ctx context.Context, bucket, object string, data []byte) error {
	if m.Written == nil {
		m.Written = make(map[string][]byte)
	}
	m.Written[bucket+"/"+object] = data
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, bucket, object, data)
	}
	return nil
}
func (m *MockBlobStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, bucket, object)
	}
	if data, ok := m.Written[bucket+"/"+object]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("object %s not found", object)
}

// --- Mock Identity ---
type MockIdentityVerifier struct {
	VerifyIDTokenFunc func(ctx context.Context, token string) (string, error)
}

func (m *MockIdentityVerifier) VerifyIDToken(ctx context.Context, token string) (string, error) {
	if m.VerifyIDTokenFunc != nil {
		return m.VerifyIDTokenFunc(ctx, token)
	}
	if token == "" {
		return "", shared.ErrUnauthenticated
	}
	return token, nil
}

// --- Mock Delivery Guard ---
type MockDeliveryGuard struct {
	FirstDeliveryFunc func(ctx context.Context, key string) (bool, error)
	Released          []string
}

func (m *MockDeliveryGuard) FirstDelivery(ctx context.Context, key string) (bool, error) {
	if m.FirstDeliveryFunc != nil {
		return m.FirstDeliveryFunc(ctx, key)
	}
	return true, nil
}
func (m *MockDeliveryGuard) Release(ctx context.Context, key string) error {
	m.Released = append(m.Released, key)
	return nil
}

var (
	_ shared.Publisher        = (*MockPublisher)(nil)
	_ shared.BlobStore        = (*MockBlobStore)(nil)
	_ shared.IdentityVerifier = (*MockIdentityVerifier)(nil)
	_ shared.DeliveryGuard    = (*MockDeliveryGuard)(nil)
)
