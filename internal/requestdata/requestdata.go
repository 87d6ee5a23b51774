// Package requestdata carries the caller identity forwarded by the gateway.
package requestdata

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header is the HTTP header, and gRPC metadata key, holding the
// authenticated user id.
const Header = "x-user-id"

type requestDataKey struct{}

type RequestData struct {
	UserID    string
	RequestID string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}

// UserID returns the caller's id, or "" when the request carried none.
func UserID(ctx context.Context) string {
	if rd := GetRequestData(ctx); rd != nil {
		return rd.UserID
	}
	return ""
}

// New builds request data from a raw identity value, minting a request id.
func New(rawUserID string) *RequestData {
	return &RequestData{
		UserID:    strings.TrimSpace(rawUserID),
		RequestID: uuid.NewString(),
	}
}
