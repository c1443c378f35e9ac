package cli

import (
	"errors"
	"os"

	"github.com/ispdesk/portal/internal/routeid"
)

// RouteSecretEnv is read when no --secret flag is given.
const RouteSecretEnv = "ROUTE_SECRET"

// NewRefCodec builds the route id codec from secret or ROUTE_SECRET.
func NewRefCodec(secret string) (*routeid.Codec, error) {
	if secret == "" {
		secret = os.Getenv(RouteSecretEnv)
	}
	if secret == "" {
		return nil, errors.New("ref: route secret required (--secret or ROUTE_SECRET)")
	}
	return routeid.New(secret)
}
