package kumo

import (
	"context"
	"errors"
	"log"
	"time"
)

// Setup verifies or establishes a session and returns the coordinator for
// the site. With stored tokens the account endpoint is probed first; a
// rejected token falls back to a fresh credentialed login. The caller
// decides when to start polling via Run or Poll.
func Setup(ctx context.Context, client *Client, siteID string, interval time.Duration) (*Coordinator, error) {
	if client.Token() == nil || client.Token().AccessToken == "" {
		if err := client.Login(ctx); err != nil {
			return nil, err
		}
	} else if _, err := client.AccountInfo(ctx); err != nil {
		var authErr AuthError
		if !errors.As(err, &authErr) {
			return nil, err
		}
		log.Printf("kumo: stored tokens rejected, attempting fresh login")
		if err := client.Login(ctx); err != nil {
			return nil, err
		}
	}

	return NewCoordinator(client, siteID, interval), nil
}
