package kubernetes

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/rest"
)

// Credentials is the bearer credential and endpoint material obtained from
// the control plane. The token has a finite lifetime and must be renewed
// before Expiry.
type Credentials struct {
	Token  string
	Expiry time.Time
	Host   string
	CAData []byte
}

// CredentialSource yields a fresh control-plane credential on demand.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// renewLead is how long before token expiry the background renewal fires.
const renewLead = 5 * time.Minute

// renewRetryDelay is the reschedule interval after a failed renewal.
const renewRetryDelay = 30 * time.Second

// renew fetches a fresh credential and swaps only the bearer token inside
// the existing rest config, then rebuilds the derived clientset. In-flight
// calls dispatched before the swap keep the old token; they recover through
// the unauthorized-retry guard if it had already expired.
func (c *Client) renew(ctx context.Context) error {
	creds, err := c.source.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("fetching control-plane credentials: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.restCfg.BearerToken = creds.Token
	cs, err := c.buildClientset(c.restCfg)
	if err != nil {
		return fmt.Errorf("rebuilding clientset: %w", err)
	}
	c.clientset = cs
	c.expiry = creds.Expiry

	c.logger.Info("control-plane token renewed", "expires_at", creds.Expiry)
	return nil
}

// renewalDelay returns how long to wait before the next renewal given the
// current expiry. An already-stale expiry renews immediately.
func renewalDelay(expiry time.Time, lead time.Duration, now time.Time) time.Duration {
	d := expiry.Add(-lead).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// StartRenewal runs the background token-renewal loop until ctx is
// cancelled. A failed renewal is retried on a short interval rather than
// leaving the client permanently unauthenticated.
func (c *Client) StartRenewal(ctx context.Context) {
	go func() {
		for {
			c.mu.RLock()
			expiry := c.expiry
			c.mu.RUnlock()

			timer := time.NewTimer(renewalDelay(expiry, c.renewLead, time.Now()))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			if err := c.renew(ctx); err != nil {
				c.logger.Error("token renewal failed, will retry", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.renewRetry):
				}
			}
		}
	}()
}

// withAuthRetry runs fn and, on an unauthorized response, renews the token
// out of band and retries exactly once. Any other error passes through.
func (c *Client) withAuthRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !apierrors.IsUnauthorized(err) {
		return err
	}

	c.logger.Warn("control-plane call unauthorized, renewing token")
	if renewErr := c.renew(ctx); renewErr != nil {
		return fmt.Errorf("renewing after unauthorized response: %w", renewErr)
	}
	return fn()
}

// streamAuthRetry is the withAuthRetry variant for live-output calls. The
// retry is only safe while nothing has reached the caller's writers yet;
// once emitted reports true the call fails through unchanged, since a
// rerun would duplicate output.
func (c *Client) streamAuthRetry(ctx context.Context, emitted func() bool, fn func() error) error {
	err := fn()
	if err == nil || !apierrors.IsUnauthorized(err) || emitted() {
		return err
	}

	c.logger.Warn("control-plane call unauthorized, renewing token")
	if renewErr := c.renew(ctx); renewErr != nil {
		return fmt.Errorf("renewing after unauthorized response: %w", renewErr)
	}
	return fn()
}

// restConfigFor builds a rest config from control-plane credentials.
func restConfigFor(creds Credentials) *rest.Config {
	return &rest.Config{
		Host:        creds.Host,
		BearerToken: creds.Token,
		TLSClientConfig: rest.TLSClientConfig{
			CAData: creds.CAData,
		},
	}
}
