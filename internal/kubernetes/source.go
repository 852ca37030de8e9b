package kubernetes

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"k8s.io/client-go/rest"
)

// ControlPlaneSource fetches short-lived cluster credentials from the
// hosting platform's control-plane endpoint.
type ControlPlaneSource struct {
	URL    string
	Client *http.Client
}

type controlPlaneResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Endpoint  string    `json:"endpoint"`
	CACert    string    `json:"ca_cert"`
}

func (s *ControlPlaneSource) Credentials(ctx context.Context) (Credentials, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("building credential request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("requesting credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("credential endpoint returned %s", resp.Status)
	}

	var body controlPlaneResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Credentials{}, fmt.Errorf("decoding credential response: %w", err)
	}

	ca, err := base64.StdEncoding.DecodeString(body.CACert)
	if err != nil {
		return Credentials{}, fmt.Errorf("decoding cluster CA: %w", err)
	}

	return Credentials{
		Token:  body.Token,
		Expiry: body.ExpiresAt,
		Host:   "https://" + body.Endpoint,
		CAData: ca,
	}, nil
}

// inClusterTokenTTL is assumed for tokens read from the projected service
// account volume; the kubelet rotates the file well inside this window.
const inClusterTokenTTL = time.Hour

// InClusterSource reads the projected service account token when the
// server itself runs inside the cluster it manages.
type InClusterSource struct{}

func (s *InClusterSource) Credentials(ctx context.Context) (Credentials, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return Credentials{}, fmt.Errorf("loading in-cluster config: %w", err)
	}

	token := cfg.BearerToken
	if cfg.BearerTokenFile != "" {
		data, err := os.ReadFile(cfg.BearerTokenFile)
		if err != nil {
			return Credentials{}, fmt.Errorf("reading service account token: %w", err)
		}
		token = string(data)
	}

	var ca []byte
	if cfg.TLSClientConfig.CAFile != "" {
		ca, err = os.ReadFile(cfg.TLSClientConfig.CAFile)
		if err != nil {
			return Credentials{}, fmt.Errorf("reading cluster CA: %w", err)
		}
	} else {
		ca = cfg.TLSClientConfig.CAData
	}

	return Credentials{
		Token:  token,
		Expiry: time.Now().Add(inClusterTokenTTL),
		Host:   cfg.Host,
		CAData: ca,
	}, nil
}

// NewSource picks the control-plane endpoint when one is configured and
// falls back to in-cluster credentials otherwise.
func NewSource(controlPlaneURL string) CredentialSource {
	if controlPlaneURL != "" {
		return &ControlPlaneSource{URL: controlPlaneURL}
	}
	return &InClusterSource{}
}
