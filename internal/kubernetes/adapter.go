// Package kubernetes is the control-plane adapter. It provisions one pod
// and one service per session, executes commands inside the pod's container
// over the exec subresource, and keeps the bearer credential it talks to
// the API server with renewed ahead of expiry.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/wait"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/gamgui/gamgui-server/internal/config"
)

// Phase is the coarse workload status reported to callers. A missing pod is
// a phase, not an error: status polls race with deletion routinely.
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseRunning  Phase = "running"
	PhaseFailed   Phase = "failed"
	PhaseNotFound Phase = "not_found"
)

// CreateOptions carries the per-session provisioning parameters.
type CreateOptions struct {
	Image             string
	CredentialsSecret string
	// Env is injected into the container as environment variables.
	Env map[string]string
}

// Handle is the addressing record for a provisioned sandbox.
type Handle struct {
	PodName       string
	ServiceName   string
	WebsocketPath string
}

const (
	credentialsVolume = "gam-credentials"
	uploadsVolume     = "gam-uploads"
	managedByLabel    = "gamgui-server"
)

// bootstrapScript materializes the GAM configuration from the mounted
// credential secret, locks down permissions, and then idles so that exec
// calls can be issued at arbitrary later times.
const bootstrapScript = `mkdir -p /root/.gam && cp %s/* /root/.gam/ && chmod 600 /root/.gam/* && echo "gam session ready" && sleep infinity`

type Client struct {
	cfg    config.KubernetesConfig
	wsCfg  config.WebsocketConfig
	source CredentialSource
	logger *slog.Logger

	renewLead  time.Duration
	renewRetry time.Duration

	// buildClientset is swappable so tests can substitute a fake.
	buildClientset func(*rest.Config) (k8s.Interface, error)

	mu        sync.RWMutex
	restCfg   *rest.Config
	clientset k8s.Interface
	expiry    time.Time
}

// NewClient obtains an initial credential, builds the API client, and
// verifies connectivity once. Renewal does not start until StartRenewal.
func NewClient(ctx context.Context, cfg config.KubernetesConfig, wsCfg config.WebsocketConfig, source CredentialSource, logger *slog.Logger) (*Client, error) {
	c := &Client{
		cfg:        cfg,
		wsCfg:      wsCfg,
		source:     source,
		logger:     logger,
		renewLead:  renewLead,
		renewRetry: renewRetryDelay,
		buildClientset: func(rc *rest.Config) (k8s.Interface, error) {
			return k8s.NewForConfig(rc)
		},
	}

	creds, err := source.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching control-plane credentials: %w", err)
	}
	c.restCfg = restConfigFor(creds)
	c.expiry = creds.Expiry

	cs, err := c.buildClientset(c.restCfg)
	if err != nil {
		return nil, fmt.Errorf("building clientset: %w", err)
	}
	c.clientset = cs

	if _, err := cs.CoreV1().Namespaces().Get(ctx, cfg.Namespace, metav1.GetOptions{}); err != nil {
		return nil, fmt.Errorf("verifying control-plane connectivity: %w", err)
	}

	logger.Info("control-plane client ready", "namespace", cfg.Namespace, "token_expires_at", creds.Expiry)
	return c, nil
}

func (c *Client) current() k8s.Interface {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientset
}

// PodName returns the deterministic workload name for a session.
func (c *Client) PodName(sessionID string) string {
	return c.cfg.PodPrefix + "-" + sessionID
}

// ServiceName returns the deterministic endpoint name for a session.
func (c *Client) ServiceName(sessionID string) string {
	return config.ExpandSessionID(c.cfg.ServiceNameTemplate, sessionID)
}

// WebsocketPath returns the relay path clients use to reach the session.
func (c *Client) WebsocketPath(sessionID string) string {
	return config.ExpandSessionID(c.wsCfg.PathTemplate, sessionID)
}

// CreateContainer provisions the session's pod and its matching service.
// An already-existing service is treated as success; both calls retry once
// through the unauthorized guard but are not otherwise retried.
func (c *Client) CreateContainer(ctx context.Context, sessionID string, opts CreateOptions) (*Handle, error) {
	podName := c.PodName(sessionID)
	serviceName := c.ServiceName(sessionID)

	pod := c.podSpec(podName, sessionID, opts)
	err := c.withAuthRetry(ctx, func() error {
		_, e := c.current().CoreV1().Pods(c.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{})
		return e
	})
	if err != nil {
		return nil, &ContainerError{SessionID: sessionID, Op: "creating pod " + podName, Err: err}
	}

	svc := c.serviceSpec(serviceName, sessionID)
	err = c.withAuthRetry(ctx, func() error {
		_, e := c.current().CoreV1().Services(c.cfg.Namespace).Create(ctx, svc, metav1.CreateOptions{})
		return e
	})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return nil, &ContainerError{SessionID: sessionID, Op: "creating service " + serviceName, Err: err}
	}

	c.logger.Info("sandbox provisioned", "session_id", sessionID, "pod", podName, "service", serviceName)
	return &Handle{
		PodName:       podName,
		ServiceName:   serviceName,
		WebsocketPath: c.WebsocketPath(sessionID),
	}, nil
}

// DeleteContainer removes the session's pod and service. Missing resources
// are not errors; deletion is routinely retried after partial teardown.
func (c *Client) DeleteContainer(ctx context.Context, sessionID string) error {
	podName := c.PodName(sessionID)
	err := c.withAuthRetry(ctx, func() error {
		return c.current().CoreV1().Pods(c.cfg.Namespace).Delete(ctx, podName, metav1.DeleteOptions{})
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return &ContainerError{SessionID: sessionID, Op: "deleting pod " + podName, Err: err}
	}

	serviceName := c.ServiceName(sessionID)
	err = c.withAuthRetry(ctx, func() error {
		return c.current().CoreV1().Services(c.cfg.Namespace).Delete(ctx, serviceName, metav1.DeleteOptions{})
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return &ContainerError{SessionID: sessionID, Op: "deleting service " + serviceName, Err: err}
	}

	c.logger.Info("sandbox deleted", "session_id", sessionID, "pod", podName)
	return nil
}

// Status reports the session pod's phase. A missing pod maps to
// PhaseNotFound instead of an error.
func (c *Client) Status(ctx context.Context, sessionID string) (Phase, error) {
	var pod *corev1.Pod
	err := c.withAuthRetry(ctx, func() error {
		var e error
		pod, e = c.current().CoreV1().Pods(c.cfg.Namespace).Get(ctx, c.PodName(sessionID), metav1.GetOptions{})
		return e
	})
	if apierrors.IsNotFound(err) {
		return PhaseNotFound, nil
	}
	if err != nil {
		return "", &ContainerError{SessionID: sessionID, Op: "getting pod status", Err: err}
	}

	switch pod.Status.Phase {
	case corev1.PodRunning:
		return PhaseRunning, nil
	case corev1.PodPending:
		return PhasePending, nil
	case corev1.PodFailed, corev1.PodSucceeded:
		return PhaseFailed, nil
	default:
		return PhasePending, nil
	}
}

// WaitReady polls until the session pod reports running.
func (c *Client) WaitReady(ctx context.Context, sessionID string, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, 2*time.Second, timeout, true, func(ctx context.Context) (bool, error) {
		phase, err := c.Status(ctx, sessionID)
		if err != nil {
			return false, err
		}
		return phase == PhaseRunning, nil
	})
	if err != nil {
		return &ContainerError{SessionID: sessionID, Op: "waiting for pod ready", Err: err}
	}
	return nil
}

func (c *Client) podSpec(podName, sessionID string, opts CreateOptions) *corev1.Pod {
	var env []corev1.EnvVar
	for k, v := range opts.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	secret := opts.CredentialsSecret
	bootstrap := fmt.Sprintf(bootstrapScript, c.cfg.CredentialsPath)

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: c.cfg.Namespace,
			Labels: map[string]string{
				"app":        c.cfg.PodPrefix,
				"session-id": sessionID,
				"managed-by": managedByLabel,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:    c.cfg.ContainerName,
					Image:   opts.Image,
					Command: []string{"/bin/sh", "-c", bootstrap},
					Env:     env,
					VolumeMounts: []corev1.VolumeMount{
						{
							Name:      credentialsVolume,
							MountPath: c.cfg.CredentialsPath,
							ReadOnly:  true,
						},
						{
							Name:      uploadsVolume,
							MountPath: c.cfg.UploadMountPath,
						},
					},
					Resources: corev1.ResourceRequirements{
						Requests: corev1.ResourceList{
							corev1.ResourceCPU:    resource.MustParse(c.cfg.CPURequest),
							corev1.ResourceMemory: resource.MustParse(c.cfg.MemoryRequest),
						},
						Limits: corev1.ResourceList{
							corev1.ResourceCPU:    resource.MustParse(c.cfg.CPULimit),
							corev1.ResourceMemory: resource.MustParse(c.cfg.MemoryLimit),
						},
					},
				},
			},
			Volumes: []corev1.Volume{
				{
					Name: credentialsVolume,
					VolumeSource: corev1.VolumeSource{
						Secret: &corev1.SecretVolumeSource{SecretName: secret},
					},
				},
				{
					Name: uploadsVolume,
					VolumeSource: corev1.VolumeSource{
						EmptyDir: &corev1.EmptyDirVolumeSource{},
					},
				},
			},
		},
	}
}

func (c *Client) serviceSpec(serviceName, sessionID string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      serviceName,
			Namespace: c.cfg.Namespace,
			Labels: map[string]string{
				"app":        c.cfg.PodPrefix,
				"session-id": sessionID,
				"managed-by": managedByLabel,
			},
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{"session-id": sessionID},
			Ports: []corev1.ServicePort{
				{
					Name:       "http",
					Port:       80,
					TargetPort: intstr.FromInt32(8080),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}
