package kubernetes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
	k8stesting "k8s.io/client-go/testing"

	"github.com/gamgui/gamgui-server/internal/config"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	ttl   time.Duration
	err   error
}

func (s *fakeSource) Credentials(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Credentials{}, s.err
	}
	s.calls++
	ttl := s.ttl
	if ttl == 0 {
		ttl = time.Hour
	}
	return Credentials{
		Token:  fmt.Sprintf("token-%d", s.calls),
		Expiry: time.Now().Add(ttl),
		Host:   "https://cluster.test:443",
	}, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testKubeConfig() config.KubernetesConfig {
	return config.KubernetesConfig{
		Namespace:           "gamgui",
		PodPrefix:           "gam-session",
		ServiceNameTemplate: "gam-session-{{SESSION_ID}}-svc",
		ContainerName:       "gam",
		CredentialsPath:     "/etc/gam/credentials",
		UploadMountPath:     "/workspace/uploads",
		CPURequest:          "250m",
		CPULimit:            "500m",
		MemoryRequest:       "512Mi",
		MemoryLimit:         "1Gi",
	}
}

func newTestClient(t *testing.T, source *fakeSource) (*Client, *fake.Clientset) {
	t.Helper()

	cs := fake.NewSimpleClientset(&corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: "gamgui"},
	})

	wsCfg := config.WebsocketConfig{
		URLTemplate:  "ws://localhost:8080/sessions/{{SESSION_ID}}/ws",
		PathTemplate: "/sessions/{{SESSION_ID}}/ws",
	}

	c := &Client{
		cfg:        testKubeConfig(),
		wsCfg:      wsCfg,
		source:     source,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		renewLead:  renewLead,
		renewRetry: renewRetryDelay,
		buildClientset: func(rc *rest.Config) (k8s.Interface, error) {
			return cs, nil
		},
	}

	creds, err := source.Credentials(context.Background())
	require.NoError(t, err)
	c.restCfg = restConfigFor(creds)
	c.expiry = creds.Expiry
	c.clientset = cs
	return c, cs
}

func TestCreateContainerProvisionsPodAndService(t *testing.T) {
	c, cs := newTestClient(t, &fakeSource{})

	handle, err := c.CreateContainer(context.Background(), "sess_deadbeef", CreateOptions{
		Image:             "gamgui/gam:latest",
		CredentialsSecret: "gam-credentials",
		Env:               map[string]string{"GAM_TIMEZONE": "UTC"},
	})
	require.NoError(t, err)

	assert.Equal(t, "gam-session-sess_deadbeef", handle.PodName)
	assert.Equal(t, "gam-session-sess_deadbeef-svc", handle.ServiceName)
	assert.Equal(t, "/sessions/sess_deadbeef/ws", handle.WebsocketPath)

	pod, err := cs.CoreV1().Pods("gamgui").Get(context.Background(), handle.PodName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sess_deadbeef", pod.Labels["session-id"])
	require.Len(t, pod.Spec.Containers, 1)
	assert.Equal(t, "gam", pod.Spec.Containers[0].Name)
	assert.Equal(t, "gamgui/gam:latest", pod.Spec.Containers[0].Image)
	assert.Len(t, pod.Spec.Containers[0].VolumeMounts, 2)
	assert.True(t, pod.Spec.Containers[0].VolumeMounts[0].ReadOnly)

	svc, err := cs.CoreV1().Services("gamgui").Get(context.Background(), handle.ServiceName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sess_deadbeef", svc.Spec.Selector["session-id"])
}

func TestCreateContainerToleratesExistingService(t *testing.T) {
	c, cs := newTestClient(t, &fakeSource{})

	_, err := cs.CoreV1().Services("gamgui").Create(context.Background(),
		c.serviceSpec("gam-session-sess_cafe0001-svc", "sess_cafe0001"), metav1.CreateOptions{})
	require.NoError(t, err)

	_, err = c.CreateContainer(context.Background(), "sess_cafe0001", CreateOptions{Image: "gamgui/gam:latest"})
	assert.NoError(t, err)
}

func TestDeleteContainerToleratesMissing(t *testing.T) {
	c, _ := newTestClient(t, &fakeSource{})

	err := c.DeleteContainer(context.Background(), "sess_gone0001")
	assert.NoError(t, err)
}

func TestDeleteContainerRemovesPodAndService(t *testing.T) {
	c, cs := newTestClient(t, &fakeSource{})

	_, err := c.CreateContainer(context.Background(), "sess_cafe0002", CreateOptions{Image: "gamgui/gam:latest"})
	require.NoError(t, err)

	require.NoError(t, c.DeleteContainer(context.Background(), "sess_cafe0002"))

	_, err = cs.CoreV1().Pods("gamgui").Get(context.Background(), "gam-session-sess_cafe0002", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))
}

func TestStatusMapsMissingPodToNotFound(t *testing.T) {
	c, _ := newTestClient(t, &fakeSource{})

	phase, err := c.Status(context.Background(), "sess_gone0002")
	require.NoError(t, err)
	assert.Equal(t, PhaseNotFound, phase)
}

func TestStatusMapsPodPhases(t *testing.T) {
	c, cs := newTestClient(t, &fakeSource{})

	_, err := c.CreateContainer(context.Background(), "sess_cafe0003", CreateOptions{Image: "gamgui/gam:latest"})
	require.NoError(t, err)

	pod, err := cs.CoreV1().Pods("gamgui").Get(context.Background(), "gam-session-sess_cafe0003", metav1.GetOptions{})
	require.NoError(t, err)
	pod.Status.Phase = corev1.PodRunning
	_, err = cs.CoreV1().Pods("gamgui").UpdateStatus(context.Background(), pod, metav1.UpdateOptions{})
	require.NoError(t, err)

	phase, err := c.Status(context.Background(), "sess_cafe0003")
	require.NoError(t, err)
	assert.Equal(t, PhaseRunning, phase)
}

func TestUnauthorizedResponseTriggersRenewAndSingleRetry(t *testing.T) {
	source := &fakeSource{}
	c, cs := newTestClient(t, source)

	unauthorizedOnce := true
	cs.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if unauthorizedOnce {
			unauthorizedOnce = false
			return true, nil, apierrors.NewUnauthorized("token expired")
		}
		return false, nil, nil
	})

	callsBefore := source.callCount()
	_, err := c.CreateContainer(context.Background(), "sess_cafe0004", CreateOptions{Image: "gamgui/gam:latest"})
	require.NoError(t, err)

	// exactly one out-of-band renewal
	assert.Equal(t, callsBefore+1, source.callCount())
	assert.Equal(t, fmt.Sprintf("token-%d", source.callCount()), c.restCfg.BearerToken)
}

func TestUnauthorizedRetriesExactlyOnce(t *testing.T) {
	source := &fakeSource{}
	c, cs := newTestClient(t, source)

	cs.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewUnauthorized("token expired")
	})

	_, err := c.CreateContainer(context.Background(), "sess_cafe0005", CreateOptions{Image: "gamgui/gam:latest"})
	require.Error(t, err)

	var cerr *ContainerError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "sess_cafe0005", cerr.SessionID)
}

func TestRenewSwapsTokenInPlace(t *testing.T) {
	source := &fakeSource{}
	c, _ := newTestClient(t, source)

	hostBefore := c.restCfg.Host
	require.NoError(t, c.renew(context.Background()))

	assert.Equal(t, hostBefore, c.restCfg.Host)
	assert.Equal(t, "token-2", c.restCfg.BearerToken)
}

func TestRenewalDelay(t *testing.T) {
	now := time.Now()

	d := renewalDelay(now.Add(time.Hour), 5*time.Minute, now)
	assert.Equal(t, 55*time.Minute, d)

	// already inside the lead window: renew immediately
	assert.Equal(t, time.Duration(0), renewalDelay(now.Add(time.Minute), 5*time.Minute, now))
	assert.Equal(t, time.Duration(0), renewalDelay(now.Add(-time.Minute), 5*time.Minute, now))
}

func TestRenewalTimerFiresBeforeExpiry(t *testing.T) {
	source := &fakeSource{ttl: 100 * time.Millisecond}
	c, _ := newTestClient(t, source)
	c.renewLead = 50 * time.Millisecond
	c.renewRetry = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartRenewal(ctx)

	require.Eventually(t, func() bool {
		return source.callCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.NotEqual(t, "token-1", c.restCfg.BearerToken)
}

func TestRenewalFailureReschedules(t *testing.T) {
	source := &fakeSource{ttl: 50 * time.Millisecond}
	c, _ := newTestClient(t, source)
	c.renewLead = 40 * time.Millisecond
	c.renewRetry = 10 * time.Millisecond

	source.mu.Lock()
	source.err = fmt.Errorf("control plane down")
	source.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartRenewal(ctx)

	time.Sleep(60 * time.Millisecond)
	source.mu.Lock()
	source.err = nil
	source.mu.Unlock()

	require.Eventually(t, func() bool {
		return source.callCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExitCodeExtraction(t *testing.T) {
	code, ok := exitCode(fmt.Errorf("command terminated with exit code 3"))
	assert.True(t, ok)
	assert.Equal(t, 3, code)

	_, ok = exitCode(fmt.Errorf("connection refused"))
	assert.False(t, ok)
}
