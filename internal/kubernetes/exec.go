package kubernetes

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
)

// Exec runs a command in the session pod's container and returns the
// accumulated output. A non-zero exit is returned as a CommandError with
// the captured stderr attached, never swallowed.
func (c *Client) Exec(ctx context.Context, sessionID string, command []string) (string, string, error) {
	var stdout, stderr bytes.Buffer

	err := c.withAuthRetry(ctx, func() error {
		stdout.Reset()
		stderr.Reset()
		return c.stream(ctx, sessionID, command, nil, &stdout, &stderr)
	})
	if err != nil {
		if code, ok := exitCode(err); ok {
			return stdout.String(), stderr.String(), &CommandError{
				SessionID: sessionID,
				Command:   command,
				ExitCode:  code,
				Stderr:    stderr.String(),
				Err:       err,
			}
		}
		return stdout.String(), stderr.String(), &ContainerError{SessionID: sessionID, Op: "executing command", Err: err}
	}
	return stdout.String(), stderr.String(), nil
}

// ExecStream runs a command with output piped live into the given writers.
// The returned channel yields exactly one completion value.
func (c *Client) ExecStream(ctx context.Context, sessionID string, command []string, stdout, stderr io.Writer) <-chan error {
	done := make(chan error, 1)
	go func() {
		out := &countingWriter{w: stdout}
		errw := &countingWriter{w: stderr}
		err := c.streamAuthRetry(ctx, func() bool { return out.wrote() || errw.wrote() }, func() error {
			return c.stream(ctx, sessionID, command, nil, out, errw)
		})
		if err != nil {
			if code, ok := exitCode(err); ok {
				err = &CommandError{SessionID: sessionID, Command: command, ExitCode: code, Err: err}
			} else {
				err = &ContainerError{SessionID: sessionID, Op: "executing command", Err: err}
			}
		}
		done <- err
	}()
	return done
}

// UploadFile writes data into the pod at destPath by piping a tar stream
// through the exec channel.
func (c *Client) UploadFile(ctx context.Context, sessionID, destPath string, data []byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    path.Base(destPath),
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar stream: %w", err)
	}

	command := []string{"tar", "xmf", "-", "-C", path.Dir(destPath)}
	err := c.withAuthRetry(ctx, func() error {
		var stderr bytes.Buffer
		return c.stream(ctx, sessionID, command, bytes.NewReader(buf.Bytes()), io.Discard, &stderr)
	})
	if err != nil {
		return &ContainerError{SessionID: sessionID, Op: "uploading " + destPath, Err: err}
	}
	return nil
}

// DownloadFile reads a file out of the pod via a tar stream.
func (c *Client) DownloadFile(ctx context.Context, sessionID, srcPath string) ([]byte, error) {
	command := []string{"tar", "cf", "-", "-C", path.Dir(srcPath), path.Base(srcPath)}
	var stdout, stderr bytes.Buffer
	err := c.withAuthRetry(ctx, func() error {
		stdout.Reset()
		stderr.Reset()
		return c.stream(ctx, sessionID, command, nil, &stdout, &stderr)
	})
	if err != nil {
		return nil, &ContainerError{SessionID: sessionID, Op: "downloading " + srcPath, Err: err}
	}

	tr := tar.NewReader(&stdout)
	if _, err := tr.Next(); err != nil {
		return nil, fmt.Errorf("reading tar stream for %s: %w", srcPath, err)
	}
	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, fmt.Errorf("reading tar entry for %s: %w", srcPath, err)
	}
	return data, nil
}

// countingWriter remembers whether any bytes passed through, which gates
// the unauthorized retry for live-output calls.
type countingWriter struct {
	w io.Writer

	mu sync.Mutex
	n  int
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	cw.mu.Lock()
	cw.n += len(p)
	cw.mu.Unlock()
	return cw.w.Write(p)
}

func (cw *countingWriter) wrote() bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.n > 0
}

// stream is the SPDY exec primitive all command paths go through.
func (c *Client) stream(ctx context.Context, sessionID string, command []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c.mu.RLock()
	cs := c.clientset
	restCfg := c.restCfg
	c.mu.RUnlock()

	req := cs.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(c.PodName(sessionID)).
		Namespace(c.cfg.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: c.cfg.ContainerName,
			Command:   command,
			Stdin:     stdin != nil,
			Stdout:    true,
			Stderr:    true,
			TTY:       false,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(restCfg, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("creating executor: %w", err)
	}

	return exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	})
}

// exitCode extracts the command's exit status from an exec error.
func exitCode(err error) (int, bool) {
	if exitErr, ok := err.(interface{ ExitStatus() int }); ok {
		return exitErr.ExitStatus(), true
	}
	if strings.Contains(err.Error(), "command terminated with exit code") {
		var code int
		if _, scanErr := fmt.Sscanf(err.Error(), "command terminated with exit code %d", &code); scanErr == nil {
			return code, true
		}
	}
	return -1, false
}
