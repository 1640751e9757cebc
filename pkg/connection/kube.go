package connection

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"

	corev1 "k8s.io/api/core/v1"
)

// KubeConfig holds the settings for a pod exec connection.
type KubeConfig struct {
	// Kubeconfig is the path to the kubeconfig file. Empty means the
	// standard loading rules (KUBECONFIG env var, ~/.kube/config).
	Kubeconfig string
	// Context selects a kubeconfig context. Empty means the current one.
	Context string
	// Namespace of the target pod. Defaults to "default".
	Namespace string
	// Pod is the name of the target pod.
	Pod string
	// Container selects a container in multi-container pods. Empty means
	// the first container.
	Container string
}

// DefaultKubeconfigPath returns ~/.kube/config for the current user.
func DefaultKubeconfigPath() string {
	homeDir, _ := os.UserHomeDir()

	return filepath.Join(homeDir, ".kube", "config")
}

// buildRESTConfig loads a REST config from the kubeconfig path and
// optional context, falling back to the default loading rules when no
// explicit path is given.
func buildRESTConfig(kubeconfig, kubeContext string) (*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules = &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfig}
	}

	overrides := &clientcmd.ConfigOverrides{}
	if kubeContext != "" {
		overrides.CurrentContext = kubeContext
	}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	return restConfig, nil
}

// KubeConnection runs commands inside a pod via the exec subresource.
type KubeConnection struct {
	config     KubeConfig
	restConfig *rest.Config
	clientset  kubernetes.Interface
	dyn        dynamic.Interface
	connected  bool
}

// NewKubeConnection creates a pod exec connection. The API clients are
// built eagerly so configuration errors surface before Connect.
func NewKubeConnection(config KubeConfig) (*KubeConnection, error) {
	if config.Namespace == "" {
		config.Namespace = "default"
	}

	restConfig, err := buildRESTConfig(config.Kubeconfig, config.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: creating kubernetes client: %v", ErrConnectionFailed, err)
	}

	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: creating dynamic client: %v", ErrConnectionFailed, err)
	}

	return &KubeConnection{
		config:     config,
		restConfig: restConfig,
		clientset:  clientset,
		dyn:        dyn,
	}, nil
}

// NewKubeConnectionWithClients creates a connection backed by existing
// clients. Used by tests with fake clientsets.
func NewKubeConnectionWithClients(config KubeConfig, clientset kubernetes.Interface, dyn dynamic.Interface) *KubeConnection {
	if config.Namespace == "" {
		config.Namespace = "default"
	}

	return &KubeConnection{config: config, clientset: clientset, dyn: dyn}
}

func (c *KubeConnection) Kind() Kind { return KindKube }

// Clientset exposes the typed client for pod and daemonset queries.
func (c *KubeConnection) Clientset() kubernetes.Interface { return c.clientset }

// Dynamic exposes the dynamic client for custom resources.
func (c *KubeConnection) Dynamic() dynamic.Interface { return c.dyn }

// Namespace returns the namespace this connection targets.
func (c *KubeConnection) Namespace() string { return c.config.Namespace }

// Pod returns the pod this connection targets. May be empty for
// cluster-scoped connections that only use the API clients.
func (c *KubeConnection) Pod() string { return c.config.Pod }

// Connect verifies the target pod exists and is running. Connections
// without a pod only verify API reachability.
func (c *KubeConnection) Connect(ctx context.Context) error {
	if c.config.Pod == "" {
		if _, err := c.clientset.Discovery().ServerVersion(); err != nil {
			return fmt.Errorf("%w: reaching API server: %v", ErrConnectionFailed, err)
		}
		c.connected = true
		return nil
	}

	pod, err := c.clientset.CoreV1().Pods(c.config.Namespace).Get(ctx, c.config.Pod, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("%w: getting pod %s/%s: %v", ErrConnectionFailed, c.config.Namespace, c.config.Pod, err)
	}
	if pod.Status.Phase != corev1.PodRunning {
		return fmt.Errorf("%w: pod %s/%s is %s, not Running", ErrConnectionFailed, c.config.Namespace, c.config.Pod, pod.Status.Phase)
	}

	if c.config.Container == "" && len(pod.Spec.Containers) > 0 {
		c.config.Container = pod.Spec.Containers[0].Name
	}

	c.connected = true
	return nil
}

func (c *KubeConnection) Disconnect() error {
	c.connected = false
	return nil
}

func (c *KubeConnection) IsConnected() bool {
	if !c.connected {
		return false
	}
	if c.config.Pod == "" {
		return true
	}
	pod, err := c.clientset.CoreV1().Pods(c.config.Namespace).Get(context.Background(), c.config.Pod, metav1.GetOptions{})
	return err == nil && pod.Status.Phase == corev1.PodRunning
}

// Execute runs command inside the target pod via the exec subresource.
func (c *KubeConnection) Execute(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	if !c.connected {
		return "", "", -1, ErrNotConnected
	}
	if c.config.Pod == "" {
		return "", "", -1, fmt.Errorf("%w: no pod configured for exec", ErrNotConnected)
	}
	if c.restConfig == nil {
		return "", "", -1, fmt.Errorf("%w: exec requires a REST config", ErrNotConnected)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(c.config.Namespace).
		Name(c.config.Pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: c.config.Container,
			Command:   []string{"/bin/sh", "-c", command},
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(c.restConfig, "POST", req.URL())
	if err != nil {
		return "", "", -1, fmt.Errorf("%w: creating executor: %v", ErrNotConnected, err)
	}

	var stdout, stderr bytes.Buffer
	err = exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		if ctx.Err() != nil {
			return stdout.String(), "command timed out", ExitTimedOut, nil
		}
		if exitErr, ok := err.(exitStatuser); ok {
			return stdout.String(), stderr.String(), exitErr.ExitStatus(), nil
		}
		// The exec API reports nonzero exit codes as errors with the
		// code embedded in the message.
		if code, ok := parseExecExitCode(err); ok {
			return stdout.String(), stderr.String(), code, nil
		}
		return stdout.String(), stderr.String(), -1, fmt.Errorf("%w: streaming exec: %v", ErrNotConnected, err)
	}

	return stdout.String(), stderr.String(), 0, nil
}

// exitStatuser matches the exit error type returned by the exec
// subresource without importing k8s.io/utils/exec directly.
type exitStatuser interface {
	ExitStatus() int
}

// parseExecExitCode extracts the exit code from a remotecommand error
// of the form "command terminated with exit code N".
func parseExecExitCode(err error) (int, bool) {
	msg := err.Error()
	const marker = "exit code "
	idx := strings.LastIndex(msg, marker)
	if idx < 0 {
		return 0, false
	}
	code := 0
	if _, scanErr := fmt.Sscanf(msg[idx+len(marker):], "%d", &code); scanErr != nil {
		return 0, false
	}
	return code, true
}

// UploadFile writes a local file into the pod through exec and a shell
// redirect. Content goes over stdin so binary files survive.
func (c *KubeConnection) UploadFile(ctx context.Context, localPath, remotePath string) error {
	if !c.connected {
		return ErrNotConnected
	}
	if c.restConfig == nil {
		return fmt.Errorf("%w: file transfer requires a REST config", ErrNotConnected)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", localPath, err)
	}

	req := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(c.config.Namespace).
		Name(c.config.Pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: c.config.Container,
			Command:   []string{"/bin/sh", "-c", "cat > " + shellQuote(remotePath)},
			Stdin:     true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(c.restConfig, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("%w: creating executor: %v", ErrNotConnected, err)
	}

	var stderr bytes.Buffer
	err = exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  bytes.NewReader(data),
		Stderr: &stderr,
	})
	if err != nil {
		return fmt.Errorf("uploading to %s: %w: %s", remotePath, err, stderr.String())
	}
	return nil
}

// DownloadFile reads a pod file through exec and writes it locally.
func (c *KubeConnection) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	stdout, stderr, exitCode, err := c.Execute(ctx, "cat "+shellQuote(remotePath), 60*time.Second)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("downloading %s: %s", remotePath, strings.TrimSpace(stderr))
	}
	if err := os.WriteFile(localPath, []byte(stdout), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", localPath, err)
	}
	return nil
}
