// Package kubeadapter is the sole place that touches the Kubernetes
// cluster. Every other component — the workspace reconciler, the
// auto-shutdown loop, the bootstrap supervisor — calls through it
// instead of holding a client of its own, isolating retry, timeout and
// auth concerns behind the one Adapter type.
package kubeadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	monitoringv1 "github.com/prometheus-operator/prometheus-operator/pkg/apis/monitoring/v1"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apiextensionsclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"
	ctrlruntimeclient "sigs.k8s.io/controller-runtime/pkg/client"

	kwoerrors "github.com/kubermatic/kube-workspace-operator/pkg/errors"
)

// listPageSize is the page size used when paginating list_all calls.
const listPageSize = 500

// FieldManager is the server-side-apply manager name the adapter uses
// for every apply patch it issues.
const FieldManager = "kube-workspaces.foundational.cc"

// Adapter is a typed CRUD/exec wrapper over the Kubernetes API.
type Adapter struct {
	core       kubernetes.Interface
	metrics    metricsclientset.Interface
	apiext     apiextensionsclientset.Interface
	ctrl       ctrlruntimeclient.Client
	restConfig *rest.Config
	log        *zap.Logger
}

// New builds an Adapter from a rest.Config, wiring a core client-go
// clientset, a metrics.k8s.io clientset, an apiextensions clientset (for
// CRD-presence probing) and a controller-runtime client scoped to the
// ServiceMonitor CRD.
func New(restConfig *rest.Config, log *zap.Logger) (*Adapter, error) {
	core, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("kubeadapter: building core clientset: %w", err)
	}

	metricsClient, err := metricsclientset.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("kubeadapter: building metrics clientset: %w", err)
	}

	apiext, err := apiextensionsclientset.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("kubeadapter: building apiextensions clientset: %w", err)
	}

	crScheme, err := buildScheme()
	if err != nil {
		return nil, fmt.Errorf("kubeadapter: building scheme: %w", err)
	}
	ctrlClient, err := ctrlruntimeclient.New(restConfig, ctrlruntimeclient.Options{Scheme: crScheme})
	if err != nil {
		return nil, fmt.Errorf("kubeadapter: building controller-runtime client: %w", err)
	}

	return &Adapter{
		core:       core,
		metrics:    metricsClient,
		apiext:     apiext,
		ctrl:       ctrlClient,
		restConfig: restConfig,
		log:        log,
	}, nil
}

// NewFromClients builds an Adapter directly from already-constructed
// clients, bypassing rest.Config-based construction. Tests use this to
// inject client-go/controller-runtime fakes.
func NewFromClients(core kubernetes.Interface, metricsClient metricsclientset.Interface, apiext apiextensionsclientset.Interface, ctrlClient ctrlruntimeclient.Client, log *zap.Logger) *Adapter {
	return &Adapter{
		core:    core,
		metrics: metricsClient,
		apiext:  apiext,
		ctrl:    ctrlClient,
		log:     log,
	}
}

// buildScheme registers the core client-go types plus the ServiceMonitor
// CRD type, so the controller-runtime client can decode both.
func buildScheme() (*runtime.Scheme, error) {
	s := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(s); err != nil {
		return nil, err
	}
	if err := monitoringv1.AddToScheme(s); err != nil {
		return nil, err
	}
	return s, nil
}

// --- Namespace ---------------------------------------------------------

func (a *Adapter) GetNamespaceOpt(ctx context.Context, name string) (*corev1.Namespace, error) {
	ns, err := a.core.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ns, nil
}

func (a *Adapter) CreateNamespace(ctx context.Context, name string) (*corev1.Namespace, error) {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	return a.core.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
}

// --- Node ---------------------------------------------------------------

func (a *Adapter) GetNode(ctx context.Context, name string) (*corev1.Node, error) {
	return a.core.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
}

// --- PersistentVolumeClaim ------------------------------------------------

func (a *Adapter) GetPVCOpt(ctx context.Context, ns, name string) (*corev1.PersistentVolumeClaim, error) {
	pvc, err := a.core.CoreV1().PersistentVolumeClaims(ns).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pvc, nil
}

func (a *Adapter) CreatePVC(ctx context.Context, ns string, pvc *corev1.PersistentVolumeClaim) (*corev1.PersistentVolumeClaim, error) {
	return a.core.CoreV1().PersistentVolumeClaims(ns).Create(ctx, pvc, metav1.CreateOptions{})
}

// --- Service --------------------------------------------------------------

func (a *Adapter) GetServiceOpt(ctx context.Context, ns, name string) (*corev1.Service, error) {
	svc, err := a.core.CoreV1().Services(ns).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func (a *Adapter) CreateService(ctx context.Context, ns string, svc *corev1.Service) (*corev1.Service, error) {
	return a.core.CoreV1().Services(ns).Create(ctx, svc, metav1.CreateOptions{})
}

func (a *Adapter) DeleteService(ctx context.Context, ns, name string) error {
	err := a.core.CoreV1().Services(ns).Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// --- Pod --------------------------------------------------------------------

func (a *Adapter) GetPodOpt(ctx context.Context, ns, name string) (*corev1.Pod, error) {
	pod, err := a.core.CoreV1().Pods(ns).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pod, nil
}

func (a *Adapter) CreatePod(ctx context.Context, ns string, pod *corev1.Pod) (*corev1.Pod, error) {
	return a.core.CoreV1().Pods(ns).Create(ctx, pod, metav1.CreateOptions{})
}

func (a *Adapter) DeletePod(ctx context.Context, ns, name string) error {
	err := a.core.CoreV1().Pods(ns).Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// ListPodsAll fully paginates the pod list for the given label selector,
// using the server-returned continuation token, and returns a flat
// ordered list in server order.
func (a *Adapter) ListPodsAll(ctx context.Context, ns, labelSelector string) ([]corev1.Pod, error) {
	var out []corev1.Pod
	cont := ""
	for {
		list, err := a.core.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{
			LabelSelector: labelSelector,
			Limit:         listPageSize,
			Continue:      cont,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, list.Items...)
		cont = list.Continue
		if cont == "" {
			break
		}
	}
	return out, nil
}

// PatchPodAnnotations applies a server-side-apply patch containing only
// metadata.annotations, under the adapter's FieldManager.
func (a *Adapter) PatchPodAnnotations(ctx context.Context, ns, name string, annotations map[string]string) error {
	apply := map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata": map[string]interface{}{
			"name":        name,
			"namespace":   ns,
			"annotations": annotations,
		},
	}
	data, err := json.Marshal(apply)
	if err != nil {
		return fmt.Errorf("kubeadapter: marshaling annotation patch: %w", err)
	}

	force := true
	_, err = a.core.CoreV1().Pods(ns).Patch(ctx, name, types.ApplyPatchType, data, metav1.PatchOptions{
		FieldManager: FieldManager,
		Force:        &force,
	})
	return err
}

// Exec runs argv inside container of pod name/ns, captures stdout to EOF
// then awaits termination. It fails if the stdout stream is absent or the
// remote process exits with non-"Success" terminal status.
func (a *Adapter) Exec(ctx context.Context, ns, name, container string, argv []string) (string, error) {
	req := a.core.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(name).
		Namespace(ns).
		SubResource("exec")

	req.VersionedParams(&corev1.PodExecOptions{
		Container: container,
		Command:   argv,
		Stdout:    true,
		Stderr:    true,
	}, clientgoscheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(a.restConfig, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("kubeadapter: building exec executor: %w", err)
	}

	var stdout, stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		if a.log != nil {
			a.log.Warn("exec failed",
				zap.String("namespace", ns),
				zap.String("pod", name),
				zap.String("container", container),
				zap.String("stderr", stderr.String()),
				zap.Error(err),
			)
		}
		return "", fmt.Errorf("kubeadapter: exec %v in %s/%s: %w: %w (stderr: %s)", argv, ns, name, kwoerrors.ErrExecFailure, err, stderr.String())
	}

	return stdout.String(), nil
}

// --- PodMetrics ----------------------------------------------------------

// PodMetricsListAll reads the metrics.k8s.io/v1beta1 pods collection.
// Absence of that API surfaces as an error the caller is expected to
// treat as "no metrics available".
func (a *Adapter) PodMetricsListAll(ctx context.Context, ns string) ([]metricsv1beta1.PodMetrics, error) {
	var out []metricsv1beta1.PodMetrics
	cont := ""
	for {
		list, err := a.metrics.MetricsV1beta1().PodMetricses(ns).List(ctx, metav1.ListOptions{
			Limit:    listPageSize,
			Continue: cont,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", kwoerrors.ErrMetricsUnavailable, err)
		}
		out = append(out, list.Items...)
		cont = list.Continue
		if cont == "" {
			break
		}
	}
	return out, nil
}

// --- CustomResourceDefinition / ServiceMonitor ----------------------------

// CRDExists probes the apiextensions API for a CRD by name, treating
// NotFound as "absent" rather than an error.
func (a *Adapter) CRDExists(ctx context.Context, name string) (bool, error) {
	_, err := a.apiext.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *Adapter) GetServiceMonitorOpt(ctx context.Context, ns, name string) (*monitoringv1.ServiceMonitor, error) {
	sm := &monitoringv1.ServiceMonitor{}
	err := a.ctrl.Get(ctx, ctrlruntimeclient.ObjectKey{Namespace: ns, Name: name}, sm)
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sm, nil
}

func (a *Adapter) CreateServiceMonitor(ctx context.Context, sm *monitoringv1.ServiceMonitor) error {
	return a.ctrl.Create(ctx, sm)
}
