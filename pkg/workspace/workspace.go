// Package workspace implements the idempotent "ensure"/teardown state
// machine for a user's (HomeVolume, UserService, WorkspacePod) triplet
// (C4). Every observable side effect goes through the Kube Adapter; this
// package holds no cluster state of its own.
package workspace

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/kubermatic/kube-workspace-operator/pkg/kubeadapter"
	"github.com/kubermatic/kube-workspace-operator/pkg/phase"
)

// labelWorkspacePod marks every pod the operator owns, independent of
// user, so the auto-shutdown loop can list them all in one call.
const labelWorkspacePod = "workspace-pod"

// labelWorkspaceUser carries the owning username, and doubles as the
// UserService's pod selector.
const labelWorkspaceUser = "workspace-user"

// User identifies the caller a reconcile operation is scoped to.
type User struct {
	Username     string
	SSHPublicKey string
}

// Status is the derived, non-persisted view of a user's workspace.
type Status struct {
	Phase   phase.WorkspacePhase
	Service *corev1.Service
	Pod     *corev1.Pod
	Node    *corev1.Node
}

// Reconciler owns ensure/status/teardown for the workspace triplet.
type Reconciler struct {
	adapter                *kubeadapter.Adapter
	namespace              string
	podTemplate            corev1.PodSpec
	maxHomeVolumeSizeBytes int64
	storageClass           *string
	log                    *zap.Logger
}

// New builds a Reconciler bound to one namespace and one pod template.
func New(adapter *kubeadapter.Adapter, namespace string, podTemplate corev1.PodSpec, maxHomeVolumeSizeBytes int64, storageClass *string, log *zap.Logger) *Reconciler {
	return &Reconciler{
		adapter:                adapter,
		namespace:              namespace,
		podTemplate:            podTemplate,
		maxHomeVolumeSizeBytes: maxHomeVolumeSizeBytes,
		storageClass:           storageClass,
		log:                    log,
	}
}

// Name returns the deterministic object name shared by all three
// triplet members for a user.
func Name(username string) string {
	return "workspace-" + username
}

func podObjectMeta(username string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name: Name(username),
		Labels: map[string]string{
			labelWorkspacePod:  "true",
			labelWorkspaceUser: username,
		},
	}
}

// EnsureWorkspace brings the triplet for user into existence, in order
// (volume, service, pod), short-circuiting any step whose object already
// exists, then returns the derived status.
func (r *Reconciler) EnsureWorkspace(ctx context.Context, user User) (*Status, error) {
	if err := r.ensureHomeVolume(ctx, user.Username); err != nil {
		return nil, fmt.Errorf("workspace: ensuring home volume: %w", err)
	}

	svc, err := r.ensureUserService(ctx, user.Username)
	if err != nil {
		return nil, fmt.Errorf("workspace: ensuring service: %w", err)
	}

	pod, err := r.ensurePod(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("workspace: ensuring pod: %w", err)
	}

	node, err := r.nodeForPod(ctx, pod)
	if err != nil {
		return nil, fmt.Errorf("workspace: fetching node: %w", err)
	}

	return &Status{
		Phase:   phase.Classify(r.log, pod),
		Service: svc,
		Pod:     pod,
		Node:    node,
	}, nil
}

// WorkspaceStatus reports the current status of user's workspace without
// creating anything. If the pod or the service is absent the workspace is
// reported NotFound; a service that still exists is surfaced regardless.
func (r *Reconciler) WorkspaceStatus(ctx context.Context, user User) (*Status, error) {
	svc, err := r.adapter.GetServiceOpt(ctx, r.namespace, Name(user.Username))
	if err != nil {
		return nil, fmt.Errorf("workspace: getting service: %w", err)
	}

	pod, err := r.adapter.GetPodOpt(ctx, r.namespace, Name(user.Username))
	if err != nil {
		return nil, fmt.Errorf("workspace: getting pod: %w", err)
	}

	if svc == nil || pod == nil {
		return &Status{Phase: phase.NotFound, Service: svc}, nil
	}

	node, err := r.nodeForPod(ctx, pod)
	if err != nil {
		return nil, fmt.Errorf("workspace: fetching node: %w", err)
	}

	return &Status{
		Phase:   phase.Classify(r.log, pod),
		Service: svc,
		Pod:     pod,
		Node:    node,
	}, nil
}

// ShutdownWorkspace deletes the pod then the service, preserving the
// home volume. Not transactional: a failure after pod deletion leaves
// the service orphaned, which the next EnsureWorkspace call will not
// recreate (callers must ensure again).
func (r *Reconciler) ShutdownWorkspace(ctx context.Context, user User) error {
	name := Name(user.Username)

	if err := r.adapter.DeletePod(ctx, r.namespace, name); err != nil {
		return fmt.Errorf("workspace: deleting pod: %w", err)
	}
	if err := r.adapter.DeleteService(ctx, r.namespace, name); err != nil {
		return fmt.Errorf("workspace: deleting service: %w", err)
	}
	return nil
}

func (r *Reconciler) ensureHomeVolume(ctx context.Context, username string) error {
	name := Name(username)
	existing, err := r.adapter.GetPVCOpt(ctx, r.namespace, name)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: *resource.NewQuantity(r.maxHomeVolumeSizeBytes, resource.BinarySI),
				},
			},
			StorageClassName: r.storageClass,
		},
	}

	_, err = r.adapter.CreatePVC(ctx, r.namespace, pvc)
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

func (r *Reconciler) ensureUserService(ctx context.Context, username string) (*corev1.Service, error) {
	name := Name(username)
	existing, err := r.adapter.GetServiceOpt(ctx, r.namespace, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeNodePort,
			Selector: map[string]string{labelWorkspaceUser: username},
			Ports: []corev1.ServicePort{{
				Port:       22,
				TargetPort: intstr.FromString(sshPortName),
			}},
		},
	}

	created, err := r.adapter.CreateService(ctx, r.namespace, svc)
	if apierrors.IsAlreadyExists(err) {
		// Lost a create race (no per-user lock): the concurrent
		// caller's object is authoritative.
		return r.adapter.GetServiceOpt(ctx, r.namespace, name)
	}
	return created, err
}

func (r *Reconciler) ensurePod(ctx context.Context, user User) (*corev1.Pod, error) {
	name := Name(user.Username)
	existing, err := r.adapter.GetPodOpt(ctx, r.namespace, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	pod, err := renderPod(r.podTemplate, user.Username, user.SSHPublicKey, name)
	if err != nil {
		return nil, err
	}

	created, err := r.adapter.CreatePod(ctx, r.namespace, pod)
	if apierrors.IsAlreadyExists(err) {
		return r.adapter.GetPodOpt(ctx, r.namespace, name)
	}
	return created, err
}

func (r *Reconciler) nodeForPod(ctx context.Context, pod *corev1.Pod) (*corev1.Node, error) {
	if pod == nil || pod.Spec.NodeName == "" {
		return nil, nil
	}
	return r.adapter.GetNode(ctx, pod.Spec.NodeName)
}
