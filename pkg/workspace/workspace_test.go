package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/kubermatic/kube-workspace-operator/pkg/kubeadapter"
	"github.com/kubermatic/kube-workspace-operator/pkg/phase"
)

const namespace = "ws"
const testKey = "ssh-ed25519 AAA..."

func newReconciler() *Reconciler {
	client := fake.NewSimpleClientset()
	adapter := kubeadapter.NewFromClients(client, nil, nil, nil, nil)
	return New(adapter, namespace, corev1.PodSpec{}, 10<<30, nil, nil)
}

func TestEnsureWorkspaceColdStart(t *testing.T) {
	r := newReconciler()
	user := User{Username: "alice", SSHPublicKey: testKey}

	status, err := r.EnsureWorkspace(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, phase.Starting, status.Phase)
	assert.Nil(t, status.Node)

	pvc, err := r.adapter.GetPVCOpt(context.Background(), namespace, "workspace-alice")
	require.NoError(t, err)
	require.NotNil(t, pvc)
	assert.Equal(t, corev1.ReadWriteOnce, pvc.Spec.AccessModes[0])

	svc, err := r.adapter.GetServiceOpt(context.Background(), namespace, "workspace-alice")
	require.NoError(t, err)
	require.NotNil(t, svc)
	assert.Equal(t, corev1.ServiceTypeNodePort, svc.Spec.Type)
	assert.Equal(t, "alice", svc.Spec.Selector[labelWorkspaceUser])

	pod, err := r.adapter.GetPodOpt(context.Background(), namespace, "workspace-alice")
	require.NoError(t, err)
	require.NotNil(t, pod)
	assert.Equal(t, "true", pod.Labels[labelWorkspacePod])
	assert.Equal(t, "ubuntu", pod.Spec.Containers[0].Image)
}

func TestEnsureWorkspaceIsIdempotent(t *testing.T) {
	r := newReconciler()
	user := User{Username: "alice", SSHPublicKey: testKey}
	ctx := context.Background()

	_, err := r.EnsureWorkspace(ctx, user)
	require.NoError(t, err)

	status, err := r.EnsureWorkspace(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, phase.Starting, status.Phase)
}

func TestWorkspaceStatusNotFound(t *testing.T) {
	r := newReconciler()
	status, err := r.WorkspaceStatus(context.Background(), User{Username: "bob"})
	require.NoError(t, err)
	assert.Equal(t, phase.NotFound, status.Phase)
	assert.Nil(t, status.Pod)
}

func TestShutdownWorkspacePreservesVolume(t *testing.T) {
	r := newReconciler()
	ctx := context.Background()
	user := User{Username: "alice", SSHPublicKey: testKey}

	_, err := r.EnsureWorkspace(ctx, user)
	require.NoError(t, err)

	require.NoError(t, r.ShutdownWorkspace(ctx, user))

	status, err := r.WorkspaceStatus(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, phase.NotFound, status.Phase)

	pvc, err := r.adapter.GetPVCOpt(ctx, namespace, "workspace-alice")
	require.NoError(t, err)
	assert.NotNil(t, pvc, "home volume must survive shutdown")
}

func TestNameIsDeterministic(t *testing.T) {
	assert.Equal(t, "workspace-alice", Name("alice"))
}

func TestRenderPodSetsUpSSH(t *testing.T) {
	pod, err := renderPod(corev1.PodSpec{}, "alice", testKey, "workspace-alice")
	require.NoError(t, err)

	c := pod.Spec.Containers[0]
	assert.Equal(t, "workspace", c.Name)
	assert.Equal(t, "ubuntu", c.Image)
	require.Len(t, c.Command, 3)
	assert.Contains(t, c.Command[2], "adduser --gecos \"\" --no-create-home --disabled-password alice")
	assert.Contains(t, c.Command[2], testKey)
	require.NotNil(t, c.ReadinessProbe)
	assert.Equal(t, "ssh", c.ReadinessProbe.TCPSocket.Port.StrVal)
	assert.Equal(t, int32(60), c.ReadinessProbe.InitialDelaySeconds)

	var homeVol *corev1.Volume
	for i := range pod.Spec.Volumes {
		if pod.Spec.Volumes[i].Name == "home" {
			homeVol = &pod.Spec.Volumes[i]
		}
	}
	require.NotNil(t, homeVol)
	assert.Equal(t, "workspace-alice", homeVol.PersistentVolumeClaim.ClaimName)
}
