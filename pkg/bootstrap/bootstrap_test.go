package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsfake "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset/fake"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"go.uber.org/zap"

	"github.com/kubermatic/kube-workspace-operator/pkg/kubeadapter"
)

const namespace = "kube-workspaces"

func newSupervisor(apiext *apiextensionsfake.Clientset, autoCreate, registerServiceMon bool) *Supervisor {
	core := fake.NewSimpleClientset()
	adapter := kubeadapter.NewFromClients(core, nil, apiext, nil, zap.NewNop())
	return New(adapter, namespace, autoCreate, registerServiceMon, zap.NewNop())
}

func TestEnsureNamespaceCreatesWhenAbsent(t *testing.T) {
	s := newSupervisor(apiextensionsfake.NewSimpleClientset(), true, false)
	require.NoError(t, s.EnsureNamespace(context.Background()))

	ns, err := s.adapter.GetNamespaceOpt(context.Background(), namespace)
	require.NoError(t, err)
	assert.NotNil(t, ns)
}

func TestEnsureNamespaceIsIdempotent(t *testing.T) {
	s := newSupervisor(apiextensionsfake.NewSimpleClientset(), true, false)
	require.NoError(t, s.EnsureNamespace(context.Background()))
	require.NoError(t, s.EnsureNamespace(context.Background()))
}

func TestEnsureNamespaceFailsClosedWithoutAutoCreate(t *testing.T) {
	s := newSupervisor(apiextensionsfake.NewSimpleClientset(), false, false)
	err := s.EnsureNamespace(context.Background())
	assert.Error(t, err)
}

func TestMaybeEnsureServiceMonitorSkipsWithoutCRD(t *testing.T) {
	s := newSupervisor(apiextensionsfake.NewSimpleClientset(), true, true)
	assert.NoError(t, s.MaybeEnsureServiceMonitor(context.Background()))
}

func TestMaybeEnsureServiceMonitorSkipsWhenDisabled(t *testing.T) {
	crd := &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{Name: serviceMonitorCRDName},
	}
	s := newSupervisor(apiextensionsfake.NewSimpleClientset(crd), true, false)
	assert.NoError(t, s.MaybeEnsureServiceMonitor(context.Background()))
}
