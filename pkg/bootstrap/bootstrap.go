// Package bootstrap is the startup and steady-state supervisor (C6): it
// ensures the managed namespace exists before anything else runs, then
// best-effort registers a ServiceMonitor for the operator's own
// /metrics endpoint if the prometheus-operator CRD happens to be
// installed. Both operations are re-run on every auto-shutdown sweep
// tick, not just at startup, since the namespace or the CRD can
// disappear out from under a long-running operator.
package bootstrap

import (
	"context"
	"fmt"

	monitoringv1 "github.com/prometheus-operator/prometheus-operator/pkg/apis/monitoring/v1"
	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kubermatic/kube-workspace-operator/pkg/kubeadapter"
)

// serviceMonitorCRDName is the name prometheus-operator registers its
// ServiceMonitor CRD under; used only to probe for presence.
const serviceMonitorCRDName = "servicemonitors.monitoring.coreos.com"

const serviceMonitorName = "kube-workspace-prometheus-operator-servicemonitor"

// appLabel selects the operator's own pod(s) for the ServiceMonitor.
const appLabelKey = "app.kubernetes.io/name"
const appLabelValue = "kube-workspace-operator"

const prometheusPortName = "prometheus"

// Supervisor owns the operator's startup and per-tick bootstrap work.
// It implements shutdown.Bootstrapper.
type Supervisor struct {
	adapter             *kubeadapter.Adapter
	namespace           string
	autoCreateNamespace bool
	registerServiceMon  bool
	log                 *zap.Logger
}

// New builds a Supervisor.
func New(adapter *kubeadapter.Adapter, namespace string, autoCreateNamespace, registerServiceMon bool, log *zap.Logger) *Supervisor {
	return &Supervisor{
		adapter:             adapter,
		namespace:           namespace,
		autoCreateNamespace: autoCreateNamespace,
		registerServiceMon:  registerServiceMon,
		log:                 log,
	}
}

// Start runs the one-time startup checks: the namespace must exist (or
// be creatable), after which it calls MaybeEnsureServiceMonitor once
// before returning control to the caller. A missing namespace with
// auto_create_namespace disabled is fatal.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.EnsureNamespace(ctx); err != nil {
		return err
	}

	if err := s.MaybeEnsureServiceMonitor(ctx); err != nil {
		s.log.Warn("service monitor registration failed at startup, continuing", zap.Error(err))
	}

	return nil
}

// EnsureNamespace implements shutdown.Bootstrapper. It is idempotent:
// an existing namespace is a no-op.
func (s *Supervisor) EnsureNamespace(ctx context.Context) error {
	ns, err := s.adapter.GetNamespaceOpt(ctx, s.namespace)
	if err != nil {
		return fmt.Errorf("bootstrap: checking namespace %q: %w", s.namespace, err)
	}
	if ns != nil {
		return nil
	}

	if !s.autoCreateNamespace {
		return fmt.Errorf("bootstrap: namespace %q does not exist and auto_create_namespace is false", s.namespace)
	}

	if _, err := s.adapter.CreateNamespace(ctx, s.namespace); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("bootstrap: creating namespace %q: %w", s.namespace, err)
	}

	s.log.Info("created managed namespace", zap.String("namespace", s.namespace))
	return nil
}

// MaybeEnsureServiceMonitor implements shutdown.Bootstrapper. It is a
// silent, best-effort, never-fatal no-op whenever registration is
// disabled or the prometheus-operator CRD isn't installed in the
// cluster.
func (s *Supervisor) MaybeEnsureServiceMonitor(ctx context.Context) error {
	if !s.registerServiceMon {
		return nil
	}

	exists, err := s.adapter.CRDExists(ctx, serviceMonitorCRDName)
	if err != nil {
		return fmt.Errorf("bootstrap: probing for ServiceMonitor CRD: %w", err)
	}
	if !exists {
		s.log.Debug("prometheus-operator CRD not installed, skipping ServiceMonitor registration")
		return nil
	}

	existing, err := s.adapter.GetServiceMonitorOpt(ctx, s.namespace, serviceMonitorName)
	if err != nil {
		return fmt.Errorf("bootstrap: checking for existing ServiceMonitor: %w", err)
	}
	if existing != nil {
		return nil
	}

	sm := &monitoringv1.ServiceMonitor{
		ObjectMeta: metav1.ObjectMeta{
			Name:      serviceMonitorName,
			Namespace: s.namespace,
			Labels:    map[string]string{appLabelKey: appLabelValue},
		},
		Spec: monitoringv1.ServiceMonitorSpec{
			Selector: metav1.LabelSelector{
				MatchLabels: map[string]string{appLabelKey: appLabelValue},
			},
			Endpoints: []monitoringv1.Endpoint{
				{Port: prometheusPortName},
			},
		},
	}

	if err := s.adapter.CreateServiceMonitor(ctx, sm); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("bootstrap: creating ServiceMonitor: %w", err)
	}

	s.log.Info("registered ServiceMonitor", zap.String("name", serviceMonitorName), zap.String("namespace", s.namespace))
	return nil
}
