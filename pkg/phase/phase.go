// Package phase derives the externally observable WorkspacePhase from a
// Pod snapshot. It is a pure function shared by the workspace reconciler
// and the auto-shutdown loop.
package phase

import (
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
)

// WorkspacePhase is the coarse lifecycle state of a workspace pod as
// observed externally.
type WorkspacePhase string

const (
	NotFound    WorkspacePhase = "not_found"
	Starting    WorkspacePhase = "starting"
	Ready       WorkspacePhase = "ready"
	Terminating WorkspacePhase = "terminating"
	Unknown     WorkspacePhase = "unknown"
)

// Classify derives a WorkspacePhase from a Pod snapshot following the
// priority cascade: deletion timestamp, then status.phase, then container
// readiness. It never panics and only returns Unknown for the cases
// enumerated below.
func Classify(log *zap.Logger, pod *corev1.Pod) WorkspacePhase {
	if pod == nil {
		return NotFound
	}

	if pod.DeletionTimestamp != nil {
		return Terminating
	}

	switch pod.Status.Phase {
	case corev1.PodPending:
		return Starting
	case corev1.PodRunning:
		if allContainersReady(pod) {
			return Ready
		}
		return Starting
	case corev1.PodSucceeded, corev1.PodFailed:
		return Terminating
	case corev1.PodUnknown:
		return Unknown
	default:
		if log != nil {
			log.Warn("unrecognized pod phase", zap.String("pod", pod.Name), zap.String("phase", string(pod.Status.Phase)))
		}
		return Unknown
	}
}

func allContainersReady(pod *corev1.Pod) bool {
	if len(pod.Status.ContainerStatuses) == 0 {
		return false
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if !cs.Ready {
			return false
		}
	}
	return true
}
