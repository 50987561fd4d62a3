// Package annotation models the IdleAnnotation JSON payload the
// auto-shutdown loop persists on each workspace pod, under the
// "kube-workspaces.foundational.cc/pod-data" annotation key.
package annotation

import (
	"encoding/json"
	"time"

	corev1 "k8s.io/api/core/v1"
)

// Key is the pod annotation key the auto-shutdown loop reads and writes.
const Key = "kube-workspaces.foundational.cc/pod-data"

// staleAfter is the gap between LastIdleCheck and "now" beyond which both
// idle-since fields are invalidated. Not configurable in spec.
const staleAfter = 5 * time.Minute

// IdleAnnotation is the per-pod idle-tracking state. All fields are
// optional and, when present, wall-clock UTC.
type IdleAnnotation struct {
	LastIdleCheck    *time.Time `json:"last_idle_check,omitempty"`
	CPUIdleSince     *time.Time `json:"cpu_idle_since,omitempty"`
	NetworkIdleSince *time.Time `json:"network_idle_since,omitempty"`
}

// Parse decodes a serialized annotation. Absence or a parse failure both
// yield an empty annotation rather than an error, so a corrupt or missing
// annotation just restarts idle tracking from scratch.
func Parse(raw string) IdleAnnotation {
	if raw == "" {
		return IdleAnnotation{}
	}
	var a IdleAnnotation
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return IdleAnnotation{}
	}
	return a
}

// FromPod reads and parses the annotation off a pod, or returns an empty
// annotation if the pod is nil or the key is absent.
func FromPod(pod *corev1.Pod) IdleAnnotation {
	if pod == nil || pod.Annotations == nil {
		return IdleAnnotation{}
	}
	raw, ok := pod.Annotations[Key]
	if !ok {
		return IdleAnnotation{}
	}
	return Parse(raw)
}

// Serialize encodes the annotation back to its JSON string form.
func (a IdleAnnotation) Serialize() (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// InvalidateIfStale clears both idle-since fields when the gap between
// LastIdleCheck and now exceeds the staleness threshold.
func (a IdleAnnotation) InvalidateIfStale(now time.Time) IdleAnnotation {
	if a.LastIdleCheck != nil && now.Sub(*a.LastIdleCheck) > staleAfter {
		a.CPUIdleSince = nil
		a.NetworkIdleSince = nil
	}
	return a
}
