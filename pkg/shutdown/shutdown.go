// Package shutdown implements the auto-shutdown control loop (C5): a
// periodic sweep that joins pod inventory with a resource-metrics feed
// and an in-cluster TCP-connection probe, persists per-pod idle
// timestamps as annotations, and deletes pods whose configured idle
// thresholds have been met.
package shutdown

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"

	"github.com/kubermatic/kube-workspace-operator/pkg/annotation"
	"github.com/kubermatic/kube-workspace-operator/pkg/config"
	"github.com/kubermatic/kube-workspace-operator/pkg/kubeadapter"
	"github.com/kubermatic/kube-workspace-operator/pkg/metrics"
	"github.com/kubermatic/kube-workspace-operator/pkg/phase"
	"github.com/kubermatic/kube-workspace-operator/pkg/quantity"
)

// TickInterval is the fixed sweep period.
const TickInterval = 30 * time.Second

// podLabelSelector matches every pod the operator owns, regardless of
// which user it belongs to.
const podLabelSelector = "workspace-pod=true"

const workspaceContainer = "workspace"

// Bootstrapper is the subset of the bootstrap supervisor's
// responsibilities the sweeper re-runs on every tick: the namespace must
// keep existing, and the optional ServiceMonitor registration is
// best-effort per tick, not just at startup.
type Bootstrapper interface {
	EnsureNamespace(ctx context.Context) error
	MaybeEnsureServiceMonitor(ctx context.Context) error
}

// Loop is the single-threaded periodic sweeper.
type Loop struct {
	adapter      *kubeadapter.Adapter
	namespace    string
	autoShutdown config.AutoShutdown
	bootstrap    Bootstrapper
	metrics      *metrics.Collection
	log          *zap.Logger
}

// New builds a Loop. autoShutdown and bootstrap are read on every tick,
// never mutated by the loop itself.
func New(adapter *kubeadapter.Adapter, namespace string, autoShutdown config.AutoShutdown, bootstrap Bootstrapper, m *metrics.Collection, log *zap.Logger) *Loop {
	return &Loop{
		adapter:      adapter,
		namespace:    namespace,
		autoShutdown: autoShutdown,
		bootstrap:    bootstrap,
		metrics:      m,
		log:          log,
	}
}

// Run ticks every TickInterval until ctx is canceled, running one sweep
// per tick. A slow tick simply delays the next; the tick budget is
// unbounded.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RunChecks(ctx)
		}
	}
}

// RunChecks performs one sweep: bootstrap, inventory, phase counters,
// and (if enabled) per-pod auto-shutdown. Each pod's auto-shutdown work
// is isolated so one pod's exec failure cannot abort the tick.
func (l *Loop) RunChecks(ctx context.Context) {
	tickID := uuid.New().String()
	log := l.log.With(zap.String("tick_id", tickID))

	if err := l.bootstrap.EnsureNamespace(ctx); err != nil {
		log.Warn("namespace re-ensure failed, continuing", zap.Error(err))
	}

	pods, err := l.adapter.ListPodsAll(ctx, l.namespace, podLabelSelector)
	if err != nil {
		log.Error("listing workspace pods failed, skipping this tick", zap.Error(err))
		return
	}

	podMetrics, metricsAvailable := l.collectMetrics(ctx)

	cpuByPod := make(map[string]int64, len(podMetrics))
	for _, pm := range podMetrics {
		cpuByPod[pm.Name] = sumContainerCPU(pm)
	}

	var available, unavailable, deleted int
	enabled := l.autoShutdown.Enabled()

	for i := range pods {
		pod := &pods[i]

		switch phase.Classify(log, pod) {
		case phase.Ready:
			available++
		case phase.Starting:
			unavailable++
		}

		if !enabled {
			continue
		}

		if l.processPod(ctx, pod, cpuByPod[pod.Name]) {
			deleted++
		}
	}

	l.metrics.Available.Set(float64(available))
	l.metrics.Unavailable.Set(float64(unavailable))

	if err := l.bootstrap.MaybeEnsureServiceMonitor(ctx); err != nil {
		log.Warn("service monitor ensure failed", zap.Error(err))
	}

	log.Info("sweep tick complete",
		zap.Int("pods", len(pods)),
		zap.Int("deleted", deleted),
		zap.Bool("metrics_available", metricsAvailable),
	)
}

func (l *Loop) collectMetrics(ctx context.Context) ([]metricsv1beta1.PodMetrics, bool) {
	podMetrics, err := l.adapter.PodMetricsListAll(ctx, l.namespace)
	if err != nil {
		l.log.Warn("metrics unavailable, continuing sweep with no metrics", zap.Error(err))
		return nil, false
	}
	return podMetrics, true
}

// processPod runs the idle bookkeeping and shutdown decision for a
// single pod, returning true if the pod was deleted this tick.
func (l *Loop) processPod(ctx context.Context, pod *corev1.Pod, podCPU int64) bool {
	now := time.Now().UTC()

	annot := annotation.FromPod(pod).InvalidateIfStale(now)

	cpuIdle := l.cpuIsIdle(podCPU)
	networkIdle, err := l.networkIsIdle(ctx, pod)
	if err != nil {
		l.log.Warn("exec probe failed, skipping pod this tick", zap.String("pod", pod.Name), zap.Error(err))
		return false
	}

	next := annotation.IdleAnnotation{LastIdleCheck: &now}
	if cpuIdle {
		next.CPUIdleSince = firstNonNil(annot.CPUIdleSince, now)
	}
	if networkIdle {
		next.NetworkIdleSince = firstNonNil(annot.NetworkIdleSince, now)
	}

	if ShouldShutdown(next, l.autoShutdown, now) {
		if err := l.adapter.DeletePod(ctx, l.namespace, pod.Name); err != nil {
			l.log.Warn("deleting idle pod failed", zap.String("pod", pod.Name), zap.Error(err))
			return false
		}
		return true
	}

	serialized, err := next.Serialize()
	if err != nil {
		l.log.Warn("serializing idle annotation failed", zap.String("pod", pod.Name), zap.Error(err))
		return false
	}
	if err := l.adapter.PatchPodAnnotations(ctx, l.namespace, pod.Name, map[string]string{annotation.Key: serialized}); err != nil {
		l.log.Warn("patching idle annotation failed", zap.String("pod", pod.Name), zap.Error(err))
	}
	return false
}

// cpuIsIdle reproduces the source predicate bug-for-bug: "idle" is true
// when total CPU usage is GREATER than the configured threshold, which
// is inverted from the name. See DESIGN.md Open Questions.
func (l *Loop) cpuIsIdle(totalMilliCPU int64) bool {
	cfg := l.autoShutdown.CPUUsage
	if cfg == nil {
		return false
	}
	return totalMilliCPU > cfg.CPUThreshold
}

// networkIsIdle execs `ss --tcp --oneline --no-header` in the workspace
// container and reports idle iff it printed zero lines.
func (l *Loop) networkIsIdle(ctx context.Context, pod *corev1.Pod) (bool, error) {
	out, err := l.adapter.Exec(ctx, l.namespace, pod.Name, workspaceContainer, []string{"ss", "--tcp", "--oneline", "--no-header"})
	if err != nil {
		return false, err
	}

	return lineCount(out) == 0, nil
}

// lineCount counts the lines of the whitespace-trimmed exec output
// (zero for empty or all-whitespace output), used by
// networkIsIdle's idle predicate (count == 0).
func lineCount(out string) int {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return 0
	}
	return len(strings.Split(trimmed, "\n"))
}

func sumContainerCPU(pm metricsv1beta1.PodMetrics) int64 {
	var total int64
	for _, c := range pm.Containers {
		cpu := c.Usage.Cpu()
		if cpu == nil {
			continue
		}
		n, err := quantity.Parse(cpu.String())
		if err != nil {
			continue
		}
		total += n
	}
	return total
}

func firstNonNil(existing *time.Time, now time.Time) *time.Time {
	if existing != nil {
		t := *existing
		return &t
	}
	t := now
	return &t
}

// ShouldShutdown decides whether a pod has been idle long enough to
// delete: every configured idle dimension must individually clear its
// own minimum idle time; an unconfigured dimension imposes no
// constraint; if neither dimension is configured the rule returns
// false.
func ShouldShutdown(annot annotation.IdleAnnotation, cfg config.AutoShutdown, now time.Time) bool {
	mark := false

	if cfg.TCPIdle != nil {
		if annot.NetworkIdleSince == nil {
			return false
		}
		if now.Sub(*annot.NetworkIdleSince) <= cfg.TCPIdle.MinimumIdleTime {
			return false
		}
		mark = true
	}

	if cfg.CPUUsage != nil {
		if annot.CPUIdleSince == nil {
			return false
		}
		if now.Sub(*annot.CPUIdleSince) <= cfg.CPUUsage.MinimumIdleTime {
			return false
		}
		mark = true
	}

	return mark
}
