/*
Copyright 2019 The Machine Controller Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	ctrlruntimelog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kubermatic/kube-workspace-operator/pkg/bootstrap"
	"github.com/kubermatic/kube-workspace-operator/pkg/config"
	"github.com/kubermatic/kube-workspace-operator/pkg/health"
	"github.com/kubermatic/kube-workspace-operator/pkg/httpapi"
	"github.com/kubermatic/kube-workspace-operator/pkg/kubeadapter"
	"github.com/kubermatic/kube-workspace-operator/pkg/metrics"
	"github.com/kubermatic/kube-workspace-operator/pkg/shutdown"
	"github.com/kubermatic/kube-workspace-operator/pkg/userdirectory"
	"github.com/kubermatic/kube-workspace-operator/pkg/version"
	"github.com/kubermatic/kube-workspace-operator/pkg/workspace"
)

func main() {
	masterURL := flag.String("master", "", "The address of the Kubernetes API server. Overrides any value in kubeconfig. Only required if out-of-cluster.")
	kubeconfig := flag.String("kubeconfig", "", "Path to a kubeconfig. Only required if out-of-cluster.")
	debug := flag.Bool("debug", false, "Enable debug-level logging.")
	flag.Parse()

	rawLog := newLogger(*debug)
	defer func() { _ = rawLog.Sync() }()
	log := rawLog.Sugar()

	ctrlruntimelog.SetLogger(zapr.NewLogger(rawLog.WithOptions(zap.AddCallerSkip(1))))

	log.Infow("starting kube-workspace-operator", "version", version.Get().String())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("invalid configuration", zap.Error(err))
	}

	restConfig, err := clientcmd.BuildConfigFromFlags(*masterURL, *kubeconfig)
	if err != nil {
		log.Fatalw("failed to build kubeconfig", zap.Error(err))
	}

	adapter, err := kubeadapter.New(restConfig, rawLog)
	if err != nil {
		log.Fatalw("failed to build kube adapter", zap.Error(err))
	}

	coreClient, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		log.Fatalw("failed to build core clientset", zap.Error(err))
	}

	metricsCollection := metrics.New()
	registry := prometheus.NewRegistry()
	metricsCollection.MustRegister(registry)

	supervisor := bootstrap.New(adapter, cfg.Namespace, cfg.AutoCreateNamespace, cfg.PrometheusExporter.AutoRegisterOperatorServiceMonitor, rawLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := supervisor.Start(ctx); err != nil {
		log.Fatalw("bootstrap failed", zap.Error(err))
	}

	directory := userdirectory.New(cfg.Users)
	reconciler := workspace.New(adapter, cfg.Namespace, cfg.PodTemplate, cfg.MaxHomeVolumeSizeBytes, cfg.StorageClass, rawLog)

	sweeper := shutdown.New(adapter, cfg.Namespace, cfg.AutoShutdown, supervisor, metricsCollection, rawLog)
	go sweeper.Run(ctx)

	apiServer := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: httpapi.New(directory, reconciler, rawLog).Handler(),
	}
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("http collaborator stopped", zap.Error(err))
		}
	}()

	var exporterServer *http.Server
	if cfg.PrometheusExporter.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.Handle("/healthz", &healthz.Handler{Checks: map[string]healthz.Checker{
			"apiserver": health.ApiserverReachable(coreClient),
			"namespace": health.NamespaceExists(coreClient, cfg.Namespace),
		}})

		exporterServer = &http.Server{Addr: cfg.PrometheusExporter.ServerAddress, Handler: mux}
		go func() {
			if err := exporterServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("exporter collaborator stopped", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), apiServerShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http collaborator did not drain cleanly", zap.Error(err))
	}
	if exporterServer != nil {
		if err := exporterServer.Shutdown(shutdownCtx); err != nil {
			log.Warnw("exporter collaborator did not drain cleanly", zap.Error(err))
		}
	}
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// apiServerShutdownTimeout bounds how long the collaborators get to
// drain in-flight requests before the process exits regardless.
const apiServerShutdownTimeout = 10 * time.Second
