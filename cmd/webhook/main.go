/*
Copyright 2021.

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
	"fmt"
	"os"

	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
	"github.com/scriptguard/scriptguard/internal/admission"
	"github.com/scriptguard/scriptguard/internal/constants"
	"github.com/scriptguard/scriptguard/internal/discovery"
	"github.com/scriptguard/scriptguard/internal/k8s"
	"github.com/scriptguard/scriptguard/internal/lease"
	"github.com/scriptguard/scriptguard/internal/metrics"
	"github.com/scriptguard/scriptguard/internal/server"
)

//nolint:gochecknoglobals // following the kubebuilder pattern
var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(rulesv1.AddToScheme(scheme))
}

func main() {
	retcode := 0
	defer func() { os.Exit(retcode) }()

	opts := zap.Options{}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg, err := loadConfig()
	if err != nil {
		setupLog.Error(err, "invalid webhook configuration")
		retcode = 1
		return
	}

	restConfig := ctrl.GetConfigOrDie()
	typedClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		setupLog.Error(err, "unable to build client")
		retcode = 1
		return
	}
	k8sClient, err := k8s.NewFromConfig(restConfig, typedClient)
	if err != nil {
		setupLog.Error(err, "unable to build orchestrator client")
		retcode = 1
		return
	}
	resolver := discovery.New(k8sClient.Discovery)

	recorder, err := metrics.New(context.Background(), "")
	if err != nil {
		setupLog.Error(err, "unable to initialize metrics provider, continuing without metrics")
	}

	evaluator := &admission.Evaluator{
		Client:    typedClient,
		K8sClient: k8sClient,
		Resolver:  resolver,
		Logger:    ctrl.Log.WithName("admission-evaluator"),
	}
	normalizer := &server.PolicyNormalizer{Resolver: resolver}

	var metricsRecorder metrics.Recorder
	if recorder != nil {
		metricsRecorder = recorder
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.MetricsShutdownTimeout)
			defer cancel()
			if err := recorder.Shutdown(shutdownCtx); err != nil {
				setupLog.Error(err, "unable to shutdown telemetry")
			}
		}()
	}

	identity, err := os.Hostname()
	if err != nil || identity == "" {
		identity = uuid.NewString()
	}
	leaseHandle := lease.New(typedClient, cfg.serviceNamespace, constants.LeaseName, identity)

	newServer := func() *server.Server {
		return server.New(cfg.listenAddr, evaluator, normalizer, metricsRecorder, ctrl.Log.WithName("webhook-server"))
	}

	ctx := ctrl.SetupSignalHandler()
	if err := runUnderLease(ctx, newServer, leaseHandle, cfg); err != nil {
		setupLog.Error(err, "webhook server run failed")
		retcode = 1
		return
	}
}

type config struct {
	certPath         string
	keyPath          string
	listenAddr       string
	serviceNamespace string
}

func loadConfig() (config, error) {
	certPath, ok := os.LookupEnv(constants.EnvCertPath)
	if !ok || certPath == "" {
		return config{}, fmt.Errorf("missing required env var %s", constants.EnvCertPath)
	}
	keyPath, ok := os.LookupEnv(constants.EnvKeyPath)
	if !ok || keyPath == "" {
		return config{}, fmt.Errorf("missing required env var %s", constants.EnvKeyPath)
	}
	listenAddr := constants.DefaultListenAddr
	if v, ok := os.LookupEnv(constants.EnvListenAddr); ok && v != "" {
		listenAddr = v
	}
	serviceNamespace, ok := os.LookupEnv(constants.EnvServiceNamespace)
	if !ok || serviceNamespace == "" {
		return config{}, fmt.Errorf("missing required env var %s", constants.EnvServiceNamespace)
	}
	return config{certPath: certPath, keyPath: keyPath, listenAddr: listenAddr, serviceNamespace: serviceNamespace}, nil
}

// runUnderLease starts serving only while this process holds the lease
// (only the lease holder may sink webhook traffic), gracefully
// draining on loss or shutdown and re-contending afterward.
func runUnderLease(ctx context.Context, newServer func() *server.Server, leaseHandle *lease.Handle, cfg config) error {
	// The lease's own context is canceled only after the server has fully
	// drained, so the next holder cannot start while requests are still in
	// flight here.
	leaseCtx, cancelLease := context.WithCancel(context.Background())
	defer cancelLease()
	leaseErrCh := make(chan error, 1)
	go func() { leaseErrCh <- leaseHandle.Run(leaseCtx) }()

	for {
		select {
		case <-ctx.Done():
			cancelLease()
			<-leaseErrCh
			return nil
		case err := <-leaseErrCh:
			return err
		case <-leaseHandle.Acquired():
			setupLog.Info("acquired leader lease, starting webhook server")
			// A fresh *server.Server per acquisition: http.Server cannot be
			// restarted once Shutdown has closed its listeners, and a lost
			// lease can be re-acquired later in the same process.
			if err := serveUntilLostOrDone(ctx, newServer(), leaseHandle, cfg); err != nil {
				return err
			}
		}
	}
}

func serveUntilLostOrDone(ctx context.Context, srv *server.Server, leaseHandle *lease.Handle, cfg config) error {
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if err := srv.WatchTLS(watchCtx, cfg.certPath, cfg.keyPath); err != nil {
		return fmt.Errorf("watch tls material: %w", err)
	}

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.ListenAndServeTLS() }()

	select {
	case <-ctx.Done():
		_ = srv.Shutdown(context.Background())
		<-serveErrCh
		return nil
	case <-leaseHandle.Lost():
		setupLog.Info("lost leader lease, draining webhook server")
		_ = srv.Shutdown(context.Background())
		<-serveErrCh
		return nil
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("serve tls: %w", err)
		}
		return nil
	}
}
