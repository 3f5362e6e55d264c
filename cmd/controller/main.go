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
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	rulesv1 "github.com/scriptguard/scriptguard/apis/v1"
	"github.com/scriptguard/scriptguard/internal/constants"
	"github.com/scriptguard/scriptguard/internal/controller"
	"github.com/scriptguard/scriptguard/internal/k8s"
	"github.com/scriptguard/scriptguard/internal/lease"
	"github.com/scriptguard/scriptguard/internal/watch"
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

	var metricsAddr string
	var probeAddr string
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8088", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")

	opts := zap.Options{}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg, err := loadConfig()
	if err != nil {
		setupLog.Error(err, "invalid controller configuration")
		retcode = 1
		return
	}

	restConfig := ctrl.GetConfigOrDie()
	leaseClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		setupLog.Error(err, "unable to build client")
		retcode = 1
		return
	}

	identity, err := os.Hostname()
	if err != nil || identity == "" {
		identity = uuid.NewString()
	}
	leaseHandle := lease.New(leaseClient, cfg.serviceNamespace, constants.LeaseName, identity)

	// A manager cannot be restarted once stopped, and a lost lease can be
	// re-acquired later in the same process, so each acquisition gets a
	// freshly built manager.
	newManager := func() (ctrl.Manager, *controller.CABundleStore, error) {
		mgr, err := setupManager(metricsAddr, probeAddr)
		if err != nil {
			return nil, nil, err
		}
		k8sClient, err := k8s.NewFromConfig(restConfig, mgr.GetClient())
		if err != nil {
			return nil, nil, fmt.Errorf("build orchestrator client: %w", err)
		}
		bundleStore := controller.NewCABundleStore()
		if err := setupReconcilers(mgr, cfg, k8sClient, bundleStore); err != nil {
			return nil, nil, err
		}
		return mgr, bundleStore, nil
	}

	ctx := ctrl.SetupSignalHandler()
	if err := runUnderLease(ctx, newManager, leaseHandle, cfg); err != nil {
		setupLog.Error(err, "controller run failed")
		retcode = 1
		return
	}
}

type config struct {
	serviceNamespace string
	serviceName      string
	servicePort      int32
	caBundlePath     string
	checkerImage     string
}

func loadConfig() (config, error) {
	ns, ok := os.LookupEnv(constants.EnvServiceNamespace)
	if !ok || ns == "" {
		return config{}, fmt.Errorf("missing required env var %s", constants.EnvServiceNamespace)
	}
	name, ok := os.LookupEnv(constants.EnvServiceName)
	if !ok || name == "" {
		return config{}, fmt.Errorf("missing required env var %s", constants.EnvServiceName)
	}
	portStr, ok := os.LookupEnv(constants.EnvServicePort)
	if !ok || portStr == "" {
		return config{}, fmt.Errorf("missing required env var %s", constants.EnvServicePort)
	}
	port, err := strconv.ParseInt(portStr, 10, 32)
	if err != nil {
		return config{}, fmt.Errorf("cannot parse %s=%q as a port: %w", constants.EnvServicePort, portStr, err)
	}
	caBundlePath, ok := os.LookupEnv(constants.EnvCABundlePath)
	if !ok || caBundlePath == "" {
		return config{}, fmt.Errorf("missing required env var %s", constants.EnvCABundlePath)
	}
	checkerImage, ok := os.LookupEnv(constants.EnvCheckerImage)
	if !ok || checkerImage == "" {
		return config{}, fmt.Errorf("missing required env var %s", constants.EnvCheckerImage)
	}

	return config{
		serviceNamespace: ns,
		serviceName:      name,
		servicePort:      int32(port),
		caBundlePath:     caBundlePath,
		checkerImage:     checkerImage,
	}, nil
}

func setupManager(metricsAddr, probeAddr string) (ctrl.Manager, error) {
	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress: metricsAddr,
		},
		HealthProbeBindAddress: probeAddr,
		// Leader election is handled by our own internal/lease state
		// machine, not by this option: the webhook server
		// and controller both need acquire/lose transitions as events,
		// which manager.Options.LeaderElection does not expose.
		LeaderElection: false,
	})
	if err != nil {
		return nil, fmt.Errorf("create manager: %w", err)
	}
	return mgr, nil
}

func setupReconcilers(mgr ctrl.Manager, cfg config, k8sClient *k8s.Client, bundleStore *controller.CABundleStore) error {
	svc := controller.ServiceRef{Namespace: cfg.serviceNamespace, Name: cfg.serviceName, Port: cfg.servicePort}

	if err := (&controller.RuleReconciler{
		Client:    mgr.GetClient(),
		K8sClient: k8sClient,
		Log:       ctrl.Log.WithName("validating-rule-reconciler"),
		Kind:      rulesv1.ValidatingKind,
		Service:   svc,
		Bundle:    bundleStore,
		NewRule:   func() rulesv1.Rule { return &rulesv1.ValidatingRule{} },
	}).SetupWithManager(mgr); err != nil {
		return errors.Join(errors.New("unable to create ValidatingRule controller"), err)
	}

	if err := (&controller.RuleReconciler{
		Client:    mgr.GetClient(),
		K8sClient: k8sClient,
		Log:       ctrl.Log.WithName("mutating-rule-reconciler"),
		Kind:      rulesv1.MutatingKind,
		Service:   svc,
		Bundle:    bundleStore,
		NewRule:   func() rulesv1.Rule { return &rulesv1.MutatingRule{} },
	}).SetupWithManager(mgr); err != nil {
		return errors.Join(errors.New("unable to create MutatingRule controller"), err)
	}

	if err := (&controller.PolicyReconciler{
		Client:       mgr.GetClient(),
		Log:          ctrl.Log.WithName("cron-policy-reconciler"),
		CheckerImage: cfg.checkerImage,
	}).SetupWithManager(mgr); err != nil {
		return errors.Join(errors.New("unable to create CronPolicy controller"), err)
	}
	return nil
}

// runUnderLease ensures reconcilers run only
// while this process holds the lease. It loops Acquired/Lost transitions,
// building and running a fresh manager (which owns all registered
// reconcilers plus the CA-bundle reloader watch) per acquisition, until
// ctx is canceled. The lease gets its own context, canceled only once the
// manager has fully stopped, so the next holder never starts against
// reconcilers that are still winding down here.
func runUnderLease(ctx context.Context, newManager func() (ctrl.Manager, *controller.CABundleStore, error), leaseHandle *lease.Handle, cfg config) error {
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
			setupLog.Info("acquired leader lease, starting reconcilers")
			mgr, bundleStore, err := newManager()
			if err != nil {
				return fmt.Errorf("build manager: %w", err)
			}
			runCtx, cancel := context.WithCancel(ctx)
			runDone := make(chan error, 1)
			go func() { runDone <- runManager(runCtx, mgr, cfg, bundleStore) }()

			select {
			case <-ctx.Done():
				cancel()
				<-runDone
				cancelLease()
				<-leaseErrCh
				return nil
			case <-leaseHandle.Lost():
				setupLog.Info("lost leader lease, stopping reconcilers")
				cancel()
				<-runDone
			case err := <-runDone:
				cancel()
				if err != nil {
					return err
				}
			}
		}
	}
}

func runManager(ctx context.Context, mgr ctrl.Manager, cfg config, bundleStore *controller.CABundleStore) error {
	reloader := &controller.CABundleReloader{
		Client: mgr.GetClient(),
		Log:    ctrl.Log.WithName("ca-bundle-reloader"),
		Store:  bundleStore,
	}
	watcher, err := watch.NewFile(cfg.caBundlePath, reloader.OnChange)
	if err != nil {
		return fmt.Errorf("watch ca bundle path %s: %w", cfg.caBundlePath, err)
	}
	defer watcher.Close()
	if err := watcher.LoadInitial(); err != nil {
		return fmt.Errorf("load initial ca bundle: %w", err)
	}

	go func() {
		if err := watcher.Run(ctx); err != nil {
			setupLog.Error(err, "ca bundle watcher stopped")
		}
	}()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("run manager: %w", err)
	}
	return nil
}
