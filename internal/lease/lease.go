// Package lease implements scriptguard's single-holder leader election on
// top of a coordination/v1 Lease object. It deliberately does not use
// controller-runtime's built-in leader-elector: the webhook and controller
// binaries both need to observe acquire/lose transitions as events (to
// start and stop the HTTPS server and the reconcilers' manager), which the
// stock elector does not expose as a channel pair.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

var logger = ctrl.Log.WithName("lease")

// Duration is both the lease's advertised duration and the renewal
// interval.
const Duration = 5 * time.Second

// Handle represents one process's participation in the leader election for
// a single Lease object. Acquired and Lost deliver one event per
// transition; callers should select on them rather than polling IsLeader.
type Handle struct {
	client   client.Client
	key      client.ObjectKey
	identity string

	acquired chan struct{}
	lost     chan struct{}

	mu      sync.Mutex
	holding bool
}

// New creates a Handle for the named Lease. Run must be called to start
// participating in the election.
func New(c client.Client, namespace, name, identity string) *Handle {
	return &Handle{
		client:   c,
		key:      client.ObjectKey{Namespace: namespace, Name: name},
		identity: identity,
		acquired: make(chan struct{}, 1),
		lost:     make(chan struct{}, 1),
	}
}

// Acquired fires once per successful acquisition.
func (h *Handle) Acquired() <-chan struct{} { return h.acquired }

// Lost fires once per loss of the lease, whether from explicit Release or
// from a failed renewal.
func (h *Handle) Lost() <-chan struct{} { return h.lost }

// Run drives the Probe/Create/Hold state machine until ctx is canceled,
// releasing the lease synchronously on the way out.
func (h *Handle) Run(ctx context.Context) error {
	for {
		acquiredLease, err := h.probeAndAcquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if acquiredLease == nil {
			// Another holder has an unexpired lease; sleep and retry.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(Duration):
				continue
			}
		}

		h.enterHold(ctx)

		if ctx.Err() != nil {
			h.release(context.Background())
			return nil
		}
		// Renewal failed; loop back to Probe to contest the lease again.
	}
}

// probeAndAcquire implements steps 1-4 of the spec's state machine. A nil,
// nil return means the lease is held by someone else and not yet expired.
func (h *Handle) probeAndAcquire(ctx context.Context) (*coordinationv1.Lease, error) {
	existing := &coordinationv1.Lease{}
	err := h.client.Get(ctx, h.key, existing)
	switch {
	case apierrors.IsNotFound(err):
		created, createErr := h.create(ctx)
		if apierrors.IsAlreadyExists(createErr) {
			return nil, nil // race: someone else created it; Probe again next loop.
		}
		if createErr != nil {
			return nil, fmt.Errorf("create lease %s/%s: %w", h.key.Namespace, h.key.Name, createErr)
		}
		return created, nil
	case err != nil:
		return nil, fmt.Errorf("get lease %s/%s: %w", h.key.Namespace, h.key.Name, err)
	}

	if !expired(existing, time.Now()) {
		return nil, nil
	}

	acquired, err := h.acquireExpired(ctx, existing)
	if apierrors.IsConflict(err) {
		return nil, nil // Probe again next loop.
	}
	if err != nil {
		return nil, fmt.Errorf("acquire expired lease %s/%s: %w", h.key.Namespace, h.key.Name, err)
	}
	return acquired, nil
}

func (h *Handle) create(ctx context.Context) (*coordinationv1.Lease, error) {
	now := metav1.NewMicroTime(time.Now())
	durationSeconds := int32(Duration.Seconds())
	transitions := int32(1)
	l := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: h.key.Namespace,
			Name:      h.key.Name,
		},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &h.identity,
			AcquireTime:          &now,
			LeaseDurationSeconds: &durationSeconds,
			LeaseTransitions:     &transitions,
		},
	}
	if err := h.client.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (h *Handle) acquireExpired(ctx context.Context, existing *coordinationv1.Lease) (*coordinationv1.Lease, error) {
	patch := client.MergeFrom(existing.DeepCopy())
	updated := existing.DeepCopy()
	now := metav1.NewMicroTime(time.Now())
	durationSeconds := int32(Duration.Seconds())

	transitions := int32(0)
	if updated.Spec.LeaseTransitions != nil {
		transitions = *updated.Spec.LeaseTransitions
	}
	transitions++

	updated.Spec.HolderIdentity = &h.identity
	updated.Spec.AcquireTime = &now
	updated.Spec.RenewTime = nil
	updated.Spec.LeaseDurationSeconds = &durationSeconds
	updated.Spec.LeaseTransitions = &transitions

	if err := h.client.Patch(ctx, updated, patch); err != nil {
		return nil, err
	}
	return updated, nil
}

// expired applies the expiry rule: renewTime if set, else
// acquireTime, else expired.
func expired(l *coordinationv1.Lease, now time.Time) bool {
	duration := Duration
	if l.Spec.LeaseDurationSeconds != nil {
		duration = time.Duration(*l.Spec.LeaseDurationSeconds) * time.Second
	}
	switch {
	case l.Spec.RenewTime != nil:
		return now.After(l.Spec.RenewTime.Add(duration))
	case l.Spec.AcquireTime != nil:
		return now.After(l.Spec.AcquireTime.Add(duration))
	default:
		return true
	}
}

// enterHold runs the renewal loop and blocks until the lease is lost or ctx
// is canceled. Lost() fires exactly once on exit unless ctx was canceled
// (in which case Run releases explicitly afterwards).
func (h *Handle) enterHold(ctx context.Context) {
	h.mu.Lock()
	h.holding = true
	h.mu.Unlock()

	select {
	case h.acquired <- struct{}{}:
	default:
	}
	logger.Info("acquired lease", "lease", h.key.String(), "identity", h.identity)

	ticker := time.NewTicker(Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Still holding: Run's release path clears the lease object
			// and flips the flag.
			return
		case <-ticker.C:
			if err := h.renew(ctx); err != nil {
				logger.Error(err, "failed to renew lease, relinquishing", "lease", h.key.String())
				h.mu.Lock()
				h.holding = false
				h.mu.Unlock()
				select {
				case h.lost <- struct{}{}:
				default:
				}
				return
			}
		}
	}
}

func (h *Handle) renew(ctx context.Context) error {
	existing := &coordinationv1.Lease{}
	if err := h.client.Get(ctx, h.key, existing); err != nil {
		return fmt.Errorf("get lease for renewal: %w", err)
	}
	if existing.Spec.HolderIdentity == nil || *existing.Spec.HolderIdentity != h.identity {
		return errors.New("lease no longer held by this identity")
	}
	patch := client.MergeFrom(existing.DeepCopy())
	updated := existing.DeepCopy()
	now := metav1.NewMicroTime(time.Now())
	updated.Spec.RenewTime = &now
	return h.client.Patch(ctx, updated, patch)
}

// Release relinquishes the lease immediately, patch-merging the holder
// fields back to empty. It is safe to call even if the lease was never
// held.
func (h *Handle) Release(ctx context.Context) error {
	return h.release(ctx)
}

func (h *Handle) release(ctx context.Context) error {
	h.mu.Lock()
	wasHolding := h.holding
	h.holding = false
	h.mu.Unlock()
	if !wasHolding {
		return nil
	}

	existing := &coordinationv1.Lease{}
	if err := h.client.Get(ctx, h.key, existing); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("get lease for release: %w", err)
	}
	patch := client.MergeFrom(existing.DeepCopy())
	updated := existing.DeepCopy()
	updated.Spec.RenewTime = nil
	updated.Spec.AcquireTime = nil
	updated.Spec.HolderIdentity = nil
	if err := h.client.Patch(ctx, updated, patch); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	select {
	case h.lost <- struct{}{}:
	default:
	}
	logger.Info("released lease", "lease", h.key.String(), "identity", h.identity)
	return nil
}

// IsLeader reports whether this process currently believes it holds the
// lease. Prefer Acquired()/Lost() for driving behavior; this is for
// diagnostics and test assertions.
func (h *Handle) IsLeader() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.holding
}
