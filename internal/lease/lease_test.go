package lease

import (
	"context"
	"testing"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func TestAcquireCreatesAbsentLease(t *testing.T) {
	cl := fake.NewClientBuilder().WithScheme(scheme.Scheme).Build()
	h := New(cl, "scriptguard-system", "webhook-leader", "pod-a")

	created, err := h.probeAndAcquire(context.Background())
	if err != nil {
		t.Fatalf("probeAndAcquire: %v", err)
	}
	if created == nil {
		t.Fatal("expected a created lease, got nil")
	}
	if *created.Spec.HolderIdentity != "pod-a" {
		t.Fatalf("holder = %q, want pod-a", *created.Spec.HolderIdentity)
	}
}

func TestProbeReturnsNilWhenHeldAndNotExpired(t *testing.T) {
	holder := "pod-a"
	now := metav1.NewMicroTime(time.Now())
	duration := int32(Duration.Seconds())
	existing := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{Namespace: "scriptguard-system", Name: "webhook-leader"},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &holder,
			AcquireTime:          &now,
			LeaseDurationSeconds: &duration,
		},
	}
	cl := fake.NewClientBuilder().WithScheme(scheme.Scheme).WithObjects(existing).Build()
	h := New(cl, "scriptguard-system", "webhook-leader", "pod-b")

	got, err := h.probeAndAcquire(context.Background())
	if err != nil {
		t.Fatalf("probeAndAcquire: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil (held by another, not expired), got %v", got)
	}
}

func TestProbeAcquiresExpiredLease(t *testing.T) {
	holder := "pod-a"
	staleRenew := metav1.NewMicroTime(time.Now().Add(-time.Hour))
	duration := int32(Duration.Seconds())
	existing := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{Namespace: "scriptguard-system", Name: "webhook-leader"},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &holder,
			RenewTime:            &staleRenew,
			LeaseDurationSeconds: &duration,
		},
	}
	cl := fake.NewClientBuilder().WithScheme(scheme.Scheme).WithObjects(existing).Build()
	h := New(cl, "scriptguard-system", "webhook-leader", "pod-b")

	got, err := h.probeAndAcquire(context.Background())
	if err != nil {
		t.Fatalf("probeAndAcquire: %v", err)
	}
	if got == nil {
		t.Fatal("expected the expired lease to be acquired")
	}
	if *got.Spec.HolderIdentity != "pod-b" {
		t.Fatalf("holder = %q, want pod-b", *got.Spec.HolderIdentity)
	}
	if *got.Spec.LeaseTransitions != 1 {
		t.Fatalf("transitions = %d, want 1", *got.Spec.LeaseTransitions)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	renew := metav1.NewMicroTime(now.Add(-10 * time.Second))
	duration := int32(5)

	stale := &coordinationv1.Lease{Spec: coordinationv1.LeaseSpec{RenewTime: &renew, LeaseDurationSeconds: &duration}}
	if !expired(stale, now) {
		t.Fatal("expected lease to be expired")
	}

	fresh := metav1.NewMicroTime(now.Add(-1 * time.Second))
	active := &coordinationv1.Lease{Spec: coordinationv1.LeaseSpec{RenewTime: &fresh, LeaseDurationSeconds: &duration}}
	if expired(active, now) {
		t.Fatal("expected lease to still be active")
	}
}

func TestRunAcquiresAndReleasesOnCancel(t *testing.T) {
	cl := fake.NewClientBuilder().WithScheme(scheme.Scheme).Build()
	h := New(cl, "scriptguard-system", "webhook-leader", "pod-a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	select {
	case <-h.Acquired():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Acquired()")
	}

	if !h.IsLeader() {
		t.Fatal("expected IsLeader() true after acquisition")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}

	var l coordinationv1.Lease
	key := client.ObjectKey{Namespace: "scriptguard-system", Name: "webhook-leader"}
	if err := cl.Get(context.Background(), key, &l); err != nil {
		t.Fatalf("get lease: %v", err)
	}
	if l.Spec.HolderIdentity != nil {
		t.Fatalf("expected holder to be cleared on release, got %q", *l.Spec.HolderIdentity)
	}
}
