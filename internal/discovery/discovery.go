// Package discovery resolves the {group, version} pairs that host a given
// Kind in the running cluster. It backs the policy-admission
// mutating webhook's GVR normalization and the capability
// client's plural lookup when a ResourceSelector omits `plural`.
package discovery

import (
	"fmt"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
)

// GroupVersion is a resolved {group, version} pair.
type GroupVersion struct {
	Group   string
	Version string
}

// cacheTTL bounds the staleness of the discovery cache. Resolution is
// linear in cluster schema size and runs on every CronPolicy admission, so
// a short-lived cache keeps repeat lookups off the API server.
const cacheTTL = 30 * time.Second

type cacheEntry struct {
	resources []*metav1.APIResourceList
	fetchedAt time.Time
}

// Resolver wraps a discovery.DiscoveryInterface with the kind-lookup and
// plural-resolution logic the policy webhook and capability client need.
type Resolver struct {
	client discovery.DiscoveryInterface

	mu    sync.Mutex
	cache *cacheEntry
}

// New builds a Resolver over client.
func New(client discovery.DiscoveryInterface) *Resolver {
	return &Resolver{client: client}
}

// ForKind enumerates every API group (preferred version only when
// preferPreferred is true, every version otherwise), then the legacy core
// group, and returns every {group, version} pair whose resource list
// contains kind, in discovery order.
func (r *Resolver) ForKind(kind string, preferPreferred bool) ([]GroupVersion, error) {
	resourceLists, err := r.serverGroupsAndResources()
	if err != nil {
		return nil, fmt.Errorf("discover server resources: %w", err)
	}

	seen := map[schema.GroupVersion]bool{}
	var matches, coreMatches []GroupVersion
	for _, list := range resourceLists {
		gv, err := schema.ParseGroupVersion(list.GroupVersion)
		if err != nil {
			continue
		}
		if preferPreferred && !r.isPreferredOrOnly(gv) {
			continue
		}
		if seen[gv] {
			continue
		}
		for _, res := range list.APIResources {
			if res.Kind == kind {
				match := GroupVersion{Group: gv.Group, Version: gv.Version}
				if gv.Group == "" {
					coreMatches = append(coreMatches, match)
				} else {
					matches = append(matches, match)
				}
				seen[gv] = true
				break
			}
		}
	}
	return append(matches, coreMatches...), nil
}

// ResourceForKind resolves the plural resource name for kind within a
// specific, already-known group/version. Used by the capability client
// (script.NewCapability) when a helper call omits `plural`.
func (r *Resolver) ResourceForKind(group, version, kind string) (string, error) {
	gv := schema.GroupVersion{Group: group, Version: version}.String()
	list, err := r.client.ServerResourcesForGroupVersion(gv)
	if err != nil {
		return "", fmt.Errorf("list resources for %s: %w", gv, err)
	}
	for _, res := range list.APIResources {
		if res.Kind == kind {
			return res.Name, nil
		}
	}
	return "", fmt.Errorf("kind %s not found in %s", kind, gv)
}

// isPreferredOrOnly reports whether gv is the preferred version of its
// group, or the group carries no preferred version at all (in which case
// the first discovered version stands in).
func (r *Resolver) isPreferredOrOnly(gv schema.GroupVersion) bool {
	groups, err := r.client.ServerGroups()
	if err != nil {
		return true
	}
	for _, g := range groups.Groups {
		if g.Name != gv.Group {
			continue
		}
		if g.PreferredVersion.Version != "" {
			return g.PreferredVersion.Version == gv.Version
		}
		return len(g.Versions) > 0 && g.Versions[0].Version == gv.Version
	}
	return true
}

func (r *Resolver) serverGroupsAndResources() ([]*metav1.APIResourceList, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache != nil && time.Since(r.cache.fetchedAt) < cacheTTL {
		return r.cache.resources, nil
	}

	_, resourceLists, err := r.client.ServerGroupsAndResources()
	// ServerGroupsAndResources returns a partial result alongside a
	// non-nil error when a single group/version is unreachable; that is
	// still useful for resolution, so only bail on a totally empty result.
	if err != nil && len(resourceLists) == 0 {
		return nil, err
	}

	r.cache = &cacheEntry{resources: resourceLists, fetchedAt: time.Now()}
	return resourceLists, nil
}
