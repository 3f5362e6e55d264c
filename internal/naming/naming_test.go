package naming

import "testing"

func TestPluralize(t *testing.T) {
	cases := map[string]string{
		"Pod":       "pods",
		"Class":     "classes",
		"Proxy":     "proxies",
		"DaemonSet": "daemonsets",
		"Quota":     "quotas",
	}

	for kind, want := range cases {
		if got := Pluralize(kind); got != want {
			t.Errorf("Pluralize(%q) = %q, want %q", kind, got, want)
		}
	}
}
