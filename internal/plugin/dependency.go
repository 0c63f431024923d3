package plugin

import pkgplugin "github.com/goatkit/pluginhost/pkg/plugin"

// Waves groups manifests into parallel-loadable batches by Requires,
// using Kahn's algorithm: each wave contains every plugin whose
// dependencies were all satisfied by a prior wave. Plugins on or
// downstream of a dependency cycle, or depending on a name that isn't
// present at all, are reported in failed rather than included in any
// wave.
func Waves(manifests []*pkgplugin.Manifest) (waves [][]*pkgplugin.Manifest, failed map[string]error) {
	byName := make(map[string]*pkgplugin.Manifest, len(manifests))
	for _, m := range manifests {
		byName[m.Name] = m
	}

	failed = make(map[string]error)
	indegree := make(map[string]int, len(manifests))
	dependents := make(map[string][]string)

	for _, m := range manifests {
		for _, dep := range m.Requires {
			if _, ok := byName[dep]; !ok {
				failed[m.Name] = newError(ErrDependency, m.Name, "requires unknown plugin "+dep, nil)
				continue
			}
			indegree[m.Name]++
			dependents[dep] = append(dependents[dep], m.Name)
		}
	}

	var frontier []string
	for _, m := range manifests {
		if _, bad := failed[m.Name]; bad {
			continue
		}
		if indegree[m.Name] == 0 {
			frontier = append(frontier, m.Name)
		}
	}

	resolved := make(map[string]bool, len(manifests))
	for len(frontier) > 0 {
		wave := make([]*pkgplugin.Manifest, 0, len(frontier))
		var next []string
		for _, name := range frontier {
			wave = append(wave, byName[name])
			resolved[name] = true
			for _, child := range dependents[name] {
				indegree[child]--
				if indegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		waves = append(waves, wave)
		frontier = next
	}

	for _, m := range manifests {
		if resolved[m.Name] || failed[m.Name] != nil {
			continue
		}
		failed[m.Name] = newError(ErrDependency, m.Name, "part of a dependency cycle", nil)
	}
	propagateCycleFailures(manifests, dependents, failed)

	return waves, failed
}

// propagateCycleFailures marks every transitive dependent of a cycle
// member as failed too, since it can never be satisfied.
func propagateCycleFailures(manifests []*pkgplugin.Manifest, dependents map[string][]string, failed map[string]error) {
	queue := make([]string, 0, len(failed))
	for name := range failed {
		queue = append(queue, name)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, child := range dependents[name] {
			if _, already := failed[child]; already {
				continue
			}
			failed[child] = newError(ErrDependency, child, "depends on failed plugin "+name, nil)
			queue = append(queue, child)
		}
	}
}
