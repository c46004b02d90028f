package planning

import (
	"fmt"
	"strings"

	"github.com/coreflux-ai/agentrouter/internal/apperrors"
)

// detectCycle checks for a circular dependency among subtasks using
// Kahn's algorithm: nodes with zero remaining in-degree are peeled off
// one layer at a time, and if any nodes are left over once the queue
// drains, those nodes are on (or feed) a cycle.
func detectCycle(subtasks []SubTask) error {
	if len(subtasks) == 0 {
		return nil
	}

	inDegree := make(map[string]int, len(subtasks))
	graph := make(map[string][]string, len(subtasks)) // task -> tasks that depend on it
	all := make(map[string]bool, len(subtasks))

	for _, st := range subtasks {
		all[st.ID] = true
		inDegree[st.ID] = 0
	}
	for _, st := range subtasks {
		for _, dep := range st.Dependencies {
			if dep == st.ID || !all[dep] {
				continue
			}
			graph[dep] = append(graph[dep], st.ID)
			inDegree[st.ID]++
		}
	}

	queue := make([]string, 0, len(subtasks))
	for node, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, node)
		}
	}

	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++

		for _, dependent := range graph[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if processed == len(all) {
		return nil
	}

	var remaining []string
	for node, degree := range inDegree {
		if degree > 0 {
			remaining = append(remaining, node)
		}
	}
	path := findCyclePath(graph, remaining)
	return apperrors.New(apperrors.CycleDetected,
		fmt.Sprintf("circular dependency detected: %s", strings.Join(path, " -> ")), nil)
}

// findCyclePath does a best-effort DFS to report an actual cycle path for
// the error message; if it can't isolate one exactly it returns the raw
// set of nodes still stuck with nonzero in-degree.
func findCyclePath(graph map[string][]string, stuck []string) []string {
	if len(stuck) == 0 {
		return nil
	}
	stuckSet := make(map[string]bool, len(stuck))
	for _, n := range stuck {
		stuckSet[n] = true
	}

	var dfs func(node string, path []string, visited map[string]bool) []string
	dfs = func(node string, path []string, visited map[string]bool) []string {
		if visited[node] {
			for i, n := range path {
				if n == node {
					return append(append([]string{}, path[i:]...), node)
				}
			}
			return nil
		}
		if !stuckSet[node] {
			return nil
		}
		visited[node] = true
		path = append(path, node)
		for _, next := range graph[node] {
			if stuckSet[next] {
				if result := dfs(next, path, visited); result != nil {
					return result
				}
			}
		}
		return nil
	}

	for _, start := range stuck {
		if result := dfs(start, nil, map[string]bool{}); result != nil && len(result) > 1 {
			return result
		}
	}
	return stuck
}
